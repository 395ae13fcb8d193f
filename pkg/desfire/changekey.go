package desfire

import "bytes"

// insChangeKey is MFDES_CHANGE_KEY.
const insChangeKey byte = 0xC4

// ChangeKeyParams describes a ChangeKey invocation. NewKeyVersion
// is only meaningful for AES keys; pass 0 for DES-family keys. OldKey is
// required only when NewKeyNum differs from the authenticated key slot.
type ChangeKeyParams struct {
	NewKeyNum     byte
	NewKeyType    KeyType
	NewKey        []byte
	NewKeyVersion byte
	OldKey        []byte
	ChangeMaster  bool // NewKeyNum is the application's master key slot
}

// masterKeyAlgoTag packs the new key's algorithm into the top two bits of
// the key-number byte, the mechanism by which a master key slot switches
// crypto algorithm at card level.
func masterKeyAlgoTag(kt KeyType) byte {
	return (byte(kt) & 0x03) << 6
}

// wireKeyBytes normalises a raw key to its DES-family wire length: a
// single DES key is expanded to 2TDEA length by repeating its 8 bytes,
// matching the crypto façade's DES<->2TDEA normalisation.
func wireKeyBytes(kt KeyType, key []byte) []byte {
	if kt == KeyDES {
		return concat(key, key)
	}
	return append([]byte{}, key...)
}

// ChangeKey builds and sends the ChangeKey command, the one command with
// non-trivial payload construction: the key-number byte (tagged
// with the new algorithm when switching a master key), the new key
// material XORed against the old key when changing a slot other than the
// one currently authenticated, an AES version byte, and a checksum
// covering INS||key-number-byte||payload-so-far — CRC16 on d40, CRC32 on
// EV1 and EV2 alike — doubled so the PICC can verify the new key
// material a second time when an XOR was applied.
//
// Unlike every other command, ChangeKey's encryption is unconditional: it
// ignores ctx.CommMode and always encrypts, because the key material must
// never cross the air interface in the clear.
func (ctx *DesfireContext) ChangeKey(p ChangeKeyParams) error {
	if ctx.secureChannel == ChannelNone {
		return newErr(ErrInvalidArgument, "ChangeKey requires an authenticated session")
	}
	changingOther := p.NewKeyNum != ctx.KeyNum
	if changingOther && len(p.OldKey) == 0 {
		return newErr(ErrInvalidArgument, "OldKey is required when changing a different key slot")
	}

	keyNoByte := p.NewKeyNum & 0x3F
	if p.ChangeMaster {
		keyNoByte |= masterKeyAlgoTag(p.NewKeyType)
	}

	newWire := wireKeyBytes(p.NewKeyType, p.NewKey)

	var cdata []byte
	if changingOther {
		oldWire := wireKeyBytes(p.NewKeyType, p.OldKey)
		if len(oldWire) != len(newWire) {
			return newErr(ErrInvalidArgument, "old/new key length mismatch for ChangeKey XOR")
		}
		cdata = make([]byte, len(newWire))
		xorInto(cdata, newWire, oldWire)
	} else {
		cdata = append([]byte{}, newWire...)
	}

	if p.NewKeyType == KeyAES {
		cdata = append(cdata, p.NewKeyVersion)
	}

	switch ctx.secureChannel {
	case ChannelD40:
		cdata = appendCRC16LE(cdata, concat([]byte{insChangeKey, keyNoByte}, cdata))
		if changingOther {
			cdata = appendCRC16LE(cdata, newWire)
		}
	case ChannelEV1, ChannelEV2:
		cdata = appendCRC32LE(cdata, concat([]byte{insChangeKey, keyNoByte}, cdata))
		if changingOther {
			cdata = appendCRC32LE(cdata, newWire)
		}
	}

	wire, err := ctx.changeKeyEncrypt(keyNoByte, cdata)
	if err != nil {
		return err
	}

	status, resp, err := ctx.desfireExchangeRaw(insChangeKey, wire, ExchangeOptions{EnableChaining: true})
	if err == nil && changingOther {
		err = ctx.changeKeyVerifyResponse(status, resp)
	}

	if !changingOther {
		// Self key-change invalidates the session regardless of outcome
		// reported by the card; the old session key is no longer
		// valid to talk to the card with.
		ctx.DesfireClearSession()
	}
	if err != nil {
		return err
	}
	return nil
}

// changeKeyEncrypt pads and encrypts cdata under the current session,
// updating the running IV for d40/EV1 and appending an EV2 MAC8 trailer,
// the same Encrypted-mode wrap secureChannelEncode applies, minus the
// CRC step already folded into cdata by the caller.
func (ctx *DesfireContext) changeKeyEncrypt(keyNoByte byte, cdata []byte) ([]byte, error) {
	switch ctx.secureChannel {
	case ChannelD40, ChannelEV1:
		bs := KeyBlockSize(ctx.KeyType)
		padded := padISO9797M2(cdata, bs)
		enc, err := cbcEncrypt(ctx.KeyType, ctx.SessionKeyEnc(), ctx.iv[:bs], padded)
		if err != nil {
			return nil, err
		}
		copy(ctx.iv[:bs], enc[len(enc)-bs:])
		return concat([]byte{keyNoByte}, enc), nil
	case ChannelEV2:
		padded := padISO9797M2(cdata, ivLen)
		ivc, err := ctx.ev2CommandIV()
		if err != nil {
			return nil, err
		}
		enc, err := cbcEncrypt(KeyAES, ctx.SessionKeyEnc(), ivc, padded)
		if err != nil {
			return nil, err
		}
		header := []byte{keyNoByte}
		mac, err := cmacTruncated(KeyAES, ctx.SessionKeyMAC(), ctx.ev2MACInput(insChangeKey, concat(header, enc)))
		if err != nil {
			return nil, err
		}
		return concat(concat(header, enc), mac), nil
	default:
		return nil, newErr(ErrInvalidArgument, "unknown secure channel")
	}
}

// changeKeyVerifyResponse checks the status-only response when changing a
// key slot other than the authenticated one (the session, and therefore
// its MAC, survives the call). Self key-changes invalidate the session
// before any response can be authenticated, so the card's OPERATION_OK is
// trusted on faith there.
func (ctx *DesfireContext) changeKeyVerifyResponse(status Status, resp []byte) error {
	if !status.IsSuccessLike() {
		return apduFail("ChangeKey failed", status)
	}
	if ctx.secureChannel != ChannelEV2 {
		return nil
	}
	statusByte := byte(status & 0xFF)
	const macLen = 8
	if len(resp) < macLen {
		return newErr(ErrIntegrity, "ChangeKey response too short for MAC")
	}
	data, mac := resp[:len(resp)-macLen], resp[len(resp)-macLen:]
	want, err := cmacTruncated(KeyAES, ctx.SessionKeyMAC(), ctx.ev2ResponseMACInput(statusByte, data))
	if err != nil {
		return err
	}
	if !bytes.Equal(mac, want) {
		return newErr(ErrIntegrity, "ChangeKey response MAC mismatch")
	}
	ctx.cmdCtr++
	return nil
}

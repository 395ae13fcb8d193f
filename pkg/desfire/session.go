package desfire

import "bytes"

// secureChannelEncode wraps a command's cleartext header and body
// according to the per-(channel, comm_mode) wrap table, producing the
// flat wire payload the exchange engine chains out. `header` is never
// protected by encryption (only ever covered by MAC, where applicable);
// `body` is the portion that Encrypted mode encrypts.
func (ctx *DesfireContext) secureChannelEncode(cmd byte, header, body []byte) ([]byte, error) {
	switch ctx.secureChannel {
	case ChannelNone:
		return concat(header, body), nil
	case ChannelD40:
		return ctx.d40Encode(header, body)
	case ChannelEV1:
		return ctx.ev1Encode(cmd, header, body)
	case ChannelEV2:
		return ctx.ev2Encode(cmd, header, body)
	default:
		return nil, newErr(ErrInvalidArgument, "unknown secure channel")
	}
}

// secureChannelDecode is the symmetric unwrap, applied to the fully
// reassembled response. It returns the cleartext data the caller sees.
func (ctx *DesfireContext) secureChannelDecode(cmd byte, status Status, resp []byte) ([]byte, error) {
	if !status.IsSuccessLike() {
		return nil, apduFail("unwrap: non-success status", status)
	}
	statusByte := byte(status & 0xFF)
	switch ctx.secureChannel {
	case ChannelNone:
		return resp, nil
	case ChannelD40:
		return ctx.d40Decode(resp)
	case ChannelEV1:
		return ctx.ev1Decode(statusByte, resp)
	case ChannelEV2:
		return ctx.ev2Decode(statusByte, resp)
	default:
		return nil, newErr(ErrInvalidArgument, "unknown secure channel")
	}
}

func concat(a, b []byte) []byte {
	out := make([]byte, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	return out
}

// --- d40 ---------------------------------------------------------------

// d40MAC4 computes the legacy 4-byte truncated DES-CBC-MAC used by the
// d40 channel's MAC comm-mode: CBC-MAC with a zero IV (the MAC never
// chains across commands; only the Encrypted mode's IV does), truncated
// to the final block's first 4 bytes.
func (ctx *DesfireContext) d40MAC4(data []byte) ([]byte, error) {
	bs := KeyBlockSize(ctx.KeyType)
	padded := padISO9797M2(data, bs)
	zeroIV := make([]byte, bs)
	enc, err := cbcEncrypt(ctx.KeyType, ctx.SessionKeyMAC(), zeroIV, padded)
	if err != nil {
		return nil, err
	}
	last := enc[len(enc)-bs:]
	return last[:4], nil
}

func (ctx *DesfireContext) d40Encode(header, body []byte) ([]byte, error) {
	switch ctx.CommMode {
	case CommPlain:
		return concat(header, body), nil
	case CommMAC:
		mac, err := ctx.d40MAC4(concat(header, body))
		if err != nil {
			return nil, err
		}
		return concat(concat(header, body), mac), nil
	case CommEncrypted:
		bs := KeyBlockSize(ctx.KeyType)
		withCRC := appendCRC16LE(append([]byte{}, body...), body)
		padded := padISO9797M2(withCRC, bs)
		enc, err := cbcEncrypt(ctx.KeyType, ctx.SessionKeyEnc(), ctx.iv[:bs], padded)
		if err != nil {
			return nil, err
		}
		copy(ctx.iv[:bs], enc[len(enc)-bs:])
		return concat(header, enc), nil
	default:
		return nil, newErr(ErrInvalidArgument, "unknown comm mode")
	}
}

func (ctx *DesfireContext) d40Decode(resp []byte) ([]byte, error) {
	switch ctx.CommMode {
	case CommPlain:
		return resp, nil
	case CommMAC:
		if len(resp) < 4 {
			return resp, nil
		}
		data, mac := resp[:len(resp)-4], resp[len(resp)-4:]
		want, err := ctx.d40MAC4(data)
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(mac, want) {
			return nil, newErr(ErrIntegrity, "d40 MAC mismatch")
		}
		return data, nil
	case CommEncrypted:
		bs := KeyBlockSize(ctx.KeyType)
		if len(resp)%bs != 0 || len(resp) == 0 {
			return nil, newErr(ErrIntegrity, "d40 encrypted response is not block-aligned")
		}
		dec, err := cbcDecrypt(ctx.KeyType, ctx.SessionKeyEnc(), ctx.iv[:bs], resp)
		if err != nil {
			return nil, err
		}
		copy(ctx.iv[:bs], resp[len(resp)-bs:])
		unpadded, err := unpadISO9797M2(dec)
		if err != nil {
			return nil, newErr(ErrIntegrity, "d40 padding invalid")
		}
		if len(unpadded) < 2 {
			return nil, newErr(ErrIntegrity, "d40 decrypted response too short for CRC16")
		}
		data, crc := unpadded[:len(unpadded)-2], unpadded[len(unpadded)-2:]
		want := CRC16A(data)
		if crc[0] != byte(want) || crc[1] != byte(want>>8) {
			return nil, newErr(ErrIntegrity, "d40 CRC16 mismatch")
		}
		return data, nil
	default:
		return nil, newErr(ErrInvalidArgument, "unknown comm mode")
	}
}

// --- EV1 -----------------------------------------------------------------

func (ctx *DesfireContext) ev1Encode(cmd byte, header, body []byte) ([]byte, error) {
	cmacInput := concat([]byte{cmd}, concat(header, body))
	switch ctx.CommMode {
	case CommPlain:
		if _, err := cmacTruncated(ctx.KeyType, ctx.SessionKeyMAC(), cmacInput); err != nil {
			return nil, err
		}
		return concat(header, body), nil
	case CommMAC:
		mac, err := cmacTruncated(ctx.KeyType, ctx.SessionKeyMAC(), cmacInput)
		if err != nil {
			return nil, err
		}
		return concat(concat(header, body), mac), nil
	case CommEncrypted:
		bs := KeyBlockSize(ctx.KeyType)
		withCRC := make([]byte, 0, len(body)+4)
		withCRC = append(withCRC, body...)
		withCRC = appendCRC32LE(withCRC, body)
		padded := padISO9797M2(withCRC, bs)
		enc, err := cbcEncrypt(ctx.KeyType, ctx.SessionKeyEnc(), ctx.iv[:bs], padded)
		if err != nil {
			return nil, err
		}
		copy(ctx.iv[:bs], enc[len(enc)-bs:])
		if _, err := cmacTruncated(ctx.KeyType, ctx.SessionKeyMAC(), cmacInput); err != nil {
			return nil, err
		}
		return concat(header, enc), nil
	default:
		return nil, newErr(ErrInvalidArgument, "unknown comm mode")
	}
}

func (ctx *DesfireContext) ev1Decode(statusByte byte, resp []byte) ([]byte, error) {
	switch ctx.CommMode {
	case CommPlain:
		return resp, nil
	case CommMAC:
		macLen := cmacTruncatedLen(ctx.KeyType)
		if len(resp) < macLen {
			return resp, nil
		}
		data, mac := resp[:len(resp)-macLen], resp[len(resp)-macLen:]
		want, err := cmacTruncated(ctx.KeyType, ctx.SessionKeyMAC(), concat([]byte{statusByte}, data))
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(mac, want) {
			return nil, newErr(ErrIntegrity, "EV1 MAC mismatch")
		}
		return data, nil
	case CommEncrypted:
		bs := KeyBlockSize(ctx.KeyType)
		if len(resp)%bs != 0 || len(resp) == 0 {
			return nil, newErr(ErrIntegrity, "EV1 encrypted response is not block-aligned")
		}
		dec, err := cbcDecrypt(ctx.KeyType, ctx.SessionKeyEnc(), ctx.iv[:bs], resp)
		if err != nil {
			return nil, err
		}
		copy(ctx.iv[:bs], resp[len(resp)-bs:])
		unpadded, err := unpadISO9797M2(dec)
		if err != nil {
			return nil, newErr(ErrIntegrity, "EV1 padding invalid")
		}
		if len(unpadded) < 4 {
			return nil, newErr(ErrIntegrity, "EV1 decrypted response too short for CRC32")
		}
		data, crc := unpadded[:len(unpadded)-4], unpadded[len(unpadded)-4:]
		want := CRC32DESFire(data)
		if crc[0] != byte(want) || crc[1] != byte(want>>8) || crc[2] != byte(want>>16) || crc[3] != byte(want>>24) {
			return nil, newErr(ErrIntegrity, "EV1 CRC32 mismatch")
		}
		return data, nil
	default:
		return nil, newErr(ErrInvalidArgument, "unknown comm mode")
	}
}

// cmacTruncatedLen reports the truncated-CMAC length for kt without
// requiring a key, used only to size response MAC trailers: a DES/3DES
// CMAC is not truncated (8 bytes), an AES CMAC is truncated to 8 of 16.
func cmacTruncatedLen(kt KeyType) int {
	bs := KeyBlockSize(kt)
	if bs == 8 {
		return 8
	}
	return bs / 2
}

// --- EV2 -----------------------------------------------------------------

// ev2CommandIV derives IV_C = AES_ECB(session_key_enc, 0xA5 0x5A || TI ||
// LE16(cmd_cntr) || 0x00...), the command-direction session IV.
func (ctx *DesfireContext) ev2CommandIV() ([]byte, error) {
	in := make([]byte, ivLen)
	in[0], in[1] = 0xA5, 0x5A
	copy(in[2:6], ctx.ti[:])
	in[6] = byte(ctx.cmdCtr)
	in[7] = byte(ctx.cmdCtr >> 8)
	return ecbEncryptBlocks(KeyAES, ctx.SessionKeyEnc(), in)
}

// ev2ResponseIV derives IV_R with the 0x5A 0xA5 prefix and cmd_cntr+1,
// the response-direction session IV.
func (ctx *DesfireContext) ev2ResponseIV() ([]byte, error) {
	in := make([]byte, ivLen)
	in[0], in[1] = 0x5A, 0xA5
	copy(in[2:6], ctx.ti[:])
	next := ctx.cmdCtr + 1
	in[6] = byte(next)
	in[7] = byte(next >> 8)
	return ecbEncryptBlocks(KeyAES, ctx.SessionKeyEnc(), in)
}

func (ctx *DesfireContext) ev2MACInput(cmd byte, rest []byte) []byte {
	out := make([]byte, 0, 1+2+tiLen+len(rest))
	out = append(out, cmd)
	out = append(out, byte(ctx.cmdCtr), byte(ctx.cmdCtr>>8))
	out = append(out, ctx.ti[:]...)
	out = append(out, rest...)
	return out
}

func (ctx *DesfireContext) ev2Encode(cmd byte, header, body []byte) ([]byte, error) {
	switch ctx.CommMode {
	case CommPlain:
		mac, err := cmacTruncated(KeyAES, ctx.SessionKeyMAC(), ctx.ev2MACInput(cmd, concat(header, body)))
		if err != nil {
			return nil, err
		}
		return concat(concat(header, body), mac), nil
	case CommMAC:
		mac, err := cmacTruncated(KeyAES, ctx.SessionKeyMAC(), ctx.ev2MACInput(cmd, concat(header, body)))
		if err != nil {
			return nil, err
		}
		return concat(concat(header, body), mac), nil
	case CommEncrypted:
		var enc []byte
		if len(body) > 0 {
			withCRC := make([]byte, 0, len(body)+4)
			withCRC = append(withCRC, body...)
			withCRC = appendCRC32LE(withCRC, concat(header, body))
			padded := padISO9797M2(withCRC, ivLen)
			ivc, err := ctx.ev2CommandIV()
			if err != nil {
				return nil, err
			}
			enc, err = cbcEncrypt(KeyAES, ctx.SessionKeyEnc(), ivc, padded)
			if err != nil {
				return nil, err
			}
		}
		mac, err := cmacTruncated(KeyAES, ctx.SessionKeyMAC(), ctx.ev2MACInput(cmd, concat(header, enc)))
		if err != nil {
			return nil, err
		}
		return concat(concat(header, enc), mac), nil
	default:
		return nil, newErr(ErrInvalidArgument, "unknown comm mode")
	}
}

func (ctx *DesfireContext) ev2Decode(statusByte byte, resp []byte) ([]byte, error) {
	const macLen = 8
	advanceCtr := func() { ctx.cmdCtr++ }

	switch ctx.CommMode {
	case CommPlain, CommMAC:
		if len(resp) < macLen {
			return nil, newErr(ErrIntegrity, "EV2 response too short for MAC")
		}
		data, mac := resp[:len(resp)-macLen], resp[len(resp)-macLen:]
		want, err := cmacTruncated(KeyAES, ctx.SessionKeyMAC(), ctx.ev2ResponseMACInput(statusByte, data))
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(mac, want) {
			return nil, newErr(ErrIntegrity, "EV2 MAC mismatch")
		}
		advanceCtr()
		return data, nil
	case CommEncrypted:
		if len(resp) < macLen {
			return nil, newErr(ErrIntegrity, "EV2 response too short for MAC")
		}
		encData, mac := resp[:len(resp)-macLen], resp[len(resp)-macLen:]
		want, err := cmacTruncated(KeyAES, ctx.SessionKeyMAC(), ctx.ev2ResponseMACInput(statusByte, encData))
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(mac, want) {
			return nil, newErr(ErrIntegrity, "EV2 MAC mismatch")
		}
		var data []byte
		if len(encData) > 0 {
			ivr, err := ctx.ev2ResponseIV()
			if err != nil {
				return nil, err
			}
			dec, err := cbcDecrypt(KeyAES, ctx.SessionKeyEnc(), ivr, encData)
			if err != nil {
				return nil, err
			}
			unpadded, err := unpadISO9797M2(dec)
			if err != nil {
				return nil, newErr(ErrIntegrity, "EV2 padding invalid")
			}
			if len(unpadded) < 4 {
				return nil, newErr(ErrIntegrity, "EV2 decrypted response too short for CRC32")
			}
			var crc []byte
			data, crc = unpadded[:len(unpadded)-4], unpadded[len(unpadded)-4:]
			want := CRC32DESFire(data)
			if crc[0] != byte(want) || crc[1] != byte(want>>8) || crc[2] != byte(want>>16) || crc[3] != byte(want>>24) {
				return nil, newErr(ErrIntegrity, "EV2 CRC32 mismatch")
			}
		}
		advanceCtr()
		return data, nil
	default:
		return nil, newErr(ErrInvalidArgument, "unknown comm mode")
	}
}

// ev2ResponseMACInput builds SW(1) || LE16(cmd_cntr+1) || TI || data, the
// response-direction MAC input.
func (ctx *DesfireContext) ev2ResponseMACInput(statusByte byte, data []byte) []byte {
	next := ctx.cmdCtr + 1
	out := make([]byte, 0, 1+2+tiLen+len(data))
	out = append(out, statusByte)
	out = append(out, byte(next), byte(next>>8))
	out = append(out, ctx.ti[:]...)
	out = append(out, data...)
	return out
}

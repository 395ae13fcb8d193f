package desfire

import "bytes"

// ISO 7816-4 instruction bytes used only by the ISO authenticate flow
//; these are standard ISO codes, not DESFire-specific.
const (
	isoInsGetChallenge        byte = 0x84
	isoInsExternalAuthenticate byte = 0x82
	isoInsInternalAuthenticate byte = 0x88
)

// rol8 left-rotates a byte string by one byte (ROL8 in step 4).
func rol8(b []byte) []byte {
	out := make([]byte, len(b))
	if len(b) == 0 {
		return out
	}
	copy(out, b[1:])
	out[len(out)-1] = b[0]
	return out
}

// sendPlainNoChain performs a single, unwrapped, non-chaining exchange:
// authentication frames are never wrapped, including those of EV2
// non-first authentication inside a running session, and the handshake
// needs the raw status word to
// distinguish ADDITIONAL_FRAME from OPERATION_OK.
func (ctx *DesfireContext) sendPlainNoChain(cmd byte, payload []byte) (Status, []byte, error) {
	return ctx.desfireExchangeRaw(cmd, payload, ExchangeOptions{EnableChaining: false})
}

// Authenticate is the protocol selector across all three channel
// generations. It dispatches to the ISO external/internal authenticate
// flow when the command set is ISO and the channel predates EV2 (EV2's
// AuthenticateEV2First has no ISO-wrapped form), and to the matching
// native challenge-response routine otherwise.
func (ctx *DesfireContext) Authenticate(channel SecureChannel) error {
	if ctx.CommandSet == CommandSetISO && channel != ChannelEV2 {
		return ctx.authenticateISO(channel)
	}
	switch channel {
	case ChannelD40, ChannelEV1:
		return ctx.authenticateEV1(channel)
	case ChannelEV2:
		return ctx.authenticateEV2(channel, !ctx.IsAuthenticated())
	case ChannelNone:
		ctx.DesfireClearSession()
		return nil
	default:
		return authFailure(100)
	}
}

// --- 4.E.1 legacy / EV1 ----------------------------------------------------

func (ctx *DesfireContext) authenticateEV1(channel SecureChannel) error {
	ctx.DesfireClearSession()

	key, err := ctx.effectiveKey()
	if err != nil {
		return wrapErr(ErrAuthFailure, "derive effective key", err)
	}

	var subcmd byte
	switch {
	case channel == ChannelD40:
		subcmd = insAuthenticate
	case channel == ChannelEV1 && ctx.KeyType == KeyAES:
		subcmd = insAuthenticateAES
	case channel == ChannelEV1:
		subcmd = insAuthenticateISO
	default:
		return authFailure(100)
	}

	status, resp, err := ctx.sendPlainNoChain(subcmd, []byte{ctx.KeyNum})
	if err != nil {
		return wrapErr(ErrAuthFailure, "send auth command", err)
	}
	if len(resp) == 0 {
		return authFailure(2)
	}
	if status != StatusAdditionalFrame {
		return authFailure(3)
	}

	rndLen := RandomLength(ctx.KeyType)
	if len(resp) != rndLen {
		return authFailure(4)
	}
	encRndB := resp

	zeroIV := make([]byte, KeyBlockSize(ctx.KeyType))
	var RndB []byte
	if channel == ChannelD40 {
		RndB, err = ecbDecryptBlocks(ctx.KeyType, key, encRndB)
	} else {
		RndB, err = cbcDecrypt(ctx.KeyType, key, zeroIV, encRndB)
	}
	if err != nil {
		return authFailure(5)
	}

	rotRndB := rol8(RndB)

	RndA, err := ctx.RandSource(rndLen)
	if err != nil {
		return wrapErr(ErrAuthFailure, "generate RndA", err)
	}

	tmp := concat(RndA, rotRndB)
	var both []byte
	if channel == ChannelD40 {
		both, err = legacyCBCOfDecrypt(ctx.KeyType, key, tmp)
	} else {
		both, err = cbcEncrypt(ctx.KeyType, key, zeroIV, tmp)
	}
	if err != nil {
		return authFailure(6)
	}

	status, resp, err = ctx.sendPlainNoChain(insAdditionalFrame, both)
	if err != nil {
		return wrapErr(ErrAuthFailure, "send RndA||RndB'", err)
	}
	if len(resp) == 0 {
		return authFailure(8)
	}
	if status != StatusOperationOK {
		return authFailure(9)
	}

	var gotRndA []byte
	if channel == ChannelD40 {
		gotRndA, err = ecbDecryptBlocks(ctx.KeyType, key, resp[:rndLen])
	} else {
		gotRndA, err = cbcDecrypt(ctx.KeyType, key, zeroIV, resp[:rndLen])
	}
	if err != nil {
		return authFailure(10)
	}

	if !bytes.Equal(rol8(RndA), gotRndA) {
		return authFailure(11)
	}

	sessKey, err := deriveSessionKeyEV1(ctx.KeyType, RndA, RndB)
	if err != nil {
		return wrapErr(ErrAuthFailure, "derive session key", err)
	}
	if ctx.KeyType == Key2TDEA && bytes.Equal(key[:8], key[8:16]) {
		copy(sessKey[8:16], sessKey[:8])
	}

	ctx.sessKeyLen = len(sessKey)
	copy(ctx.sessionKeyEnc[:], sessKey)
	copy(ctx.sessionKeyMAC[:], sessKey)
	ctx.secureChannel = channel
	zeroSlice(ctx.iv[:])
	zeroSlice(RndA)
	zeroSlice(RndB)
	zeroSlice(sessKey)
	return nil
}

// deriveSessionKeyEV1 implements the per-key-type concatenation formula
// of step 8.
func deriveSessionKeyEV1(kt KeyType, RndA, RndB []byte) ([]byte, error) {
	switch kt {
	case KeyDES:
		return concat(RndA[0:4], RndB[0:4]), nil
	case Key2TDEA:
		sk := concat(RndA[0:4], RndB[0:4])
		sk = concat(sk, RndA[4:8])
		sk = concat(sk, RndB[4:8])
		return sk, nil
	case Key3TDEA:
		sk := concat(RndA[0:4], RndB[0:4])
		sk = concat(sk, RndA[6:10])
		sk = concat(sk, RndB[6:10])
		sk = concat(sk, RndA[12:16])
		sk = concat(sk, RndB[12:16])
		return sk, nil
	case KeyAES:
		sk := concat(RndA[0:4], RndB[0:4])
		sk = concat(sk, RndA[12:16])
		sk = concat(sk, RndB[12:16])
		return sk, nil
	default:
		return nil, newErr(ErrInvalidArgument, "unknown key type")
	}
}

// --- 4.E.2 ISO external/internal -------------------------------------------

func isoAPDU(cla, ins, p1, p2 byte, data []byte, withLe bool) []byte {
	apdu := []byte{cla, ins, p1, p2}
	if len(data) > 0 {
		apdu = append(apdu, byte(len(data)))
		apdu = append(apdu, data...)
	}
	if withLe {
		apdu = append(apdu, 0x00)
	}
	return apdu
}

func (ctx *DesfireContext) authenticateISO(channel SecureChannel) error {
	ctx.DesfireClearSession()

	key, err := ctx.effectiveKey()
	if err != nil {
		return wrapErr(ErrAuthFailure, "derive effective key", err)
	}

	rndLen := RandomLength(ctx.KeyType)
	hostRnd, err := ctx.RandSource(rndLen)
	if err != nil {
		return wrapErr(ErrAuthFailure, "generate hostRnd", err)
	}
	hostRnd2, err := ctx.RandSource(rndLen)
	if err != nil {
		return wrapErr(ErrAuthFailure, "generate hostRnd2", err)
	}

	apdu := isoAPDU(0x00, isoInsGetChallenge, 0x00, 0x00, nil, true)
	piccRnd, sw, err := ctx.Transport.ExchangeAPDU(apdu, false)
	if err != nil || decodeISO(sw) != StatusOperationOK {
		return authFailure(301)
	}
	if len(piccRnd) != rndLen {
		return authFailure(302)
	}

	zeroIV := make([]byte, KeyBlockSize(ctx.KeyType))
	both, err := cbcEncrypt(ctx.KeyType, key, zeroIV, concat(hostRnd, piccRnd))
	if err != nil {
		return authFailure(303)
	}

	p1 := isoKeyAlgoTag(ctx.KeyType)
	p2 := ctx.KeyNum
	if ctx.appSelected {
		p2 |= 0x80
	}

	extAPDU := isoAPDU(0x00, isoInsExternalAuthenticate, p1, p2, both, false)
	_, sw, err = ctx.Transport.ExchangeAPDU(extAPDU, false)
	if err != nil || decodeISO(sw) != StatusOperationOK {
		return authFailure(304)
	}

	intAPDU := isoAPDU(0x00, isoInsInternalAuthenticate, p1, p2, hostRnd2, true)
	rndData, sw, err := ctx.Transport.ExchangeAPDU(intAPDU, false)
	if err != nil || decodeISO(sw) != StatusOperationOK {
		return authFailure(305)
	}
	if len(rndData) != rndLen*2 {
		return authFailure(306)
	}

	piccRnd2, err := cbcDecrypt(ctx.KeyType, key, zeroIV, rndData)
	if err != nil {
		return authFailure(307)
	}
	if !bytes.Equal(hostRnd2, piccRnd2[rndLen:]) {
		return authFailure(308)
	}

	sessKey, err := deriveSessionKeyEV1(ctx.KeyType, hostRnd, piccRnd2)
	if err != nil {
		return wrapErr(ErrAuthFailure, "derive session key", err)
	}

	ctx.sessKeyLen = len(sessKey)
	copy(ctx.sessionKeyEnc[:], sessKey)
	copy(ctx.sessionKeyMAC[:], sessKey)
	ctx.secureChannel = channel
	zeroSlice(ctx.iv[:])
	zeroSlice(sessKey)
	return nil
}

// --- 4.E.3 EV2 ---------------------------------------------------------------

func (ctx *DesfireContext) authenticateEV2(channel SecureChannel, firstAuth bool) error {
	if !firstAuth && !ctx.IsAuthenticated() {
		return authFailure(201)
	}
	if firstAuth {
		ctx.DesfireClearSession()
	}

	subcmd := insAuthEV2NonFirst
	cdata := []byte{ctx.KeyNum}
	if firstAuth {
		subcmd = insAuthEV2First
		cdata = []byte{ctx.KeyNum, 0x00}
	}

	status, resp, err := ctx.sendPlainNoChain(subcmd, cdata)
	if err != nil {
		return wrapErr(ErrAuthFailure, "send auth command", err)
	}
	if len(resp) == 0 {
		return authFailure(2)
	}
	if status != StatusAdditionalFrame {
		return authFailure(3)
	}
	if len(resp) != 16 {
		return authFailure(4)
	}
	encRndB := resp

	zeroIV := make([]byte, 16)
	RndB, err := cbcDecrypt(KeyAES, ctx.key(), zeroIV, encRndB)
	if err != nil {
		return authFailure(5)
	}

	rotRndB := rol8(RndB)
	RndA, err := ctx.RandSource(16)
	if err != nil {
		return wrapErr(ErrAuthFailure, "generate RndA", err)
	}

	both, err := cbcEncrypt(KeyAES, ctx.key(), zeroIV, concat(RndA, rotRndB))
	if err != nil {
		return authFailure(6)
	}

	status, resp, err = ctx.sendPlainNoChain(insAdditionalFrame, both)
	if err != nil {
		return wrapErr(ErrAuthFailure, "send RndA||RndB'", err)
	}
	if len(resp) == 0 {
		return authFailure(8)
	}
	if status != StatusOperationOK {
		return authFailure(9)
	}
	wantLen := 16
	if firstAuth {
		wantLen = 32
	}
	if len(resp) != wantLen {
		return authFailure(4)
	}

	data, err := cbcDecrypt(KeyAES, ctx.key(), zeroIV, resp)
	if err != nil {
		return authFailure(10)
	}

	wantRndA := rol8(RndA)
	var gotRndA []byte
	if firstAuth {
		gotRndA = data[4:20]
	} else {
		gotRndA = data[0:16]
	}
	if !bytes.Equal(wantRndA, gotRndA) {
		return authFailure(11)
	}

	if firstAuth {
		ctx.cmdCtr = 0
		copy(ctx.ti[:], data[0:4])
	}
	zeroSlice(ctx.iv[:])

	sv1 := ev2SessionVector(0xA5, 0x5A, RndA, RndB)
	sv2 := ev2SessionVector(0x5A, 0xA5, RndA, RndB)
	sessEnc, err := cmacFull(KeyAES, ctx.key(), sv1)
	if err != nil {
		return wrapErr(ErrAuthFailure, "derive session_key_enc", err)
	}
	sessMAC, err := cmacFull(KeyAES, ctx.key(), sv2)
	if err != nil {
		return wrapErr(ErrAuthFailure, "derive session_key_mac", err)
	}

	ctx.sessKeyLen = 16
	copy(ctx.sessionKeyEnc[:], sessEnc)
	copy(ctx.sessionKeyMAC[:], sessMAC)
	ctx.secureChannel = channel
	zeroSlice(RndA)
	zeroSlice(RndB)
	return nil
}

// ev2SessionVector builds SV1/SV2 from step 6: a fixed 6-byte
// prefix (the two discriminator bytes plus the constant 0x00 0x01 0x00
// 0x80 suffix), followed by a construction over RndA/RndB.
func ev2SessionVector(b0, b1 byte, RndA, RndB []byte) []byte {
	sv := make([]byte, 0, 22)
	sv = append(sv, b0, b1, 0x00, 0x01, 0x00, 0x80)
	sv = append(sv, RndA[0:2]...)
	xored := make([]byte, 6)
	xorInto(xored, RndA[2:8], RndB[0:6])
	sv = append(sv, xored...)
	sv = append(sv, RndB[6:16]...)
	sv = append(sv, RndA[8:16]...)
	return sv
}

package desfire

import (
	"bytes"
	"testing"
)

func authenticatedContext(t *testing.T, kt KeyType, channel SecureChannel) *DesfireContext {
	t.Helper()
	ctx, err := NewContext(&queueTransport{}, 0, kt, make([]byte, RawKeyLength(kt)), CommandSetNative)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	sessKey := seqBytes(0x01, SessionKeyLength(kt))
	ctx.sessKeyLen = len(sessKey)
	copy(ctx.sessionKeyEnc[:], sessKey)
	copy(ctx.sessionKeyMAC[:], sessKey)
	ctx.secureChannel = channel
	if channel == ChannelEV2 {
		ctx.ti = [4]byte{0x01, 0x02, 0x03, 0x04}
	}
	return ctx
}

// TestSecureChannelEncodeDecodeRoundTripD40 checks encode/decode symmetry
// for d40: two freshly-constructed contexts in the same (zero) initial IV
// state stand in for the PCD and PICC sides, so decode sees the same IV
// the encode side started from (d40's chained-IV model continues the
// same CBC sequence across both directions of one exchange, but a
// self-contained property test needs both sides to start level).
func TestSecureChannelEncodeDecodeRoundTripD40(t *testing.T) {
	for _, mode := range []CommMode{CommPlain, CommMAC, CommEncrypted} {
		pcd := authenticatedContext(t, KeyAES, ChannelD40)
		pcd.CommMode = mode
		body := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}

		wire, err := pcd.secureChannelEncode(0xBD, nil, body)
		if err != nil {
			t.Fatalf("mode %v: encode: %v", mode, err)
		}

		picc := authenticatedContext(t, KeyAES, ChannelD40)
		picc.CommMode = mode
		got, err := picc.d40Decode(wire)
		if err != nil {
			t.Fatalf("mode %v: decode: %v", mode, err)
		}
		if !bytes.Equal(got, body) {
			t.Fatalf("mode %v: got %x, want %x", mode, got, body)
		}
	}
}

func TestSecureChannelEncodeDecodeRoundTripEV1(t *testing.T) {
	for _, mode := range []CommMode{CommPlain, CommMAC, CommEncrypted} {
		pcd := authenticatedContext(t, KeyAES, ChannelEV1)
		pcd.CommMode = mode
		body := []byte{0xAA, 0xBB, 0xCC, 0xDD}

		wire, err := pcd.secureChannelEncode(0xBD, nil, body)
		if err != nil {
			t.Fatalf("mode %v: encode: %v", mode, err)
		}

		picc := authenticatedContext(t, KeyAES, ChannelEV1)
		picc.CommMode = mode
		got, err := picc.ev1Decode(0x00, wire)
		if err != nil {
			t.Fatalf("mode %v: decode: %v", mode, err)
		}
		if !bytes.Equal(got, body) {
			t.Fatalf("mode %v: got %x, want %x", mode, got, body)
		}
	}
}

// buildEV2ResponseWire constructs a response frame exactly the way a PICC
// would under EV2: a distinct IV derivation and MAC input from the
// command direction, grounded on ev2ResponseIV/ev2ResponseMACInput.
func buildEV2ResponseWire(ctx *DesfireContext, statusByte byte, mode CommMode, data []byte) ([]byte, error) {
	switch mode {
	case CommPlain, CommMAC:
		mac, err := cmacTruncated(KeyAES, ctx.SessionKeyMAC(), ctx.ev2ResponseMACInput(statusByte, data))
		if err != nil {
			return nil, err
		}
		return concat(data, mac), nil
	case CommEncrypted:
		var enc []byte
		if len(data) > 0 {
			withCRC := appendCRC32LE(append([]byte{}, data...), data)
			padded := padISO9797M2(withCRC, ivLen)
			ivr, err := ctx.ev2ResponseIV()
			if err != nil {
				return nil, err
			}
			var encErr error
			enc, encErr = cbcEncrypt(KeyAES, ctx.SessionKeyEnc(), ivr, padded)
			if encErr != nil {
				return nil, encErr
			}
		}
		mac, err := cmacTruncated(KeyAES, ctx.SessionKeyMAC(), ctx.ev2ResponseMACInput(statusByte, enc))
		if err != nil {
			return nil, err
		}
		return concat(enc, mac), nil
	default:
		return nil, newErr(ErrInvalidArgument, "unknown comm mode")
	}
}

// TestEV2DecodeInvertsAGenuineResponse checks that ev2Decode correctly
// recovers the cleartext from a response built the way a real PICC would
// build one, and that the command counter advances exactly once.
func TestEV2DecodeInvertsAGenuineResponse(t *testing.T) {
	for _, mode := range []CommMode{CommPlain, CommMAC, CommEncrypted} {
		ctx := authenticatedContext(t, KeyAES, ChannelEV2)
		ctx.CommMode = mode
		body := []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88}

		wire, err := buildEV2ResponseWire(ctx, 0x00, mode, body)
		if err != nil {
			t.Fatalf("mode %v: build response: %v", mode, err)
		}

		before := ctx.CommandCounter()
		got, err := ctx.ev2Decode(0x00, wire)
		if err != nil {
			t.Fatalf("mode %v: decode: %v", mode, err)
		}
		if !bytes.Equal(got, body) {
			t.Fatalf("mode %v: got %x, want %x", mode, got, body)
		}
		if ctx.CommandCounter() != before+1 {
			t.Fatalf("mode %v: cmdCtr = %d, want %d", mode, ctx.CommandCounter(), before+1)
		}
	}
}

func TestEV2EncodeProducesAStructurallyDistinctCommandIV(t *testing.T) {
	ctx := authenticatedContext(t, KeyAES, ChannelEV2)
	ivc, err := ctx.ev2CommandIV()
	if err != nil {
		t.Fatalf("ev2CommandIV: %v", err)
	}
	ivr, err := ctx.ev2ResponseIV()
	if err != nil {
		t.Fatalf("ev2ResponseIV: %v", err)
	}
	if bytes.Equal(ivc, ivr) {
		t.Fatal("command and response IVs should differ (distinct direction prefix and counter offset)")
	}
}

func TestEV2DecodeRejectsBadMAC(t *testing.T) {
	ctx := authenticatedContext(t, KeyAES, ChannelEV2)
	ctx.CommMode = CommMAC
	wire, err := buildEV2ResponseWire(ctx, 0x00, CommMAC, []byte{0x01, 0x02})
	if err != nil {
		t.Fatalf("build response: %v", err)
	}
	wire[len(wire)-1] ^= 0xFF

	if _, err := ctx.ev2Decode(0x00, wire); err == nil {
		t.Fatal("expected integrity error for corrupted MAC")
	}
}

func TestD40DecodeRejectsBadMAC(t *testing.T) {
	pcd := authenticatedContext(t, KeyDES, ChannelD40)
	pcd.CommMode = CommMAC
	wire, err := pcd.secureChannelEncode(0xBD, nil, []byte{0x01, 0x02})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	wire[len(wire)-1] ^= 0xFF

	picc := authenticatedContext(t, KeyDES, ChannelD40)
	picc.CommMode = CommMAC
	if _, err := picc.d40Decode(wire); err == nil {
		t.Fatal("expected integrity error for corrupted MAC")
	}
}

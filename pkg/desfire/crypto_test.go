package desfire

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func TestKeyBlockSizeAndSessionKeyLength(t *testing.T) {
	cases := []struct {
		kt            KeyType
		blockSize     int
		sessKeyLen    int
		rawKeyLen     int
		randomLen     int
	}{
		{KeyDES, 8, 8, 8, 8},
		{Key2TDEA, 8, 16, 16, 8},
		{Key3TDEA, 8, 24, 24, 16},
		{KeyAES, 16, 16, 16, 16},
	}
	for _, c := range cases {
		if got := KeyBlockSize(c.kt); got != c.blockSize {
			t.Errorf("%v: KeyBlockSize = %d, want %d", c.kt, got, c.blockSize)
		}
		if got := SessionKeyLength(c.kt); got != c.sessKeyLen {
			t.Errorf("%v: SessionKeyLength = %d, want %d", c.kt, got, c.sessKeyLen)
		}
		if got := RawKeyLength(c.kt); got != c.rawKeyLen {
			t.Errorf("%v: RawKeyLength = %d, want %d", c.kt, got, c.rawKeyLen)
		}
		if got := RandomLength(c.kt); got != c.randomLen {
			t.Errorf("%v: RandomLength = %d, want %d", c.kt, got, c.randomLen)
		}
	}
}

func TestCBCEncryptDecryptRoundTrip(t *testing.T) {
	key := make([]byte, 16)
	iv := make([]byte, 16)
	data := []byte("0123456789ABCDEF")

	enc, err := cbcEncrypt(KeyAES, key, iv, data)
	if err != nil {
		t.Fatalf("cbcEncrypt: %v", err)
	}
	dec, err := cbcDecrypt(KeyAES, key, iv, enc)
	if err != nil {
		t.Fatalf("cbcDecrypt: %v", err)
	}
	if !bytes.Equal(dec, data) {
		t.Fatalf("round trip mismatch: got %x, want %x", dec, data)
	}
}

func TestECBEncryptDecryptRoundTrip3TDEA(t *testing.T) {
	key := make([]byte, 24)
	for i := range key {
		key[i] = byte(i)
	}
	data := make([]byte, 16) // two 8-byte DES blocks
	for i := range data {
		data[i] = byte(i * 3)
	}

	enc, err := ecbEncryptBlocks(Key3TDEA, key, data)
	if err != nil {
		t.Fatalf("ecbEncryptBlocks: %v", err)
	}
	dec, err := ecbDecryptBlocks(Key3TDEA, key, enc)
	if err != nil {
		t.Fatalf("ecbDecryptBlocks: %v", err)
	}
	if !bytes.Equal(dec, data) {
		t.Fatalf("round trip mismatch: got %x, want %x", dec, data)
	}
}

// TestCMACFullAgainstNISTVector checks cmacFull against the AES-128 CMAC
// empty-message test vector from NIST SP 800-38B Appendix D.
func TestCMACFullAgainstNISTVector(t *testing.T) {
	key, _ := hex.DecodeString("2b7e151628aed2a6abf7158809cf4f3c")
	want, _ := hex.DecodeString("bb1d6929e95937287fa37d129b756746")

	got, err := cmacFull(KeyAES, key, nil)
	if err != nil {
		t.Fatalf("cmacFull: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("cmacFull(empty) = %x, want %x", got, want)
	}
}

// TestCMACFullAgainstNISTVector16Bytes checks the one-block (16-byte)
// message vector from the same NIST appendix.
func TestCMACFullAgainstNISTVector16Bytes(t *testing.T) {
	key, _ := hex.DecodeString("2b7e151628aed2a6abf7158809cf4f3c")
	msg, _ := hex.DecodeString("6bc1bee22e409f96e93d7e117393172a")
	want, _ := hex.DecodeString("070a16b46b4d4144f79bdd9dd04a287c")

	got, err := cmacFull(KeyAES, key, msg)
	if err != nil {
		t.Fatalf("cmacFull: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("cmacFull(block1) = %x, want %x", got, want)
	}
}

func TestCMACTruncatedLengths(t *testing.T) {
	aesKey := make([]byte, 16)
	out, err := cmacTruncated(KeyAES, aesKey, []byte("message"))
	if err != nil {
		t.Fatalf("cmacTruncated AES: %v", err)
	}
	if len(out) != 8 {
		t.Fatalf("AES truncated CMAC length = %d, want 8", len(out))
	}

	desKey := make([]byte, 24)
	out, err = cmacTruncated(Key3TDEA, desKey, []byte("message2"))
	if err != nil {
		t.Fatalf("cmacTruncated 3TDEA: %v", err)
	}
	if len(out) != 8 {
		t.Fatalf("3TDEA CMAC length = %d, want 8 (untruncated)", len(out))
	}
}

func TestPadUnpadISO9797M2RoundTrip(t *testing.T) {
	for _, data := range [][]byte{
		nil,
		{0x01},
		bytes.Repeat([]byte{0xAB}, 7),
		bytes.Repeat([]byte{0xCD}, 16),
		bytes.Repeat([]byte{0xEF}, 17),
	} {
		padded := padISO9797M2(data, 8)
		if len(padded)%8 != 0 {
			t.Fatalf("padded length %d not a multiple of 8 for input len %d", len(padded), len(data))
		}
		unpadded, err := unpadISO9797M2(padded)
		if err != nil {
			t.Fatalf("unpadISO9797M2: %v", err)
		}
		if !bytes.Equal(unpadded, data) && !(len(data) == 0 && len(unpadded) == 0) {
			t.Fatalf("round trip mismatch: got %x, want %x", unpadded, data)
		}
	}
}

func TestUnpadISO9797M2RejectsMissingMarker(t *testing.T) {
	_, err := unpadISO9797M2([]byte{0x00, 0x00, 0x00, 0x00})
	if err == nil {
		t.Fatal("expected error for all-zero input with no 0x80 marker")
	}
}

func TestKdfAN10922IsDeterministicAndInputSensitive(t *testing.T) {
	key := make([]byte, 16)
	out1, err := kdfAN10922(KeyAES, key, []byte{0x01, 0x02, 0x03})
	if err != nil {
		t.Fatalf("kdfAN10922: %v", err)
	}
	out2, err := kdfAN10922(KeyAES, key, []byte{0x01, 0x02, 0x03})
	if err != nil {
		t.Fatalf("kdfAN10922: %v", err)
	}
	if !bytes.Equal(out1, out2) {
		t.Fatalf("kdfAN10922 not deterministic: %x vs %x", out1, out2)
	}
	if len(out1) != RawKeyLength(KeyAES) {
		t.Fatalf("kdfAN10922 output length = %d, want %d", len(out1), RawKeyLength(KeyAES))
	}

	out3, err := kdfAN10922(KeyAES, key, []byte{0x01, 0x02, 0x04})
	if err != nil {
		t.Fatalf("kdfAN10922: %v", err)
	}
	if bytes.Equal(out1, out3) {
		t.Fatal("kdfAN10922 produced identical output for different diversification input")
	}
}

func TestKdfAN10922Produces24ByteKeyFor3TDEA(t *testing.T) {
	key := make([]byte, 24)
	out, err := kdfAN10922(Key3TDEA, key, []byte{0xAA})
	if err != nil {
		t.Fatalf("kdfAN10922: %v", err)
	}
	if len(out) != 24 {
		t.Fatalf("kdfAN10922(3TDEA) length = %d, want 24", len(out))
	}
}

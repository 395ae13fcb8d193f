package desfire

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"errors"
	"fmt"
)

// KeyType is the tagged variant over the four key algorithms DESFire
// supports, in place of a raw algorithm byte, so the rest of the package
// can switch on a small closed set exhaustively.
type KeyType int

const (
	KeyDES KeyType = iota
	Key2TDEA
	Key3TDEA
	KeyAES
)

func (k KeyType) String() string {
	switch k {
	case KeyDES:
		return "DES"
	case Key2TDEA:
		return "2TDEA"
	case Key3TDEA:
		return "3TDEA"
	case KeyAES:
		return "AES"
	default:
		return "unknown"
	}
}

// KeyBlockSize returns the underlying block cipher's block size in
// bytes: every DES-family variant (DES, 2TDEA, 3TDEA) operates on 8-byte
// DES blocks regardless of key length; only AES uses 16-byte blocks.
// This is distinct from RandomLength and SessionKeyLength, which report
// 16 and 24 bytes respectively for 3TDEA.
func KeyBlockSize(kt KeyType) int {
	switch kt {
	case KeyDES, Key2TDEA, Key3TDEA:
		return 8
	case KeyAES:
		return 16
	default:
		return 0
	}
}

// SessionKeyLength returns the length of the derived session key: 8 for
// DES, 16 for 2TDEA/AES, 24 for 3TDEA.
func SessionKeyLength(kt KeyType) int {
	switch kt {
	case KeyDES:
		return 8
	case Key2TDEA, KeyAES:
		return 16
	case Key3TDEA:
		return 24
	default:
		return 0
	}
}

// RawKeyLength returns the expected length of raw key material supplied
// by the caller for this key type.
func RawKeyLength(kt KeyType) int {
	switch kt {
	case KeyDES:
		return 8
	case Key2TDEA, KeyAES:
		return 16
	case Key3TDEA:
		return 24
	default:
		return 0
	}
}

// RandomLength is the nonce length used during authentication: 8 bytes
// for DES/2TDEA, 16 for 3TDEA/AES.
func RandomLength(kt KeyType) int {
	if kt == KeyAES || kt == Key3TDEA {
		return 16
	}
	return 8
}

// isoKeyAlgoTag returns the ISO 7816 P1 algorithm tag used to select a
// key reference during the ISO authentication flow.
func isoKeyAlgoTag(kt KeyType) byte {
	switch kt {
	case KeyDES, Key2TDEA:
		return 0x02
	case Key3TDEA:
		return 0x04
	case KeyAES:
		return 0x09
	default:
		return 0x00
	}
}

// newBlock materialises a cipher.Block for the given key type and raw key
// bytes. A DES key (8 bytes) is expanded to a 2TDEA key by K||K before
// constructing a TripleDES block, per the DES/2TDEA normalisation rule.
func newBlock(kt KeyType, key []byte) (cipher.Block, error) {
	switch kt {
	case KeyDES:
		if len(key) != 8 {
			return nil, fmt.Errorf("DES key must be 8 bytes, got %d", len(key))
		}
		k2 := append(append([]byte{}, key...), key...)
		full := append(append([]byte{}, k2...), key...)
		return des.NewTripleDESCipher(full)
	case Key2TDEA:
		if len(key) != 16 {
			return nil, fmt.Errorf("2TDEA key must be 16 bytes, got %d", len(key))
		}
		full := append(append([]byte{}, key...), key[:8]...)
		return des.NewTripleDESCipher(full)
	case Key3TDEA:
		if len(key) != 24 {
			return nil, fmt.Errorf("3TDEA key must be 24 bytes, got %d", len(key))
		}
		return des.NewTripleDESCipher(key)
	case KeyAES:
		if len(key) != 16 {
			return nil, fmt.Errorf("AES key must be 16 bytes, got %d", len(key))
		}
		return aes.NewCipher(key)
	default:
		return nil, fmt.Errorf("unknown key type %v", kt)
	}
}

// cbcEncrypt CBC-encrypts data (must be block-aligned) under key/iv.
func cbcEncrypt(kt KeyType, key, iv, data []byte) ([]byte, error) {
	block, err := newBlock(kt, key)
	if err != nil {
		return nil, err
	}
	bs := block.BlockSize()
	if len(data)%bs != 0 {
		return nil, fmt.Errorf("cbcEncrypt: data length %d not a multiple of block size %d", len(data), bs)
	}
	out := make([]byte, len(data))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, data)
	return out, nil
}

// cbcDecrypt CBC-decrypts data (must be block-aligned) under key/iv.
func cbcDecrypt(kt KeyType, key, iv, data []byte) ([]byte, error) {
	block, err := newBlock(kt, key)
	if err != nil {
		return nil, err
	}
	bs := block.BlockSize()
	if len(data)%bs != 0 {
		return nil, fmt.Errorf("cbcDecrypt: data length %d not a multiple of block size %d", len(data), bs)
	}
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)
	return out, nil
}

// ecbEncryptBlocks encrypts data block-by-block with no chaining.
func ecbEncryptBlocks(kt KeyType, key, data []byte) ([]byte, error) {
	block, err := newBlock(kt, key)
	if err != nil {
		return nil, err
	}
	bs := block.BlockSize()
	if len(data)%bs != 0 {
		return nil, fmt.Errorf("ecbEncryptBlocks: data length %d not a multiple of block size %d", len(data), bs)
	}
	out := make([]byte, len(data))
	for off := 0; off < len(data); off += bs {
		block.Encrypt(out[off:off+bs], data[off:off+bs])
	}
	return out, nil
}

// ecbDecryptBlocks decrypts data block-by-block with no chaining.
func ecbDecryptBlocks(kt KeyType, key, data []byte) ([]byte, error) {
	block, err := newBlock(kt, key)
	if err != nil {
		return nil, err
	}
	bs := block.BlockSize()
	if len(data)%bs != 0 {
		return nil, fmt.Errorf("ecbDecryptBlocks: data length %d not a multiple of block size %d", len(data), bs)
	}
	out := make([]byte, len(data))
	for off := 0; off < len(data); off += bs {
		block.Decrypt(out[off:off+bs], data[off:off+bs])
	}
	return out, nil
}

// legacyCBCOfDecrypt implements the d40 "decrypt-then-XOR-then-decrypt"
// chaining construction used by the d40 authentication handshake: each
// plaintext block is XORed with the previous ciphertext block (starting
// from an all-zero IV) and then run through the block cipher's Decrypt
// operation, never Encrypt. This is the legacy MIFARE "receive"
// convention and must be preserved bit-exactly.
func legacyCBCOfDecrypt(kt KeyType, key, data []byte) ([]byte, error) {
	block, err := newBlock(kt, key)
	if err != nil {
		return nil, err
	}
	bs := block.BlockSize()
	if len(data)%bs != 0 {
		return nil, fmt.Errorf("legacyCBCOfDecrypt: data length %d not a multiple of block size %d", len(data), bs)
	}
	out := make([]byte, len(data))
	prev := make([]byte, bs)
	in := make([]byte, bs)
	for off := 0; off < len(data); off += bs {
		for i := 0; i < bs; i++ {
			in[i] = data[off+i] ^ prev[i]
		}
		block.Decrypt(out[off:off+bs], in)
		copy(prev, out[off:off+bs])
	}
	return out, nil
}

// leftShift1 left-shifts a byte string by one bit.
func leftShift1(dst, src []byte) {
	var carry byte
	for i := len(src) - 1; i >= 0; i-- {
		b := src[i]
		dst[i] = (b << 1) | carry
		carry = (b >> 7) & 1
	}
}

func xorInto(dst, a, b []byte) {
	for i := range dst {
		dst[i] = a[i] ^ b[i]
	}
}

// cmacSubkeys derives the two CMAC subkeys K1, K2 per NIST SP 800-38B,
// generalised over the block size of the underlying cipher (8 bytes for
// DES/3DES, 16 for AES).
func cmacSubkeys(kt KeyType, sessionKey []byte) (k1, k2 []byte, err error) {
	block, err := newBlock(kt, sessionKey)
	if err != nil {
		return nil, nil, err
	}
	bs := block.BlockSize()
	rb := byte(0x1b)
	if bs == 16 {
		rb = 0x87
	}
	zero := make([]byte, bs)
	l := make([]byte, bs)
	block.Encrypt(l, zero)

	k1 = make([]byte, bs)
	leftShift1(k1, l)
	if (l[0] & 0x80) != 0 {
		k1[bs-1] ^= rb
	}

	k2 = make([]byte, bs)
	leftShift1(k2, k1)
	if (k1[0] & 0x80) != 0 {
		k2[bs-1] ^= rb
	}
	return k1, k2, nil
}

// cmacFull computes the full (untruncated) CMAC of msg under the given
// session key and key type.
func cmacFull(kt KeyType, sessionKey, msg []byte) ([]byte, error) {
	block, err := newBlock(kt, sessionKey)
	if err != nil {
		return nil, err
	}
	bs := block.BlockSize()
	k1, k2, err := cmacSubkeys(kt, sessionKey)
	if err != nil {
		return nil, err
	}

	n := (len(msg) + bs - 1) / bs
	if n == 0 {
		n = 1
	}
	lastComplete := len(msg) != 0 && len(msg)%bs == 0

	last := make([]byte, bs)
	if lastComplete {
		copy(last, msg[(n-1)*bs:])
		xorInto(last, last, k1)
	} else {
		remain := len(msg) - (n-1)*bs
		if remain > 0 {
			copy(last, msg[(n-1)*bs:])
		}
		last[remain] = 0x80
		xorInto(last, last, k2)
	}

	x := make([]byte, bs)
	y := make([]byte, bs)
	for i := 0; i < n-1; i++ {
		start := i * bs
		xorInto(y, x, msg[start:start+bs])
		block.Encrypt(x, y)
	}
	xorInto(y, x, last)
	block.Encrypt(x, y)
	return x, nil
}

// cmacTruncated computes CMAC and truncates it to the odd-indexed bytes
// (CMAC[1], CMAC[3], ... CMAC[15]) per the DESFire EV1/EV2 MACt
// convention (8 bytes out of a 16-byte AES-CMAC); an 8-byte DES-family
// CMAC is returned whole, untruncated.
func cmacTruncated(kt KeyType, sessionKey, msg []byte) ([]byte, error) {
	full, err := cmacFull(kt, sessionKey, msg)
	if err != nil {
		return nil, err
	}
	if len(full) == 8 {
		return full, nil
	}
	out := make([]byte, len(full)/2)
	for i := range out {
		out[i] = full[1+i*2]
	}
	return out, nil
}

// padISO9797M2 appends 0x80 then zero-pads to a multiple of blockSize.
func padISO9797M2(data []byte, blockSize int) []byte {
	padLen := blockSize - (len(data) % blockSize)
	out := make([]byte, len(data)+padLen)
	copy(out, data)
	out[len(data)] = 0x80
	return out
}

func unpadISO9797M2(data []byte) ([]byte, error) {
	idx := len(data) - 1
	for idx >= 0 && data[idx] == 0x00 {
		idx--
	}
	if idx < 0 || data[idx] != 0x80 {
		return nil, errors.New("bad ISO/IEC 9797-1 padding method 2")
	}
	return data[:idx], nil
}

// kdfAN10922 derives a diversified key from a master key and up to
// 31 bytes of diversification input, per AN10922. The
// construction is CMAC(key, 0x01 || input), the message padded with
// ISO/IEC 9797-1 method 2 to a multiple of the block size when it is not
// one already. When the target key is longer than one cipher block
// (2TDEA and 3TDEA keys over 8-byte DES blocks), further CMAC
// evaluations are made with the leading byte incremented each time and
// their outputs concatenated: two blocks for 2TDEA, three for 3TDEA.
func kdfAN10922(kt KeyType, key, input []byte) ([]byte, error) {
	if len(input) > 31 {
		return nil, fmt.Errorf("kdfAN10922: input must be <= 31 bytes, got %d", len(input))
	}
	bs := KeyBlockSize(kt)
	target := RawKeyLength(kt)

	block1 := make([]byte, 0, 1+len(input))
	block1 = append(block1, 0x01)
	block1 = append(block1, input...)
	if len(block1)%bs != 0 {
		block1 = padISO9797M2(block1, bs)
	}

	out := make([]byte, 0, target)
	mac1, err := cmacFull(kt, key, block1)
	if err != nil {
		return nil, err
	}
	out = append(out, mac1[:bs]...)

	for len(out) < target {
		block1[0]++
		mac, err := cmacFull(kt, key, block1)
		if err != nil {
			return nil, err
		}
		out = append(out, mac[:bs]...)
	}
	return out[:target], nil
}

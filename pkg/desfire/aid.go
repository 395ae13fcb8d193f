package desfire

// DesfireAIDUintToByte encodes a 24-bit application identifier as the
// 3-byte little-endian wire representation.
func DesfireAIDUintToByte(aid uint32) [3]byte {
	return [3]byte{byte(aid), byte(aid >> 8), byte(aid >> 16)}
}

// DesfireAIDByteToUint decodes a 3-byte little-endian AID back to a
// uint32 in [0, 2^24).
func DesfireAIDByteToUint(b [3]byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}

// encodeLE3 encodes a value known to fit in 24 bits (offsets, lengths,
// AIDs) as 3 little-endian bytes.
func encodeLE3(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16)}
}

func decodeLE3(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}

// encodeLE4 encodes a value as 4 little-endian bytes (value-file amounts).
func encodeLE4(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func decodeLE4(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// encodeISOFileID encodes a 2-byte ISO file identifier, big-endian.
func encodeISOFileID(v uint16) []byte {
	return []byte{byte(v >> 8), byte(v)}
}

package websocket

// mask applies the WebSocket masking algorithm to b with the given 32 bit key,
// returning the key rotated as if it had continued masking past the end of b.
// https://tools.ietf.org/html/rfc6455#section-5.3
func mask(key uint32, b []byte) uint32 {
	if len(b) == 0 {
		return key
	}

	keyBytes := [4]byte{
		byte(key),
		byte(key >> 8),
		byte(key >> 16),
		byte(key >> 24),
	}

	for i := range b {
		b[i] ^= keyBytes[i&3]
	}

	// Rotate the key by len(b) % 4 bytes so subsequent calls on
	// the continuation of the same frame stay in sync.
	shift := uint(len(b)%4) * 8
	if shift == 0 {
		return key
	}
	return key>>shift | key<<(32-shift)
}

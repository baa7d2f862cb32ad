package packet

// Checksum is the additive 32-bit sum of b.
func Checksum(b []byte) uint32 {
	return Accumulate(0, b)
}

// Accumulate adds the bytes of b to sum. Overflow wraps at 32 bits.
func Accumulate(sum uint32, b []byte) uint32 {
	for _, v := range b {
		sum += uint32(v)
	}
	return sum
}

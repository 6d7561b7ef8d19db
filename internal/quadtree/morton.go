package quadtree

// Morton (Z-order) index of a quadrant position. The x coordinate occupies
// the even bits and y the odd bits, origin at the lower-left quadrant, which
// is the traversal order consumers of the availability bitstreams assume.
// Pinned for a 4x4 level by TestMortonOrder4x4.
func MortonIndex(x, y uint32) uint64 {
	return interleave(x) | interleave(y)<<1
}

// MortonPosition is the inverse of MortonIndex.
func MortonPosition(m uint64) (x, y uint32) {
	return deinterleave(m), deinterleave(m >> 1)
}

// interleave spreads the 32 bits of v over the even bits of a uint64.
func interleave(v uint32) uint64 {
	n := uint64(v)
	n = (n | n<<16) & 0x0000ffff0000ffff
	n = (n | n<<8) & 0x00ff00ff00ff00ff
	n = (n | n<<4) & 0x0f0f0f0f0f0f0f0f
	n = (n | n<<2) & 0x3333333333333333
	n = (n | n<<1) & 0x5555555555555555
	return n
}

// deinterleave collects the even bits of m into a uint32.
func deinterleave(m uint64) uint32 {
	m &= 0x5555555555555555
	m = (m | m>>1) & 0x3333333333333333
	m = (m | m>>2) & 0x0f0f0f0f0f0f0f0f
	m = (m | m>>4) & 0x00ff00ff00ff00ff
	m = (m | m>>8) & 0x0000ffff0000ffff
	m = (m | m>>16) & 0x00000000ffffffff
	return uint32(m)
}

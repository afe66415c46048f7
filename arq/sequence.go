package arq

// Sequence numbers cover the full uint32 space and wrap around, so all
// comparisons go through the modular helpers below. A window never
// spans more than half the space (MaxWindowSize), which keeps "before"
// and "after" unambiguous across the wrap.

const MaxWindowSize = 1 << 31

// seqLess reports whether a precedes b in modular order.
func seqLess(a, b uint32) bool {
	return int32(a-b) < 0
}

// seqInWindow reports whether s lies in [base, base+size) modulo 2^32.
func seqInWindow(s, base, size uint32) bool {
	return s-base < size
}

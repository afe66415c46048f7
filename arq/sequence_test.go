package arq

import "testing"

func TestSeqLess(t *testing.T) {
	cases := []struct {
		a, b uint32
		want bool
	}{
		{0, 1, true},
		{1, 0, false},
		{5, 5, false},
		{0xFFFFFFFF, 0, true},  // wrap: max precedes zero
		{0, 0xFFFFFFFF, false},
		{0xFFFFFFF0, 0x10, true},
	}
	for _, c := range cases {
		if got := seqLess(c.a, c.b); got != c.want {
			t.Errorf("seqLess(%#x, %#x) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestSeqInWindow(t *testing.T) {
	cases := []struct {
		s, base, size uint32
		want          bool
	}{
		{0, 0, 8, true},
		{7, 0, 8, true},
		{8, 0, 8, false},
		{0xFFFFFFFF, 0xFFFFFFFE, 8, true}, // window straddles the wrap
		{2, 0xFFFFFFFE, 8, true},
		{6, 0xFFFFFFFE, 8, false},
		{0xFFFFFFFD, 0xFFFFFFFE, 8, false}, // just below base
	}
	for _, c := range cases {
		if got := seqInWindow(c.s, c.base, c.size); got != c.want {
			t.Errorf("seqInWindow(%#x, %#x, %d) = %v, want %v", c.s, c.base, c.size, got, c.want)
		}
	}
}

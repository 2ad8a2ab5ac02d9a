package fixed

import (
	"errors"
	"math/bits"
)

// ErrOverflow indicates an unsigned 64-bit operation would wrap.
// Pool and balance arithmetic fails fast instead of wrapping.
var ErrOverflow = errors.New("u64 overflow")

// DivCeil divides two uint64 values and rounds up.
// The denominator must be non-zero; callers guarantee this via the
// open-contract invariant (pools are strictly positive while open).
func DivCeil(numerator, denominator uint64) uint64 {
	quot := numerator / denominator
	if numerator%denominator > 0 {
		quot++
	}
	return quot
}

// AddChecked returns a+b, or ErrOverflow if the sum wraps.
func AddChecked(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	return sum, nil
}

// MulChecked returns a*b, or ErrOverflow if the product wraps.
func MulChecked(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, ErrOverflow
	}
	return lo, nil
}

// SubChecked returns a-b, or false if b exceeds a.
// Callers translate the false case into their own error.
func SubChecked(a, b uint64) (uint64, bool) {
	if b > a {
		return 0, false
	}
	return a - b, true
}

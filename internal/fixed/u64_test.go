package fixed_test

import (
	"SwapLedger/internal/fixed"
	"errors"
	"math"
	"testing"
)

func TestDivCeil(t *testing.T) {
	cases := []struct {
		numerator   uint64
		denominator uint64
		want        uint64
	}{
		{10, 2, 5},
		{999, 66, 16},
		{15, 4, 4},
		{500000, 1100, 455},
		{1, 1, 1},
		{0, 7, 0},
		{math.MaxUint64, 1, math.MaxUint64},
	}

	for _, c := range cases {
		got := fixed.DivCeil(c.numerator, c.denominator)
		if got != c.want {
			t.Errorf("DivCeil(%d, %d) = %d, want %d", c.numerator, c.denominator, got, c.want)
		}
	}
}

func TestDivCeil_RoundsUpNeverDown(t *testing.T) {
	// Ceiling division must satisfy got*denominator >= numerator.
	for n := uint64(1); n < 200; n++ {
		for d := uint64(1); d < 20; d++ {
			got := fixed.DivCeil(n, d)
			if got*d < n {
				t.Fatalf("DivCeil(%d, %d) = %d rounds below the true quotient", n, d, got)
			}
			if (got-1)*d >= n {
				t.Fatalf("DivCeil(%d, %d) = %d rounds more than one unit up", n, d, got)
			}
		}
	}
}

func TestAddChecked(t *testing.T) {
	sum, err := fixed.AddChecked(1000, 500)
	if err != nil {
		t.Fatalf("AddChecked(1000, 500): %v", err)
	}
	if sum != 1500 {
		t.Errorf("got %d, want 1500", sum)
	}

	if _, err := fixed.AddChecked(math.MaxUint64, 1); !errors.Is(err, fixed.ErrOverflow) {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
	if _, err := fixed.AddChecked(math.MaxUint64, 0); err != nil {
		t.Errorf("MaxUint64+0 should not overflow: %v", err)
	}
}

func TestMulChecked(t *testing.T) {
	k, err := fixed.MulChecked(1000, 500)
	if err != nil {
		t.Fatalf("MulChecked(1000, 500): %v", err)
	}
	if k != 500000 {
		t.Errorf("got %d, want 500000", k)
	}

	if _, err := fixed.MulChecked(math.MaxUint64, 2); !errors.Is(err, fixed.ErrOverflow) {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
	if _, err := fixed.MulChecked(math.MaxUint64, 1); err != nil {
		t.Errorf("MaxUint64*1 should not overflow: %v", err)
	}
}

func TestSubChecked(t *testing.T) {
	if got, ok := fixed.SubChecked(45, 45); !ok || got != 0 {
		t.Errorf("SubChecked(45, 45) = %d, %v", got, ok)
	}
	if _, ok := fixed.SubChecked(45, 50); ok {
		t.Error("SubChecked(45, 50) should report underflow")
	}
}

package app

import (
	"fmt"
	"math"
	"math/bits"
)

func addU64Checked(a, b uint64, what string) (uint64, error) {
	if a > ^uint64(0)-b {
		return 0, fmt.Errorf("%s overflow: %d + %d", what, a, b)
	}
	return a + b, nil
}

func addInt64AndU64Checked(base int64, delta uint64, what string) (int64, error) {
	if delta > uint64(math.MaxInt64) {
		return 0, fmt.Errorf("%s delta overflow: %d", what, delta)
	}
	if base > math.MaxInt64-int64(delta) {
		return 0, fmt.Errorf("%s overflow: %d + %d", what, base, delta)
	}
	return base + int64(delta), nil
}

// mulDivU64 computes floor(a*b/d) with a 128-bit intermediate. d must be
// non-zero and the quotient must fit in 64 bits.
func mulDivU64(a, b, d uint64, what string) (uint64, error) {
	if d == 0 {
		return 0, fmt.Errorf("%s division by zero", what)
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= d {
		return 0, fmt.Errorf("%s quotient overflow: %d * %d / %d", what, a, b, d)
	}
	q, _ := bits.Div64(hi, lo, d)
	return q, nil
}

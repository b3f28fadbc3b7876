// Package safe provides overflow-checked int64 arithmetic.
// Overflow is a programming error in this codebase and panics.
package safe

import (
	"fmt"
	"math"
)

// SafeAdd returns a+b or panics on overflow.
func SafeAdd(a, b int64) int64 {
	c, ok := CheckedAdd(a, b)
	if !ok {
		panic(fmt.Sprintf("INT64_OVERFLOW: %d + %d", a, b))
	}
	return c
}

// CheckedAdd returns a+b and false if the sum overflows.
func CheckedAdd(a, b int64) (int64, bool) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, false
	}
	return a + b, true
}

// SaturatingAdd returns a+b clamped to the int64 range.
func SaturatingAdd(a, b int64) int64 {
	c, ok := CheckedAdd(a, b)
	switch {
	case ok:
		return c
	case b > 0:
		return math.MaxInt64
	default:
		return math.MinInt64
	}
}

// SafeSub returns a-b or panics on overflow.
func SafeSub(a, b int64) int64 {
	if (b < 0 && a > math.MaxInt64+b) || (b > 0 && a < math.MinInt64+b) {
		panic(fmt.Sprintf("INT64_OVERFLOW: %d - %d", a, b))
	}
	return a - b
}

// SafeMul returns a*b or panics on overflow.
func SafeMul(a, b int64) int64 {
	if a == 0 || b == 0 {
		return 0
	}
	c := a * b
	if c/b != a || (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		panic(fmt.Sprintf("INT64_OVERFLOW: %d * %d", a, b))
	}
	return c
}

// SafeDiv returns a/b or panics on division by zero.
func SafeDiv(a, b int64) int64 {
	if b == 0 {
		panic("INT64_DIV_BY_ZERO")
	}
	return a / b
}

package math

import "golang.org/x/exp/constraints"

// Clamp returns the value `f` clamped to the range [low, high].
// It works for any numeric type (integers and floats).
func Clamp[T constraints.Ordered](f, low, high T) T {
	if f < low {
		return low
	}
	if f > high {
		return high
	}
	return f
}

// Max returns the larger of a and b.
func Max[T constraints.Ordered](a, b T) T {
	if a > b {
		return a
	}
	return b
}

// GrowCapacity returns the capacity after one growth step: 1.5x the current
// one, and at least one more.
func GrowCapacity[T constraints.Integer](capacity T) T {
	return Max(capacity+capacity/2, capacity+1)
}

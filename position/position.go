// Package position computes ordering keys for lists and cards without
// renumbering siblings.
package position

import (
	"errors"
	"math"
)

// Baseline is the key given to the first item of an empty list.
const Baseline = 1.0

// ErrPrecisionExhausted is returned when no float64 exists strictly between
// the bounds. Siblings must be normalized before inserting there again.
var ErrPrecisionExhausted = errors.New("position: no key left between bounds")

// ErrInvalidBounds is returned when the lower bound is not below the upper one.
var ErrInvalidBounds = errors.New("position: lower bound must be below upper bound")

// Between returns a key strictly between a and b. A nil bound is open: with
// no lower bound the key is b-1, with no upper bound a+1, and with neither the
// Baseline. The result never equals either bound; when the bounds leave no room
// ErrPrecisionExhausted is returned and the siblings need normalizing.
func Between(a, b *float64) (float64, error) {
	switch {
	case a == nil && b == nil:
		return Baseline, nil
	case a == nil:
		k := *b - 1
		if !(k < *b) {
			return 0, ErrPrecisionExhausted
		}
		return k, nil
	case b == nil:
		k := *a + 1
		if !(k > *a) {
			return 0, ErrPrecisionExhausted
		}
		return k, nil
	}
	lo, hi := *a, *b
	if !(lo < hi) {
		return 0, ErrInvalidBounds
	}
	mid := lo + (hi-lo)/2
	if !(mid > lo && mid < hi) {
		return 0, ErrPrecisionExhausted
	}
	return mid, nil
}

// After returns the key for appending after the last sibling at a.
func After(a float64) (float64, error) { return Between(&a, nil) }

// Before returns the key for inserting before the first sibling at b.
func Before(b float64) (float64, error) { return Between(nil, &b) }

// Valid reports whether k can be stored as an ordering key.
func Valid(k float64) bool {
	return !math.IsNaN(k) && !math.IsInf(k, 0)
}

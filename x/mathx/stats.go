package mathx

import (
	"errors"
	"slices"

	"golang.org/x/exp/constraints"
)

// ErrEmpty is returned by the statistics helpers for a zero-length input.
var ErrEmpty = errors.New("mathx: empty input")

// Number covers the integer and float types the statistics helpers accept.
type Number interface {
	constraints.Integer | constraints.Float
}

// Mean returns the arithmetic mean of xs. The sum is accumulated in float64
// so a long run of 24-bit samples cannot overflow.
func Mean[T Number](xs []T) (float64, error) {
	if len(xs) == 0 {
		return 0, ErrEmpty
	}
	var total float64
	for _, x := range xs {
		total += float64(x)
	}
	return total / float64(len(xs)), nil
}

// Median sorts xs in place and returns its median. For an even length the
// two middle elements are averaged.
func Median[T Number](xs []T) (float64, error) {
	n := len(xs)
	if n == 0 {
		return 0, ErrEmpty
	}
	slices.Sort(xs)
	if n%2 == 0 {
		return Mean(xs[n/2-1 : n/2+1])
	}
	return float64(xs[n/2]), nil
}

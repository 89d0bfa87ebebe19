package mathx

import "testing"

func TestMean(t *testing.T) {
	type C struct {
		in   []int32
		want float64
	}
	for _, c := range []C{
		{[]int32{5}, 5},
		{[]int32{1, 2, 3, 4}, 2.5},
		{[]int32{-8388608, 8388607}, -0.5},
		{[]int32{-10, -20, -30}, -20},
	} {
		got, err := Mean(c.in)
		if err != nil {
			t.Fatalf("Mean(%v) error: %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("Mean(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestMedianOddEven(t *testing.T) {
	type C struct {
		in   []int32
		want float64
	}
	for _, c := range []C{
		{[]int32{3, 1, 2}, 2},
		{[]int32{9}, 9},
		{[]int32{4, 1, 3, 2}, 2.5},
		{[]int32{100, -100}, 0},
		{[]int32{7, 7, 1, 7, 100}, 7},
	} {
		got, err := Median(c.in)
		if err != nil {
			t.Fatalf("Median error: %v", err)
		}
		if got != c.want {
			t.Fatalf("Median = %v, want %v", got, c.want)
		}
	}
}

func TestMedianSortsInPlace(t *testing.T) {
	xs := []int32{3, 1, 2}
	if _, err := Median(xs); err != nil {
		t.Fatal(err)
	}
	if xs[0] != 1 || xs[1] != 2 || xs[2] != 3 {
		t.Fatalf("slice not sorted: %v", xs)
	}
}

func TestStatsEmpty(t *testing.T) {
	if _, err := Mean([]int32{}); err != ErrEmpty {
		t.Fatalf("Mean(empty) err = %v, want ErrEmpty", err)
	}
	if _, err := Median[int32](nil); err != ErrEmpty {
		t.Fatalf("Median(nil) err = %v, want ErrEmpty", err)
	}
}

func TestClampAndBetween(t *testing.T) {
	if got := Clamp(50, 1, 32); got != 32 {
		t.Fatalf("Clamp hi = %d", got)
	}
	if got := Clamp(0, 32, 1); got != 1 {
		t.Fatalf("Clamp swapped lo = %d", got)
	}
	if !Between(int32(0), -0x800000, 0x7fffff) {
		t.Fatal("Between should include 0")
	}
}

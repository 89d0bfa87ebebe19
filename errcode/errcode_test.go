package errcode

import (
	"errors"
	"fmt"
	"testing"
)

var errChip = errors.New("chip: stuck")

func init() {
	RegisterMapper(func(err error) (Code, bool) {
		if errors.Is(err, errChip) {
			return Busy, true
		}
		return "", false
	})
}

func TestOf(t *testing.T) {
	type C struct {
		err  error
		want Code
	}
	for _, c := range []C{
		{nil, OK},
		{Timeout, Timeout},
		{fmt.Errorf("reading: %w", NoSamples), NoSamples},
		{&E{C: InvalidGain, Op: "gain"}, InvalidGain},
		{fmt.Errorf("outer: %w", &E{C: ZeroRefUnit}), ZeroRefUnit},
		{errors.New("plain"), Error},
	} {
		if got := Of(c.err); got != c.want {
			t.Fatalf("Of(%v) = %q, want %q", c.err, got, c.want)
		}
	}
}

func TestMapDriverErr(t *testing.T) {
	if got := MapDriverErr(fmt.Errorf("x: %w", errChip)); got != Busy {
		t.Fatalf("mapped = %q, want busy", got)
	}
	if got := MapDriverErr(Timeout); got != Timeout {
		t.Fatalf("fallback = %q, want timeout", got)
	}
	if got := MapDriverErr(nil); got != OK {
		t.Fatalf("nil = %q", got)
	}
}

func TestEMessage(t *testing.T) {
	e := &E{C: InvalidUnit, Msg: "stone?"}
	if e.Error() != "invalid_unit: stone?" {
		t.Fatalf("Error() = %q", e.Error())
	}
	cause := errors.New("cause")
	e = &E{C: Error, Err: cause}
	if !errors.Is(e, cause) {
		t.Fatal("Unwrap lost the cause")
	}
}

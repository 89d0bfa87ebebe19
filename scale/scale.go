// Package scale turns raw HX711 values into masses: it collects samples,
// reduces them to one value with a median or mean, removes the zero offset
// and divides by the reference unit (raw counts per unit of mass).
package scale

import (
	"context"
	"errors"
	"math"
	"time"

	"scalecode-go/drivers/hx711"
	"scalecode-go/mass"
	"scalecode-go/x/mathx"
)

var (
	ErrZeroRefUnit = errors.New("scale: reference unit is zero")
	ErrNoSamples   = errors.New("scale: no samples")
	ErrBadOptions  = errors.New("scale: invalid options")
)

// Source delivers raw conversions. *hx711.Device implements it.
type Source interface {
	Value(ctx context.Context) (int32, error)
	ValueTimeout(d time.Duration) (int32, error)
}

var _ Source = (*hx711.Device)(nil)

// Strategy selects how samples are collected.
type Strategy uint8

const (
	// StrategySamples takes a fixed number of samples.
	StrategySamples Strategy = iota
	// StrategyTime takes as many samples as arrive within a time window.
	StrategyTime
)

func (s Strategy) String() string {
	if s == StrategyTime {
		return "time"
	}
	return "samples"
}

// ReadType selects how samples are reduced to one value.
type ReadType uint8

const (
	ReadMedian ReadType = iota
	ReadAverage
)

func (r ReadType) String() string {
	if r == ReadAverage {
		return "average"
	}
	return "median"
}

type Options struct {
	Strategy Strategy
	Read     ReadType
	Samples  int           // used by StrategySamples
	Timeout  time.Duration // used by StrategyTime
}

// DefaultOptions: median of 3 samples; a 1 s window when the time
// strategy is chosen.
func DefaultOptions() Options {
	return Options{
		Strategy: StrategySamples,
		Read:     ReadMedian,
		Samples:  3,
		Timeout:  time.Second,
	}
}

// Scale is not safe for concurrent use.
type Scale struct {
	src     Source
	unit    mass.Unit
	refUnit int32
	offset  int32
}

// New returns a scale reporting in unit. refUnit is raw counts per one unit
// and must not be 0; offset is the raw value of an empty scale.
func New(src Source, unit mass.Unit, refUnit, offset int32) (*Scale, error) {
	if refUnit == 0 {
		return nil, ErrZeroRefUnit
	}
	if !unit.Valid() {
		return nil, mass.ErrInvalidUnit
	}
	return &Scale{src: src, unit: unit, refUnit: refUnit, offset: offset}, nil
}

func (s *Scale) Unit() mass.Unit { return s.unit }
func (s *Scale) RefUnit() int32  { return s.refUnit }
func (s *Scale) Offset() int32   { return s.offset }

func (s *Scale) SetUnit(u mass.Unit) error {
	if !u.Valid() {
		return mass.ErrInvalidUnit
	}
	s.unit = u
	return nil
}

func (s *Scale) SetRefUnit(r int32) error {
	if r == 0 {
		return ErrZeroRefUnit
	}
	s.refUnit = r
	return nil
}

func (s *Scale) SetOffset(o int32) { s.offset = o }

// Normalise converts a raw value to the scale's unit.
func (s *Scale) Normalise(raw float64) (float64, error) {
	if s.refUnit == 0 {
		return 0, ErrZeroRefUnit
	}
	return (raw - float64(s.offset)) / float64(s.refUnit), nil
}

// Samples blocks for exactly n values.
func (s *Scale) Samples(ctx context.Context, n int) ([]int32, error) {
	if n <= 0 {
		return nil, ErrBadOptions
	}
	out := make([]int32, 0, n)
	for len(out) < n {
		v, err := s.src.Value(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// samplesForCap covers one second at the chip's fastest rate.
const samplesForCap = 80

// SamplesFor collects values until d has elapsed. An empty result is not
// an error here; Read reports it.
func (s *Scale) SamplesFor(ctx context.Context, d time.Duration) ([]int32, error) {
	out := make([]int32, 0, samplesForCap)
	deadline := time.Now().Add(d)
	for {
		left := time.Until(deadline)
		if left <= 0 {
			return out, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := s.src.ValueTimeout(left)
		switch {
		case err == nil:
			out = append(out, v)
		case errors.Is(err, hx711.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
			return out, nil
		default:
			return nil, err
		}
	}
}

func (s *Scale) collect(ctx context.Context, opt Options) ([]int32, error) {
	switch opt.Strategy {
	case StrategyTime:
		if opt.Timeout <= 0 {
			return nil, ErrBadOptions
		}
		return s.SamplesFor(ctx, opt.Timeout)
	case StrategySamples:
		return s.Samples(ctx, opt.Samples)
	}
	return nil, ErrBadOptions
}

// Read returns the reduced raw value, before offset and reference unit.
func (s *Scale) Read(ctx context.Context, opt Options) (float64, error) {
	vs, err := s.collect(ctx, opt)
	if err != nil {
		return 0, err
	}
	if len(vs) == 0 {
		return 0, ErrNoSamples
	}
	if opt.Read == ReadAverage {
		return mathx.Mean(vs)
	}
	return mathx.Median(vs)
}

// Zero makes the current load the new zero. The offset is left unchanged if
// the read fails.
func (s *Scale) Zero(ctx context.Context, opt Options) error {
	v, err := s.Read(ctx, opt)
	if err != nil {
		return err
	}
	s.offset = int32(math.Round(v))
	return nil
}

// Reading is one weighing with the raw value it came from.
type Reading struct {
	Raw  float64
	Mass mass.Mass
}

// Measure reads once and returns both the raw value and the mass.
func (s *Scale) Measure(ctx context.Context, opt Options) (Reading, error) {
	raw, err := s.Read(ctx, opt)
	if err != nil {
		return Reading{}, err
	}
	v, err := s.Normalise(raw)
	if err != nil {
		return Reading{}, err
	}
	return Reading{Raw: raw, Mass: mass.New(v, s.unit)}, nil
}

func (s *Scale) Weight(ctx context.Context, opt Options) (mass.Mass, error) {
	r, err := s.Measure(ctx, opt)
	return r.Mass, err
}

// Calibrate returns the reference unit for a load of known units that read
// loadedRaw on a scale reading zeroRaw when empty. A result that rounds to
// 0 is returned as 1 so it can always be used.
func Calibrate(zeroRaw, loadedRaw, known float64) int32 {
	if known == 0 {
		return 1
	}
	r := int32(math.Round((loadedRaw - zeroRaw) / known))
	if r == 0 {
		return 1
	}
	return r
}

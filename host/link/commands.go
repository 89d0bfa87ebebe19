package link

import (
	"context"
	"fmt"
	"strconv"
)

// Calibration is the reply to zero and cal.
type Calibration struct {
	RefUnit int32
	Offset  int32
	Raw     int32
}

// Read asks the current scale for a fresh reading.
func (l *Link) Read(ctx context.Context) (Reading, error) {
	f, err := l.Command(ctx, "read")
	if err != nil {
		return Reading{}, err
	}
	if len(f) != 3 {
		return Reading{}, fmt.Errorf("%w: read reply %q", ErrBadLine, f)
	}
	v, err := strconv.ParseFloat(f[0], 64)
	if err != nil {
		return Reading{}, fmt.Errorf("%w: value: %v", ErrBadLine, err)
	}
	raw, err := parseInt32(f[2])
	if err != nil {
		return Reading{}, err
	}
	return Reading{Value: v, Unit: f[1], Raw: raw}, nil
}

// Zero tares the current scale.
func (l *Link) Zero(ctx context.Context) (Calibration, error) {
	f, err := l.Command(ctx, "zero")
	if err != nil {
		return Calibration{}, err
	}
	return parseCalibration(f)
}

// Calibrate sets the reference unit from a known load now on the scale.
// An empty unit keeps the scale's unit.
func (l *Link) Calibrate(ctx context.Context, known float64, unit string) (Calibration, error) {
	args := []string{"cal", strconv.FormatFloat(known, 'f', -1, 64)}
	if unit != "" {
		args = append(args, unit)
	}
	f, err := l.Command(ctx, args...)
	if err != nil {
		return Calibration{}, err
	}
	return parseCalibration(f)
}

func (l *Link) SetGain(ctx context.Context, gain int) error {
	_, err := l.Command(ctx, "gain", strconv.Itoa(gain))
	return err
}

func (l *Link) SetSamples(ctx context.Context, n int) error {
	_, err := l.Command(ctx, "samples", strconv.Itoa(n))
	return err
}

func (l *Link) Power(ctx context.Context, on bool) error {
	state := "down"
	if on {
		state = "up"
	}
	_, err := l.Command(ctx, "power", state)
	return err
}

// Use selects the scale later commands address.
func (l *Link) Use(ctx context.Context, id string) error {
	_, err := l.Command(ctx, "use", id)
	return err
}

func parseCalibration(f []string) (Calibration, error) {
	if len(f) != 3 {
		return Calibration{}, fmt.Errorf("%w: calibration reply %q", ErrBadLine, f)
	}
	var c Calibration
	var err error
	if c.RefUnit, err = parseInt32(f[0]); err != nil {
		return c, err
	}
	if c.Offset, err = parseInt32(f[1]); err != nil {
		return c, err
	}
	c.Raw, err = parseInt32(f[2])
	return c, err
}

func parseInt32(s string) (int32, error) {
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadLine, err)
	}
	return int32(n), nil
}

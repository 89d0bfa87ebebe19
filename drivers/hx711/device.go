package hx711

import (
	"context"
	"errors"
	"sync"
	"time"

	"tinygo.org/x/drivers"
)

// Config controls non-hardware behaviour. All fields are optional.
type Config struct {
	// PollInterval is the sleep between FIFO checks in blocking reads.
	// Default 200 µs.
	PollInterval time.Duration
	// Rate is the chip's wired data rate; Update uses it to bound a read.
	// Default Rate10.
	Rate Rate
	// PowerDownHold is how long PowerUp holds PD_SCK high to force a chip
	// reset when it was not already powered down. Default PowerDownTimeout.
	PowerDownHold time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 200 * time.Microsecond
	}
	if c.PowerDownHold <= 0 {
		c.PowerDownHold = PowerDownTimeout
	}
	return c
}

// Device is one HX711 behind an Engine.
type Device struct {
	mu    sync.Mutex
	eng   Engine
	clock ClockPin
	cfg   Config

	gain    Gain // gain values must have been converted at
	powered bool
	closed  bool
	downAt  time.Time
	last    int32 // last value read through Update
}

var _ drivers.Sensor = (*Device)(nil)

// New wraps an engine. clock is the PD_SCK pin as a plain GPIO output; it is
// only driven while the engine is stopped. This function does not touch the
// chip, call PowerUp to start converting.
func New(eng Engine, clock ClockPin) *Device {
	d := &Device{eng: eng, clock: clock, gain: Gain128}
	d.Configure()
	return d
}

// Configure applies optional config. It may be called with no cfg.
func (d *Device) Configure(cfgs ...Config) {
	var c Config
	if len(cfgs) > 0 {
		c = cfgs[0]
	}
	d.mu.Lock()
	d.cfg = c.withDefaults()
	d.mu.Unlock()
}

// Gain returns the gain currently requested.
func (d *Device) Gain() Gain {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gain
}

// Powered reports whether the chip is powered up.
func (d *Device) Powered() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.powered
}

// PowerUp pulls PD_SCK low and starts the engine. The chip always wakes at
// gain 128, so when g differs the first conversion is discarded by reads.
// If the chip was not powered down long enough it is reset first.
// Callers should wait WaitSettle before trusting values.
func (d *Device) PowerUp(g Gain) error {
	if !g.Valid() {
		return ErrInvalidGain
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.eng.Stop()
	resetChip(d.clock, d.powered, d.downAt, d.cfg.PowerDownHold)
	d.downAt = time.Time{}
	d.eng.Drain()
	if err := d.eng.Start(g); err != nil {
		return err
	}
	d.gain = g
	d.powered = true
	return nil
}

// PowerDown stops the engine and holds PD_SCK high. The chip is off after
// PowerDownTimeout; see WaitPowerDown. Values already buffered stay readable.
func (d *Device) PowerDown() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.eng.Stop()
	d.clock.Set(true)
	d.downAt = time.Now()
	d.powered = false
	return nil
}

// resetChip leaves PD_SCK low with the chip in its power-on state. A chip
// that is running, or whose power-down time is unknown, gets the full hold.
func resetChip(clock ClockPin, running bool, downAt time.Time, hold time.Duration) {
	if !running && !downAt.IsZero() {
		hold -= time.Since(downAt)
	}
	if hold > 0 {
		clock.Set(true)
		time.Sleep(hold)
	}
	clock.Set(false)
}

// SetGain changes the gain. The chip applies it from the conversion after
// the one in progress; values converted at the old gain are dropped, so the
// next value returned by a read is always at g.
func (d *Device) SetGain(g Gain) error {
	if !g.Valid() {
		return ErrInvalidGain
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.eng.QueueGain(g)
	d.eng.Drain()
	d.gain = g
	return nil
}

// Value blocks until a value is available or ctx is done. The device is
// not locked between polls, so Close, PowerDown and SetGain are not held up.
func (d *Device) Value(ctx context.Context) (int32, error) {
	return d.wait(ctx)
}

// ValueTimeout blocks for at most timeout. ErrTimeout is returned if no
// value arrived in time.
func (d *Device) ValueTimeout(timeout time.Duration) (int32, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	v, err := d.wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return 0, ErrTimeout
	}
	return v, err
}

// ValueNoBlock returns ErrNotReady when nothing is buffered.
func (d *Device) ValueNoBlock() (int32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if v, ok, err := d.poll(); ok || err != nil {
		return v, err
	}
	return 0, ErrNotReady
}

// Update implements drivers.Sensor. The HX711 measures a bridge voltage, so
// drivers.Voltage triggers one read bounded by two sample periods plus the
// settling time. The result is available from Raw.
func (d *Device) Update(which drivers.Measurement) error {
	if which&drivers.Voltage == 0 {
		return nil
	}
	d.mu.Lock()
	r := d.cfg.Rate
	d.mu.Unlock()
	period := time.Second / time.Duration(r.SPS())
	v, err := d.ValueTimeout(2*period + r.SettlingTime())
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.last = v
	d.mu.Unlock()
	return nil
}

// Raw returns the value cached by the last successful Update.
func (d *Device) Raw() int32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

// Close stops the engine and releases it. The device is unusable afterwards.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.powered = false
	return d.eng.Close()
}

func (d *Device) wait(ctx context.Context) (int32, error) {
	for {
		d.mu.Lock()
		v, ok, err := d.poll()
		every := d.cfg.PollInterval
		d.mu.Unlock()
		if ok || err != nil {
			return v, err
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		time.Sleep(every)
	}
}

// poll must be called with d.mu held. ok is false with a nil error while
// the chip is still converting.
func (d *Device) poll() (v int32, ok bool, err error) {
	if d.closed {
		return 0, false, ErrClosed
	}
	if v, ok = d.pop(); ok {
		return v, true, nil
	}
	if !d.powered {
		return 0, false, ErrPoweredDown
	}
	return 0, false, nil
}

// pop returns the oldest buffered value taken at the requested gain.
func (d *Device) pop() (int32, bool) {
	for {
		s, ok := d.eng.TryGet()
		if !ok {
			return 0, false
		}
		if s.Gain != 0 && s.Gain != d.gain {
			continue
		}
		return TwosComp(s.Raw), true
	}
}

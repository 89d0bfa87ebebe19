// Package hx711test simulates HX711 chips at the pin level so the driver,
// the scale and the services can be exercised without hardware.
package hx711test

import (
	"sync"
	"time"

	"scalecode-go/drivers/hx711"
)

// PowerDownAfter is how long the simulated PD_SCK must stay high to power
// the chip down. It is well above the datasheet's 60 µs so a bit-banging
// goroutine that gets descheduled mid-pulse does not reset the chip.
var PowerDownAfter = 500 * time.Microsecond

// ValueFunc produces conversion n taken at gain g.
type ValueFunc func(g hx711.Gain, n int) int32

// Chip is one simulated HX711.
type Chip struct {
	mu sync.Mutex

	next ValueFunc
	n    int

	clk       bool
	highSince time.Time
	pulses    int // rising edges in the current read
	cur       uint32
	gain      hx711.Gain // gain of the next conversion
	busy      bool       // forces DOUT high
	interval  time.Duration
	lastRead  time.Time

	served      []hx711.Gain
	powerCycles int
}

// NewChip returns a powered, ready chip at gain 128.
func NewChip(next ValueFunc) *Chip {
	return &Chip{next: next, gain: hx711.Gain128}
}

// Constant returns a ValueFunc that always yields v.
func Constant(v int32) ValueFunc {
	return func(hx711.Gain, int) int32 { return v }
}

// Sequence yields vs in order, repeating the last one.
func Sequence(vs ...int32) ValueFunc {
	return func(_ hx711.Gain, n int) int32 {
		if n >= len(vs) {
			return vs[len(vs)-1]
		}
		return vs[n]
	}
}

// ByGain yields the gain factor times 1000 plus the conversion index, so a
// test can tell which gain a value was taken at.
func ByGain(g hx711.Gain, n int) int32 { return int32(g.Factor()*1000 + n%1000) }

// SetBusy holds DOUT high, as a chip that never finishes converting.
func (c *Chip) SetBusy(b bool) {
	c.mu.Lock()
	c.busy = b
	c.mu.Unlock()
}

// SetInterval limits the conversion rate; 0 means back to back.
func (c *Chip) SetInterval(d time.Duration) {
	c.mu.Lock()
	c.interval = d
	c.mu.Unlock()
}

// SetValues swaps the value source.
func (c *Chip) SetValues(f ValueFunc) {
	c.mu.Lock()
	c.next = f
	c.mu.Unlock()
}

// Served returns the gain of every conversion shifted out so far.
func (c *Chip) Served() []hx711.Gain {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]hx711.Gain(nil), c.served...)
}

// PowerCycles counts completed power-down sequences.
func (c *Chip) PowerCycles() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.powerCycles
}

// NextGain is the gain the chip will use for its next conversion.
func (c *Chip) NextGain() hx711.Gain {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gain
}

// Clock returns the PD_SCK pin.
func (c *Chip) Clock() hx711.ClockPin { return clockPin{c} }

// Data returns the DOUT pin.
func (c *Chip) Data() hx711.DataPin { return dataPin{c} }

type clockPin struct{ c *Chip }

func (p clockPin) Set(high bool) { p.c.setClock(high) }

type dataPin struct{ c *Chip }

func (p dataPin) Get() bool { return p.c.dout() }

func (c *Chip) setClock(high bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if high == c.clk {
		return
	}
	c.clk = high
	if high {
		c.highSince = time.Now()
		if c.pulses == 0 {
			if !c.readyLocked() {
				return
			}
			v := c.next(c.gain, c.n)
			c.n++
			c.cur = uint32(v) & 0xffffff
			c.served = append(c.served, c.gain)
			c.lastRead = time.Now()
		}
		c.pulses++
		return
	}
	if time.Since(c.highSince) >= PowerDownAfter {
		c.pulses = 0
		c.gain = hx711.Gain128
		c.powerCycles++
	}
}

func (c *Chip) dout() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.pulses == 0:
		return !c.readyLocked()
	case c.pulses <= hx711.ReadBits:
		return c.cur>>(hx711.ReadBits-c.pulses)&1 == 1
	}
	// The 25th pulse pulls DOUT high; with the clock low again the read is
	// over and the trailing pulse count selects the next gain.
	if !c.clk {
		if g := hx711.Gain(c.pulses); g.Valid() {
			c.gain = g
		}
		c.pulses = 0
	}
	return true
}

func (c *Chip) readyLocked() bool {
	if c.busy {
		return false
	}
	if c.interval > 0 && !c.lastRead.IsZero() && time.Since(c.lastRead) < c.interval {
		return false
	}
	return true
}

// DeviceConfig is a driver config whose power-down hold is long enough for
// the simulated chip to reset.
func DeviceConfig() hx711.Config {
	return hx711.Config{
		PollInterval:  50 * time.Microsecond,
		PowerDownHold: 2 * PowerDownAfter,
	}
}

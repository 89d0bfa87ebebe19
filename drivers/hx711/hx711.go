// Package hx711 provides a driver for the HX711 24-bit load-cell ADC.
//
// The chip is read over a two-wire serial interface: DOUT falls when a
// conversion is ready, the host then clocks PD_SCK 25 to 27 times. The first
// 24 pulses shift the result out MSB first, the extra pulses select the gain
// for the next conversion. Holding PD_SCK high for more than 60 µs powers the
// chip down; pulling it low again powers it up with gain 128.
//
// Conversions are produced by an Engine. On RP2 builds a PIO state machine
// does the clocking (see NewPIOEngine); elsewhere, and for tests, a goroutine
// bit-bangs two GPIO pins (see NewGPIOEngine).
//
//	d := hx711.New(engine, clock)
//	_ = d.PowerUp(hx711.Gain128)
//	hx711.WaitSettle(hx711.Rate80)
//	v, err := d.ValueTimeout(250 * time.Millisecond)
package hx711

import (
	"errors"
	"time"
)

const (
	// ReadBits is the number of data bits in one conversion.
	ReadBits = 24

	MinValue int32 = -0x800000 // −8,388,608
	MaxValue int32 = 0x7fffff  // 8,388,607

	// PowerDownTimeout is how long PD_SCK must stay high to power the chip down.
	PowerDownTimeout = 60 * time.Microsecond
)

// Errors returned by the driver.
var (
	ErrTimeout     = errors.New("hx711: timeout")
	ErrNotReady    = errors.New("hx711: not ready")
	ErrInvalidGain = errors.New("hx711: invalid gain")
	ErrPoweredDown = errors.New("hx711: powered down")
	ErrClosed      = errors.New("hx711: closed")
	ErrBusy        = errors.New("hx711: request in flight")
	ErrChipCount   = errors.New("hx711: chip count out of range")
	ErrShortBuffer = errors.New("hx711: values buffer too small")
)

// Gain is expressed as the total number of PD_SCK pulses per conversion.
type Gain uint8

const (
	Gain128 Gain = 25 // channel A
	Gain32  Gain = 26 // channel B
	Gain64  Gain = 27 // channel A
)

// Valid reports whether g is one of the three chip gains.
func (g Gain) Valid() bool { return g >= Gain128 && g <= Gain64 }

// Extra returns the 0-based count of pulses after the data bits, which is
// what the PIO program consumes: 128 -> 0, 32 -> 1, 64 -> 2.
func (g Gain) Extra() (uint32, error) {
	if !g.Valid() {
		return 0, ErrInvalidGain
	}
	return uint32(g) - ReadBits - 1, nil
}

// Factor returns the amplification factor (128, 64 or 32), 0 if invalid.
func (g Gain) Factor() int {
	switch g {
	case Gain128:
		return 128
	case Gain64:
		return 64
	case Gain32:
		return 32
	}
	return 0
}

func (g Gain) String() string {
	switch g {
	case Gain128:
		return "128"
	case Gain64:
		return "64"
	case Gain32:
		return "32"
	}
	return "invalid"
}

// GainFromFactor maps 128/64/32 to a Gain.
func GainFromFactor(f int) (Gain, error) {
	switch f {
	case 128:
		return Gain128, nil
	case 64:
		return Gain64, nil
	case 32:
		return Gain32, nil
	}
	return 0, ErrInvalidGain
}

// gainFromExtra is the inverse of Extra, used when decoding engine tags.
func gainFromExtra(x uint32) Gain {
	g := Gain(x + ReadBits + 1)
	if !g.Valid() {
		return 0
	}
	return g
}

// Rate is the output data rate selected by the RATE pin.
type Rate uint8

const (
	Rate10 Rate = iota
	Rate80
)

// SPS returns samples per second.
func (r Rate) SPS() int {
	if r == Rate80 {
		return 80
	}
	return 10
}

// SettlingTime is the time for the output to settle after power up, reset
// or a channel/gain change.
func (r Rate) SettlingTime() time.Duration {
	if r == Rate80 {
		return 50 * time.Millisecond
	}
	return 400 * time.Millisecond
}

// TwosComp decodes a raw 24-bit conversion. Bits above 24 are ignored.
func TwosComp(raw uint32) int32 {
	return int32(raw<<(32-ReadBits)) >> (32 - ReadBits)
}

// IsMinSaturated reports whether v is pinned at the negative rail.
func IsMinSaturated(v int32) bool { return v == MinValue }

// IsMaxSaturated reports whether v is pinned at the positive rail.
func IsMaxSaturated(v int32) bool { return v == MaxValue }

// WaitSettle sleeps for r's settling time.
func WaitSettle(r Rate) { time.Sleep(r.SettlingTime()) }

// WaitPowerDown sleeps long enough for PowerDown to take effect.
func WaitPowerDown() { time.Sleep(PowerDownTimeout) }

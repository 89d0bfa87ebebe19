//go:build rp2040 || rp2350

package scalesvc

import (
	"machine"

	pio "github.com/tinygo-org/pio/rp2-pio"

	"scalecode-go/drivers/hx711"
	"scalecode-go/types"
)

// RP2Factory runs each chip on its own PIO state machine and falls back to
// bit-banged GPIO once all state machines are taken. A scale with several
// data pins is always bit-banged as one bank on the shared clock.
type RP2Factory struct {
	last string
}

func NewRP2Factory() *RP2Factory { return &RP2Factory{} }

func (f *RP2Factory) Open(p types.ScaleParams) (Sensor, error) {
	if len(p.DataPins) > 0 {
		return f.openBank(p)
	}
	clock := machine.Pin(p.ClockPin)
	data := machine.Pin(p.DataPin)

	if sm, ok := claimStateMachine(); ok {
		eng, err := hx711.NewPIOEngine(sm, clock, data)
		if err == nil {
			f.last = "pio"
			d := hx711.New(eng, eng.Clock())
			d.Configure()
			return d, nil
		}
		sm.Unclaim()
		println("[scale] pio load failed for", p.ID, "err:", err.Error())
	}

	clock.Configure(machine.PinConfig{Mode: machine.PinOutput})
	data.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	eng := hx711.NewGPIOEngine(clock, data)
	f.last = "gpio"
	d := hx711.New(eng, clock)
	d.Configure()
	return d, nil
}

func (f *RP2Factory) openBank(p types.ScaleParams) (Sensor, error) {
	clock := machine.Pin(p.ClockPin)
	clock.Configure(machine.PinConfig{Mode: machine.PinOutput})
	var data []hx711.DataPin
	for _, n := range BankPins(p) {
		pin := machine.Pin(n)
		pin.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
		data = append(data, pin)
	}
	eng, err := hx711.NewGPIOMultiEngine(clock, data)
	if err != nil {
		return nil, err
	}
	m, err := hx711.NewMulti(eng, clock, len(data))
	if err != nil {
		return nil, err
	}
	f.last = "gpio"
	return hx711.NewSummed(m), nil
}

// Engine names the engine chosen by the most recent Open.
func (f *RP2Factory) Engine() string { return f.last }

func claimStateMachine() (pio.StateMachine, bool) {
	for _, block := range []*pio.PIO{pio.PIO0, pio.PIO1} {
		if sm, err := block.ClaimStateMachine(); err == nil {
			return sm, true
		}
	}
	return pio.StateMachine{}, false
}

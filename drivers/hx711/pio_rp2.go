//go:build rp2040 || rp2350

package hx711

import (
	"machine"

	pio "github.com/tinygo-org/pio/rp2-pio"
)

// PIOEngine runs the conversion loop on an RP2 PIO state machine. The RX
// FIFO is the sample buffer; when it is full the chip's newest conversions
// are dropped.
type PIOEngine struct {
	sm     pio.StateMachine
	offset uint8
	cfg    pio.StateMachineConfig
	clock  machine.Pin
	data   machine.Pin
	t      tagger
}

// NewPIOEngine loads the program into the PIO block of sm, which the caller
// has claimed. The state machine is left disabled until Start.
func NewPIOEngine(sm pio.StateMachine, clock, data machine.Pin) (*PIOEngine, error) {
	Pio := sm.PIO()
	offset, err := Pio.AddProgram(pioInstructions, pioOrigin)
	if err != nil {
		return nil, err
	}
	data.Configure(machine.PinConfig{Mode: Pio.PinMode()})

	cfg := pio.DefaultStateMachineConfig()
	cfg.SetWrap(offset+pioWrapTarget, offset+pioWrap)
	cfg.SetSidesetParams(pioSidesetBits, true, false)
	cfg.SetSidesetPins(clock)
	cfg.SetInPins(data)
	cfg.SetInShift(false, false, 32)
	whole, frac, err := pio.ClkDivFromFrequency(pioFrequency, machine.CPUFrequency())
	if err != nil {
		return nil, err
	}
	cfg.SetClkDivIntFrac(whole, frac)

	e := &PIOEngine{sm: sm, offset: offset, cfg: cfg, clock: clock, data: data}
	e.Clock().Set(false)
	return e, nil
}

// Clock returns PD_SCK as a plain GPIO output for the Device. Driving it
// takes the pin back from the state machine; Start hands it over again.
func (e *PIOEngine) Clock() ClockPin { return pioClock{e.clock} }

type pioClock struct{ p machine.Pin }

func (c pioClock) Set(high bool) {
	c.p.Configure(machine.PinConfig{Mode: machine.PinOutput})
	c.p.Set(high)
}

// Start reinitialises the state machine, which also clears both FIFOs.
func (e *PIOEngine) Start(g Gain) error {
	x, err := g.Extra()
	if err != nil {
		return err
	}
	e.clock.Configure(machine.PinConfig{Mode: e.sm.PIO().PinMode()})
	e.sm.SetPindirsConsecutive(e.clock, 1, true)
	e.sm.Init(e.offset, e.cfg)
	e.t.reset()
	e.sm.TxPut(x)
	e.sm.SetEnabled(true)
	return nil
}

func (e *PIOEngine) Stop() { e.sm.SetEnabled(false) }

// QueueGain replaces whatever is waiting in the TX FIFO; the program pulls
// it before the next read. TxPut drops the word on a full FIFO, so older
// gains are pulled out first.
func (e *PIOEngine) QueueGain(g Gain) {
	x, err := g.Extra()
	if err != nil {
		return
	}
	replaceTx(e.sm, x)
}

func (e *PIOEngine) TryGet() (Sample, bool) {
	if e.sm.IsRxFIFOEmpty() {
		return Sample{}, false
	}
	w := e.sm.RxGet()
	return Sample{
		Raw:  w >> 8,
		Gain: e.t.tag(gainFromExtra(w & 0xff)),
	}, true
}

// Drain reads rather than clears the RX FIFO so every word passes the tagger.
func (e *PIOEngine) Drain() {
	for {
		if _, ok := e.TryGet(); !ok {
			return
		}
	}
}

func (e *PIOEngine) Close() error {
	e.Stop()
	e.sm.PIO().ClearProgramSection(e.offset, uint8(len(pioInstructions)))
	e.sm.Unclaim()
	return nil
}

package hx711

import (
	"context"
	"sync"
	"time"
)

// GPIOConfig tunes the bit-banged engine. All fields are optional.
type GPIOConfig struct {
	// PulseWidth is the PD_SCK high and low time. Default 1 µs. The chip
	// needs at least 0.2 µs and powers down past 60 µs high.
	PulseWidth time.Duration
	// ReadyPoll is the sleep between DOUT checks while waiting. Default 100 µs.
	ReadyPoll time.Duration
}

// GPIOEngine bit-bangs one HX711 from a goroutine.
type GPIOEngine struct {
	clock ClockPin
	data  DataPin
	cfg   GPIOConfig

	fifo  chan Sample
	gains chan Gain

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewGPIOEngine returns an engine for clock/data. Pins must already be
// configured as output/input.
func NewGPIOEngine(clock ClockPin, data DataPin, cfgs ...GPIOConfig) *GPIOEngine {
	return &GPIOEngine{
		clock: clock,
		data:  data,
		cfg:   gpioDefaults(cfgs),
		fifo:  make(chan Sample, fifoDepth),
		gains: make(chan Gain, 1),
	}
}

func gpioDefaults(cfgs []GPIOConfig) GPIOConfig {
	var c GPIOConfig
	if len(cfgs) > 0 {
		c = cfgs[0]
	}
	if c.PulseWidth <= 0 {
		c.PulseWidth = time.Microsecond
	}
	if c.ReadyPoll <= 0 {
		c.ReadyPoll = 100 * time.Microsecond
	}
	return c
}

func (e *GPIOEngine) Start(g Gain) error {
	if !g.Valid() {
		return ErrInvalidGain
	}
	e.Stop()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.QueueGain(g)
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})
	go e.run(ctx, e.done)
	return nil
}

func (e *GPIOEngine) Stop() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (e *GPIOEngine) QueueGain(g Gain) {
	select {
	case <-e.gains:
	default:
	}
	e.gains <- g
}

func (e *GPIOEngine) TryGet() (Sample, bool) {
	select {
	case s := <-e.fifo:
		return s, true
	default:
		return Sample{}, false
	}
}

func (e *GPIOEngine) Drain() {
	for {
		select {
		case <-e.fifo:
		default:
			return
		}
	}
}

func (e *GPIOEngine) Close() error {
	e.Stop()
	return nil
}

func (e *GPIOEngine) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	var t tagger
	t.reset()
	gain := Gain128
	for {
		select {
		case g := <-e.gains:
			gain = g
		default:
		}
		if !e.waitReady(ctx) {
			return
		}
		raw := e.shiftIn()
		e.pulse(int(gain) - ReadBits)
		e.push(Sample{Raw: raw, Gain: t.tag(gain)})
	}
}

// waitReady polls DOUT until it goes low.
func (e *GPIOEngine) waitReady(ctx context.Context) bool {
	for e.data.Get() {
		if ctx.Err() != nil {
			return false
		}
		time.Sleep(e.cfg.ReadyPoll)
	}
	return ctx.Err() == nil
}

func (e *GPIOEngine) shiftIn() uint32 {
	var raw uint32
	for i := 0; i < ReadBits; i++ {
		e.clock.Set(true)
		spin(e.cfg.PulseWidth)
		raw <<= 1
		if e.data.Get() {
			raw |= 1
		}
		e.clock.Set(false)
		spin(e.cfg.PulseWidth)
	}
	return raw
}

func (e *GPIOEngine) pulse(n int) {
	for i := 0; i < n; i++ {
		e.clock.Set(true)
		spin(e.cfg.PulseWidth)
		e.clock.Set(false)
		spin(e.cfg.PulseWidth)
	}
}

// push drops the oldest sample when the FIFO is full.
func (e *GPIOEngine) push(s Sample) {
	for {
		select {
		case e.fifo <- s:
			return
		default:
			select {
			case <-e.fifo:
			default:
			}
		}
	}
}

// spin busy-waits; time.Sleep granularity is far too coarse for PD_SCK.
func spin(d time.Duration) {
	for start := time.Now(); time.Since(start) < d; {
	}
}

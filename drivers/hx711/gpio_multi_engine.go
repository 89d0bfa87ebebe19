package hx711

import (
	"context"
	"sync"
	"time"
)

// GPIOMultiEngine bit-bangs a bank of chips on one clock.
type GPIOMultiEngine struct {
	clock ClockPin
	data  []DataPin
	cfg   GPIOConfig

	fifo  chan MultiSample
	gains chan Gain

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewGPIOMultiEngine returns an engine reading data[j] as chip j.
func NewGPIOMultiEngine(clock ClockPin, data []DataPin, cfgs ...GPIOConfig) (*GPIOMultiEngine, error) {
	if len(data) < MinChips || len(data) > MaxChips {
		return nil, ErrChipCount
	}
	return &GPIOMultiEngine{
		clock: clock,
		data:  data,
		cfg:   gpioDefaults(cfgs),
		fifo:  make(chan MultiSample, fifoDepth),
		gains: make(chan Gain, 1),
	}, nil
}

func (e *GPIOMultiEngine) Start(g Gain) error {
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

func (e *GPIOMultiEngine) Stop() {
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

func (e *GPIOMultiEngine) QueueGain(g Gain) {
	select {
	case <-e.gains:
	default:
	}
	e.gains <- g
}

func (e *GPIOMultiEngine) TryGet() (MultiSample, bool) {
	select {
	case s := <-e.fifo:
		return s, true
	default:
		return MultiSample{}, false
	}
}

func (e *GPIOMultiEngine) Drain() {
	for {
		select {
		case <-e.fifo:
		default:
			return
		}
	}
}

func (e *GPIOMultiEngine) State() uint32 {
	var mask uint32
	for j, p := range e.data {
		if p.Get() {
			mask |= 1 << uint(j)
		}
	}
	return mask
}

func (e *GPIOMultiEngine) Close() error {
	e.Stop()
	return nil
}

func (e *GPIOMultiEngine) run(ctx context.Context, done chan struct{}) {
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
		// Every chip must be ready before the shared clock starts.
		for e.State() != 0 {
			if ctx.Err() != nil {
				return
			}
			time.Sleep(e.cfg.ReadyPoll)
		}
		if ctx.Err() != nil {
			return
		}
		var s MultiSample
		for i := 0; i < ReadBits; i++ {
			e.clock.Set(true)
			spin(e.cfg.PulseWidth)
			s.Pinvals[i] = e.State()
			e.clock.Set(false)
			spin(e.cfg.PulseWidth)
		}
		for i := 0; i < int(gain)-ReadBits; i++ {
			e.clock.Set(true)
			spin(e.cfg.PulseWidth)
			e.clock.Set(false)
			spin(e.cfg.PulseWidth)
		}
		s.Gain = t.tag(gain)
		e.push(s)
	}
}

func (e *GPIOMultiEngine) push(s MultiSample) {
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

package hx711

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

const (
	MinChips = 1
	MaxChips = 32
)

// MultiSample is one conversion from every chip on a shared clock.
// Word i holds data bit 23-i of each chip; chip j is bit j.
type MultiSample struct {
	Pinvals [ReadBits]uint32
	Gain    Gain
}

// MultiEngine is the Engine counterpart for a bank of chips.
type MultiEngine interface {
	Start(g Gain) error
	Stop()
	QueueGain(g Gain)
	TryGet() (MultiSample, bool)
	Drain()
	// State samples every DOUT pin now; bit j is chip j, 1 means busy.
	State() uint32
	Close() error
}

// PinvalsToValues transposes pin-major bits into one decoded value per chip.
// len(values) chips are decoded.
func PinvalsToValues(pinvals *[ReadBits]uint32, values []int32) {
	for j := range values {
		var raw uint32
		for i := 0; i < ReadBits; i++ {
			raw = raw<<1 | (pinvals[i]>>uint(j))&1
		}
		values[j] = TwosComp(raw)
	}
}

// Multi reads several HX711s that share PD_SCK so their conversions stay in
// lock step. Data pins are expected to be contiguous from the first chip.
type Multi struct {
	mu    sync.Mutex
	eng   MultiEngine
	clock ClockPin
	chips int
	cfg   Config

	gain    Gain
	powered bool
	closed  bool
	downAt  time.Time

	inflight atomic.Bool
}

// NewMulti wraps eng for chips chips (1..32).
func NewMulti(eng MultiEngine, clock ClockPin, chips int, cfgs ...Config) (*Multi, error) {
	if chips < MinChips || chips > MaxChips {
		return nil, ErrChipCount
	}
	var c Config
	if len(cfgs) > 0 {
		c = cfgs[0]
	}
	return &Multi{eng: eng, clock: clock, chips: chips, cfg: c.withDefaults(), gain: Gain128}, nil
}

// Chips returns the number of chips in the bank.
func (m *Multi) Chips() int { return m.chips }

func (m *Multi) PowerUp(g Gain) error {
	if !g.Valid() {
		return ErrInvalidGain
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.eng.Stop()
	resetChip(m.clock, m.powered, m.downAt, m.cfg.PowerDownHold)
	m.downAt = time.Time{}
	m.eng.Drain()
	if err := m.eng.Start(g); err != nil {
		return err
	}
	m.gain = g
	m.powered = true
	return nil
}

func (m *Multi) PowerDown() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.eng.Stop()
	m.clock.Set(true)
	m.downAt = time.Now()
	m.powered = false
	return nil
}

// SetGain applies g to every chip. See Device.SetGain.
func (m *Multi) SetGain(g Gain) error {
	if !g.Valid() {
		return ErrInvalidGain
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.eng.QueueGain(g)
	m.eng.Drain()
	m.gain = g
	return nil
}

// Sync power cycles the bank so every chip restarts its conversion cycle
// together. It does not wait for the settling time.
func (m *Multi) Sync(g Gain) error {
	if err := m.PowerDown(); err != nil {
		return err
	}
	return m.PowerUp(g)
}

// SyncState returns the DOUT mask; bit i is chip i.
func (m *Multi) SyncState() uint32 { return m.eng.State() }

// IsSynced reports whether all chips are ready together or busy together.
func (m *Multi) IsSynced() bool {
	all := uint32(uint64(1)<<uint(m.chips) - 1)
	s := m.SyncState() & all
	return s == 0 || s == all
}

// Values blocks until every chip has a value, writing chip i to out[i].
// out must hold at least Chips() elements. The bank is unlocked between
// polls.
func (m *Multi) Values(ctx context.Context, out []int32) error {
	if len(out) < m.chips {
		return ErrShortBuffer
	}
	for {
		m.mu.Lock()
		s, ok, err := m.poll()
		every := m.cfg.PollInterval
		m.mu.Unlock()
		if err != nil {
			return err
		}
		if ok {
			PinvalsToValues(&s.Pinvals, out[:m.chips])
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		time.Sleep(every)
	}
}

// ValuesNoBlock returns ErrNotReady when no conversion is buffered.
func (m *Multi) ValuesNoBlock(out []int32) error {
	if len(out) < m.chips {
		return ErrShortBuffer
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok, err := m.poll()
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotReady
	}
	PinvalsToValues(&s.Pinvals, out[:m.chips])
	return nil
}

func (m *Multi) poll() (MultiSample, bool, error) {
	if m.closed {
		return MultiSample{}, false, ErrClosed
	}
	if s, ok := m.pop(); ok {
		return s, true, nil
	}
	if !m.powered {
		return MultiSample{}, false, ErrPoweredDown
	}
	return MultiSample{}, false, nil
}

// ValuesTimeout is Values bounded by timeout; ErrTimeout on expiry.
func (m *Multi) ValuesTimeout(timeout time.Duration, out []int32) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := m.Values(ctx, out)
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return err
}

func (m *Multi) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.powered = false
	return m.eng.Close()
}

func (m *Multi) pop() (MultiSample, bool) {
	for {
		s, ok := m.eng.TryGet()
		if !ok {
			return MultiSample{}, false
		}
		if s.Gain != 0 && s.Gain != m.gain {
			continue
		}
		return s, true
	}
}

// AsyncRequest is a background read of one set of values from a Multi.
// Only one request per Multi may be open at a time.
type AsyncRequest struct {
	m      *Multi
	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once

	vals []int32
	err  error
}

// Async starts reading in the background. Close the request to free the
// Multi for the next one.
func (m *Multi) Async(ctx context.Context) (*AsyncRequest, error) {
	if !m.inflight.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	ctx, cancel := context.WithCancel(ctx)
	r := &AsyncRequest{
		m:      m,
		done:   make(chan struct{}),
		cancel: cancel,
		vals:   make([]int32, m.chips),
	}
	go func() {
		defer close(r.done)
		r.err = m.Values(ctx, r.vals)
	}()
	return r, nil
}

// Done is closed when the values (or an error) are available.
func (r *AsyncRequest) Done() <-chan struct{} { return r.done }

// IsDone polls Done.
func (r *AsyncRequest) IsDone() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Values waits for completion and copies the result into out.
func (r *AsyncRequest) Values(out []int32) error {
	<-r.done
	if r.err != nil {
		return r.err
	}
	copy(out, r.vals)
	return nil
}

// Close cancels the read if still running and releases the Multi.
func (r *AsyncRequest) Close() {
	r.once.Do(func() {
		r.cancel()
		<-r.done
		r.m.inflight.Store(false)
	})
}

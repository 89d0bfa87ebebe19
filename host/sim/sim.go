// Package sim runs the firmware's bus, scale service and console on the
// host against simulated HX711 chips. The console is reached through an
// in-memory pipe, so host tools can be exercised without hardware.
package sim

import (
	"context"
	"errors"
	"io"
	"math"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"scalecode-go/bus"
	"scalecode-go/drivers/hx711"
	"scalecode-go/drivers/hx711/hx711test"
	"scalecode-go/services/console"
	"scalecode-go/services/heartbeat"
	"scalecode-go/services/scalesvc"
	"scalecode-go/types"
	"scalecode-go/x/timex"
)

// Cell describes the load cell behind one simulated chip.
type Cell struct {
	Zero    int32   // raw value with nothing on the scale
	PerGram float64 // raw counts per gram at gain 128
}

// DefaultCell is roughly a 5 kg bar cell.
var DefaultCell = Cell{Zero: 84_000, PerGram: 420}

var ErrNoScale = errors.New("sim: no such scale")

var rigSeq atomic.Uint32

type Rig struct {
	cfg   types.ScaleConfig
	bus   *bus.Bus
	tname string

	mu    sync.Mutex
	chips map[int]*hx711test.Chip // by data pin
	cells map[int]Cell
	pins  map[string][]int // scale id -> data pins, DataPin first

	remotes chan net.Conn
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a rig for cfg. Scales without a cell in cells use DefaultCell.
func New(cfg types.ScaleConfig, cells map[string]Cell) *Rig {
	r := &Rig{
		cfg:     cfg,
		bus:     bus.NewBus(32),
		tname:   "sim-" + strconv.Itoa(int(rigSeq.Add(1))),
		chips:   map[int]*hx711test.Chip{},
		cells:   map[int]Cell{},
		pins:    map[string][]int{},
		remotes: make(chan net.Conn, 1),
	}
	for _, p := range cfg.Scales {
		c, ok := cells[p.ID]
		if !ok {
			c = DefaultCell
		}
		pins := scalesvc.BankPins(p)
		r.pins[p.ID] = pins
		for _, pin := range pins {
			r.cells[pin] = c
			chip := hx711test.NewChip(c.values(0))
			chip.SetInterval(timex.Period(rateSPS(p.Rate)))
			r.chips[pin] = chip
		}
	}
	return r
}

// DefaultConfig is one scale, "s0", at 80 SPS reporting grams four times
// a second.
func DefaultConfig() types.ScaleConfig {
	return types.ScaleConfig{Scales: []types.ScaleParams{{
		ID: "s0", ClockPin: 2, DataPin: 3, Rate: 80, RefUnit: 1, Samples: 3, IntervalMs: 250,
	}}}
}

func rateSPS(rate int) int {
	if rate == 80 {
		return 80
	}
	return 10
}

// values scales the gram load by the gain relative to 128.
func (c Cell) values(grams float64) hx711test.ValueFunc {
	return func(g hx711.Gain, _ int) int32 {
		v := float64(c.Zero) + grams*c.PerGram
		v = v * float64(g.Factor()) / 128
		return int32(math.Max(float64(hx711.MinValue), math.Min(float64(hx711.MaxValue), math.Round(v))))
	}
}

// Place puts grams on scale id, spread evenly over its load cells.
func (r *Rig) Place(id string, grams float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	pins, ok := r.pins[id]
	if !ok {
		return ErrNoScale
	}
	share := grams / float64(len(pins))
	for _, pin := range pins {
		r.chips[pin].SetValues(r.cells[pin].values(share))
	}
	return nil
}

// ScaleIDs lists the configured scales in config order.
func (r *Rig) ScaleIDs() []string {
	ids := make([]string, 0, len(r.cfg.Scales))
	for _, p := range r.cfg.Scales {
		ids = append(ids, p.ID)
	}
	return ids
}

// Chip exposes the first simulated chip behind scale id.
func (r *Rig) Chip(id string) *hx711test.Chip {
	r.mu.Lock()
	defer r.mu.Unlock()
	pins := r.pins[id]
	if len(pins) == 0 {
		return nil
	}
	return r.chips[pins[0]]
}

// Start runs the services and returns the host end of the console link.
func (r *Rig) Start(ctx context.Context) (io.ReadWriteCloser, error) {
	ctx, r.cancel = context.WithCancel(ctx)

	console.RegisterTransport(r.tname, func(types.ConsoleTransport) (console.Transport, error) {
		return pipeTransport{name: r.tname, remotes: r.remotes}, nil
	})

	scaleConn := r.bus.NewConnection("scale")
	consoleConn := r.bus.NewConnection("console")
	hbConn := r.bus.NewConnection("heartbeat")
	cfgConn := r.bus.NewConnection("config")

	cfgConn.Publish(cfgConn.NewMessage(bus.T("config", "scale"), r.cfg, true))
	cfgConn.Publish(cfgConn.NewMessage(bus.T("config", "heartbeat"), types.HeartbeatConfig{IntervalMs: 1000}, true))
	cfgConn.Publish(cfgConn.NewMessage(bus.T("config", "console"), types.ConsoleConfig{
		Transport: types.ConsoleTransport{Type: r.tname},
		Scale:     firstID(r.cfg),
		Heartbeat: true,
	}, true))

	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		scalesvc.Run(ctx, scaleConn, &factory{rig: r})
	}()
	go func() {
		defer r.wg.Done()
		console.Start(ctx, consoleConn)
	}()
	var hb heartbeat.Service
	_ = hb.Start(ctx, hbConn)

	select {
	case c := <-r.remotes:
		return c, nil
	case <-ctx.Done():
		r.Stop()
		return nil, ctx.Err()
	case <-time.After(2 * time.Second):
		r.Stop()
		return nil, errors.New("sim: console did not open")
	}
}

// Stop cancels the services and waits for them.
func (r *Rig) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func firstID(cfg types.ScaleConfig) string {
	if len(cfg.Scales) == 0 {
		return ""
	}
	return cfg.Scales[0].ID
}

type factory struct{ rig *Rig }

var simGPIO = hx711.GPIOConfig{ReadyPoll: 50 * time.Microsecond}

func (f *factory) Open(p types.ScaleParams) (scalesvc.Sensor, error) {
	bank := &hx711test.Bank{}
	f.rig.mu.Lock()
	for _, pin := range scalesvc.BankPins(p) {
		if chip, ok := f.rig.chips[pin]; ok {
			bank.Chips = append(bank.Chips, chip)
		}
	}
	f.rig.mu.Unlock()
	switch n := len(bank.Chips); {
	case n == 0 || n != len(p.DataPins)+1:
		return nil, ErrNoScale
	case n > 1:
		eng, err := hx711.NewGPIOMultiEngine(bank.Clock(), bank.Data(), simGPIO)
		if err != nil {
			return nil, err
		}
		m, err := hx711.NewMulti(eng, bank.Clock(), n, hx711test.DeviceConfig())
		if err != nil {
			return nil, err
		}
		return hx711.NewSummed(m), nil
	}
	chip := bank.Chips[0]
	eng := hx711.NewGPIOEngine(chip.Clock(), chip.Data(), simGPIO)
	d := hx711.New(eng, chip.Clock())
	d.Configure(hx711test.DeviceConfig())
	return d, nil
}

func (f *factory) Engine() string { return "sim" }

type pipeTransport struct {
	name    string
	remotes chan net.Conn
}

func (p pipeTransport) Open(ctx context.Context) (io.ReadWriteCloser, error) {
	local, remote := net.Pipe()
	select {
	case p.remotes <- remote:
		return local, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p pipeTransport) String() string { return p.name }

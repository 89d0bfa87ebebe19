// services/scalesvc/service.go
package scalesvc

import (
	"context"
	"slices"
	"time"

	"scalecode-go/bus"
	"scalecode-go/drivers/hx711"
	"scalecode-go/errcode"
	"scalecode-go/scale"
	"scalecode-go/types"
	"scalecode-go/x/mathx"
	"scalecode-go/x/timex"
)

// -----------------------------------------------------------------------------
// Topics
// -----------------------------------------------------------------------------

const (
	TokScale   = "scale"
	TokConfig  = "config"
	TokControl = "control"
	TokValue   = "value"
	TokStatus  = "status"
	TokInfo    = "info"
	TokState   = "state"
)

// Control verbs on scale/<id>/control/<verb>.
const (
	VerbReadNow   = "read_now"
	VerbZero      = "zero"
	VerbCalibrate = "calibrate"
	VerbGain      = "gain"
	VerbPower     = "power"
	VerbSamples   = "samples"

	verbRead      = "read" // periodic, no reply
	verbConfigure = "configure"
)

func ScaleTopic(id string, rest ...any) bus.Topic { return bus.T(TokScale, id).Append(rest...) }

func ControlTopic(id, verb string) bus.Topic { return ScaleTopic(id, TokControl, verb) }

// -----------------------------------------------------------------------------
// Sensors
// -----------------------------------------------------------------------------

// Sensor is what the service needs from a chip. *hx711.Device satisfies it.
type Sensor interface {
	scale.Source
	ValueNoBlock() (int32, error)
	PowerUp(g hx711.Gain) error
	PowerDown() error
	SetGain(g hx711.Gain) error
	Close() error
}

var (
	_ Sensor = (*hx711.Device)(nil)
	_ Sensor = (*hx711.Summed)(nil)
)

// Factory opens the chip described by p. Engine names the conversion
// engine for the info topic ("pio" or "gpio").
type Factory interface {
	Open(p types.ScaleParams) (Sensor, error)
	Engine() string
}

// -----------------------------------------------------------------------------
// Entry point
// -----------------------------------------------------------------------------

// Run blocks until ctx is cancelled. It waits for types.ScaleConfig on
// config/scale and serves every configured scale.
func Run(ctx context.Context, conn *bus.Connection, f Factory) {
	s := &service{
		conn:    conn,
		factory: f,
		scales:  map[string]*entry{},
		results: make(chan result, 16),
	}
	s.loop(ctx)
}

type entry struct {
	params  types.ScaleParams
	w       *worker
	cancel  context.CancelFunc
	period  time.Duration
	nextDue time.Time
	reading bool // a periodic read is queued or running
}

type service struct {
	conn    *bus.Connection
	factory Factory
	scales  map[string]*entry
	results chan result
	timer   *time.Timer
}

// -----------------------------------------------------------------------------
// Main loop
// -----------------------------------------------------------------------------

func (s *service) loop(ctx context.Context) {
	cfgSub := s.conn.Subscribe(bus.T(TokConfig, TokScale))
	ctrlSub := s.conn.Subscribe(bus.T(TokScale, bus.SingleWild, TokControl, bus.SingleWild))
	defer s.conn.Unsubscribe(cfgSub)
	defer s.conn.Unsubscribe(ctrlSub)

	s.publishState("idle", "awaiting_config", nil)

	s.timer = time.NewTimer(time.Hour)
	defer s.timer.Stop()

	for {
		if next := s.earliestDue(); next.IsZero() {
			resetTimer(s.timer, time.Hour)
		} else {
			resetTimer(s.timer, time.Until(next))
		}

		select {
		case <-ctx.Done():
			for id := range s.scales {
				s.remove(id)
			}
			s.publishState("stopped", "context_cancelled", nil)
			return

		case msg := <-cfgSub.Channel():
			var cfg types.ScaleConfig
			if err := decodePayload(msg.Payload, &cfg); err != nil {
				s.publishState("error", "config_decode_failed", err)
				continue
			}
			if err := s.applyConfig(ctx, cfg); err != nil {
				s.publishState("degraded", "apply_config_failed", err)
				continue
			}
			s.publishState("ready", "configured", nil)

		case msg := <-ctrlSub.Channel():
			// scale/<id>/control/<verb>
			if len(msg.Topic) != 4 {
				continue
			}
			id, _ := msg.Topic[1].(string)
			verb, _ := msg.Topic[3].(string)
			e, ok := s.scales[id]
			if !ok {
				s.replyErr(msg, errcode.ScaleMissing)
				continue
			}
			if !knownVerb(verb) {
				s.replyErr(msg, errcode.UnknownCommand)
				continue
			}
			if !e.w.Submit(job{verb: verb, req: msg, payload: msg.Payload}) {
				s.replyErr(msg, errcode.Busy)
				continue
			}
			if verb == VerbReadNow {
				e.nextDue = time.Now().Add(e.period)
			}

		case <-s.timer.C:
			now := time.Now()
			for _, e := range s.scales {
				if e.period <= 0 || now.Before(e.nextDue) {
					continue
				}
				e.nextDue = now.Add(e.period)
				if !e.reading && e.w.Submit(job{verb: verbRead}) {
					e.reading = true
				}
			}

		case r := <-s.results:
			s.handleResult(r)
		}
	}
}

func knownVerb(v string) bool {
	switch v {
	case VerbReadNow, VerbZero, VerbCalibrate, VerbGain, VerbPower, VerbSamples:
		return true
	}
	return false
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

func (s *service) applyConfig(ctx context.Context, cfg types.ScaleConfig) error {
	seen := map[string]struct{}{}
	var firstErr error

	for i := range cfg.Scales {
		p := normaliseParams(cfg.Scales[i])
		if p.ID == "" {
			continue
		}
		seen[p.ID] = struct{}{}

		if e, ok := s.scales[p.ID]; ok {
			if sameWiring(e.params, p) {
				e.params = p
				e.period = time.Duration(p.IntervalMs) * time.Millisecond
				e.nextDue = time.Now().Add(e.period)
				e.w.Submit(job{verb: verbConfigure, payload: p})
				continue
			}
			s.remove(p.ID)
		}

		if err := s.add(ctx, p); err != nil {
			println("[scale] open failed for:", p.ID, "err:", err.Error())
			s.pubRet(ScaleTopic(p.ID, TokStatus), types.ScaleStatus{
				Link:  types.LinkDown,
				TS:    timex.NowMs(),
				Error: string(errcode.MapDriverErr(err)),
			})
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
	}

	for id := range s.scales {
		if _, ok := seen[id]; !ok {
			s.remove(id)
		}
	}
	return firstErr
}

func (s *service) add(ctx context.Context, p types.ScaleParams) error {
	sensor, err := s.factory.Open(p)
	if err != nil {
		return err
	}
	w, err := newWorker(p, sensor, s.results)
	if err != nil {
		sensor.Close()
		return err
	}
	wctx, cancel := context.WithCancel(ctx)
	e := &entry{
		params: p,
		w:      w,
		cancel: cancel,
		period: time.Duration(p.IntervalMs) * time.Millisecond,
	}
	e.nextDue = time.Now().Add(e.period)
	s.scales[p.ID] = e
	go w.run(wctx)

	s.pubRet(ScaleTopic(p.ID, TokInfo), types.ScaleInfo{
		Driver:   "hx711",
		Engine:   s.factory.Engine(),
		ClockPin: p.ClockPin,
		DataPin:  p.DataPin,
		DataPins: p.DataPins,
		Chips:    len(BankPins(p)),
		Rate:     p.Rate,
	})
	w.Submit(job{verb: VerbPower, payload: types.ScalePower{On: true}})
	if p.ZeroOnStart {
		w.Submit(job{verb: VerbZero})
	}
	return nil
}

// remove stops the worker, which closes the sensor, and clears retained state.
func (s *service) remove(id string) {
	e, ok := s.scales[id]
	if !ok {
		return
	}
	e.cancel()
	<-e.w.Done()
	delete(s.scales, id)
	s.pubRet(ScaleTopic(id, TokInfo), nil)
	s.pubRet(ScaleTopic(id, TokValue), nil)
	s.pubRet(ScaleTopic(id, TokStatus), types.ScaleStatus{Link: types.LinkDown, TS: timex.NowMs()})
}

func sameWiring(a, b types.ScaleParams) bool {
	return a.ClockPin == b.ClockPin && a.DataPin == b.DataPin && a.Rate == b.Rate &&
		slices.Equal(a.DataPins, b.DataPins)
}

// BankPins lists the data pins of every chip behind p, DataPin first.
func BankPins(p types.ScaleParams) []int {
	return append([]int{p.DataPin}, p.DataPins...)
}

func normaliseParams(p types.ScaleParams) types.ScaleParams {
	if p.Gain == 0 {
		p.Gain = 128
	}
	if p.Rate != 80 {
		p.Rate = 10
	}
	if p.Unit == "" {
		p.Unit = "g"
	}
	if p.RefUnit == 0 {
		p.RefUnit = 1
	}
	if p.Samples <= 0 {
		p.Samples = 3
	}
	if p.WindowMs == 0 {
		p.WindowMs = 1000
	}
	if p.IntervalMs != 0 {
		p.IntervalMs = mathx.Clamp(p.IntervalMs, 50, 60_000)
	}
	return p
}

func (s *service) earliestDue() time.Time {
	var next time.Time
	for _, e := range s.scales {
		if e.period <= 0 {
			continue
		}
		if next.IsZero() || e.nextDue.Before(next) {
			next = e.nextDue
		}
	}
	return next
}

// -----------------------------------------------------------------------------
// Results
// -----------------------------------------------------------------------------

func (s *service) handleResult(r result) {
	e, ok := s.scales[r.id]
	if !ok {
		return
	}
	if r.job.verb == verbRead {
		e.reading = false
	}
	if r.value != nil {
		s.pubRet(ScaleTopic(r.id, TokValue), *r.value)
	}
	st := r.status
	st.TS = timex.NowMs()
	if r.err != nil {
		code := errcode.MapDriverErr(r.err)
		switch code {
		case errcode.Timeout, errcode.NotReady, errcode.NoSamples:
			st.Link = types.LinkDegraded
		}
		st.Error = string(code)
	}
	s.pubRet(ScaleTopic(r.id, TokStatus), st)

	if r.job.req == nil {
		return
	}
	if r.err != nil {
		s.replyErr(r.job.req, errcode.MapDriverErr(r.err))
		return
	}
	s.conn.Reply(r.job.req, r.reply, false)
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func (s *service) publishState(level, status string, err error) {
	st := types.ServiceState{Level: level, Status: status, TS: timex.NowMs()}
	if err != nil {
		st.Error = err.Error()
		println("[scale]", level, status, st.Error)
	}
	s.pubRet(bus.T(TokScale, TokState), st)
}

func (s *service) replyErr(req *bus.Message, c errcode.Code) {
	if len(req.ReplyTo) == 0 {
		return
	}
	s.conn.Reply(req, types.ErrorReply{OK: false, Error: string(c)}, false)
}

func (s *service) pubRet(t bus.Topic, p any) {
	s.conn.Publish(s.conn.NewMessage(t, p, true))
}

// services/scalesvc/worker.go
package scalesvc

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/chewxy/math32"

	"scalecode-go/bus"
	"scalecode-go/drivers/hx711"
	"scalecode-go/mass"
	"scalecode-go/scale"
	"scalecode-go/types"
	"scalecode-go/x/mathx"
	"scalecode-go/x/timex"
)

const (
	jobQueueSize = 8
	maxSamples   = 80
)

type job struct {
	verb    string
	req     *bus.Message // nil for internal jobs
	payload any
}

type result struct {
	id     string
	job    job
	value  *types.WeightValue
	status types.ScaleStatus
	reply  any
	err    error
}

// worker owns one sensor and its Scale. Every chip operation runs on the
// worker goroutine, so slow reads never stall the service loop.
type worker struct {
	id     string
	sensor Sensor
	sc     *scale.Scale
	opt    scale.Options
	gain   hx711.Gain
	rate   hx711.Rate

	powered bool

	jobs chan job
	sink chan<- result
	done chan struct{}
}

func newWorker(p types.ScaleParams, s Sensor, sink chan<- result) (*worker, error) {
	w := &worker{
		id:     p.ID,
		sensor: s,
		jobs:   make(chan job, jobQueueSize),
		sink:   sink,
		done:   make(chan struct{}),
	}
	if err := w.configure(p); err != nil {
		return nil, err
	}
	return w, nil
}

// Submit queues j without blocking and reports whether it was accepted.
func (w *worker) Submit(j job) bool {
	select {
	case w.jobs <- j:
		return true
	default:
		return false
	}
}

// Done is closed once run has returned and the sensor is closed.
func (w *worker) Done() <-chan struct{} { return w.done }

func (w *worker) run(ctx context.Context) {
	defer close(w.done)
	defer w.sensor.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case j := <-w.jobs:
			r := w.do(ctx, j)
			r.id = w.id
			r.job = j
			r.status = w.status()
			select {
			case w.sink <- r:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (w *worker) do(ctx context.Context, j job) (r result) {
	switch j.verb {
	case verbRead, VerbReadNow:
		if j.verb == verbRead && !w.powered {
			return
		}
		v, err := w.measure(ctx)
		if err != nil {
			r.err = err
			return
		}
		r.value, r.reply = &v, v

	case VerbZero:
		if r.err = w.zero(ctx); r.err != nil {
			return
		}
		r.reply = types.ScaleCalibrated{
			RefUnit: w.sc.RefUnit(),
			Offset:  w.sc.Offset(),
			Raw:     w.sc.Offset(),
		}

	case VerbCalibrate:
		var c types.ScaleCalibrate
		if r.err = decodePayload(j.payload, &c); r.err != nil {
			return
		}
		r.reply, r.err = w.calibrate(ctx, c)

	case VerbGain:
		var g types.ScaleGain
		if r.err = decodePayload(j.payload, &g); r.err != nil {
			return
		}
		if r.err = w.setGain(ctx, g.Gain); r.err != nil {
			return
		}
		r.reply = types.ScaleGain{Gain: w.gain.Factor()}

	case VerbPower:
		var p types.ScalePower
		if r.err = decodePayload(j.payload, &p); r.err != nil {
			return
		}
		if r.err = w.power(ctx, p.On); r.err != nil {
			return
		}
		r.reply = types.ScalePower{On: w.powered}

	case VerbSamples:
		var s types.ScaleSamples
		if r.err = decodePayload(j.payload, &s); r.err != nil {
			return
		}
		if !mathx.Between(s.Samples, 1, maxSamples) {
			r.err = scale.ErrBadOptions
			return
		}
		w.opt.Samples = s.Samples
		r.reply = types.ScaleSamples{Samples: w.opt.Samples}

	case verbConfigure:
		var p types.ScaleParams
		if r.err = decodePayload(j.payload, &p); r.err != nil {
			return
		}
		old := w.gain
		if r.err = w.configure(p); r.err != nil {
			return
		}
		if w.powered && w.gain != old {
			r.err = w.applyGain(ctx)
		}
	}
	return
}

// configure applies params to the Scale, creating it on first use.
func (w *worker) configure(p types.ScaleParams) error {
	u, err := mass.ParseUnit(p.Unit)
	if err != nil {
		return err
	}
	g, err := hx711.GainFromFactor(p.Gain)
	if err != nil {
		return err
	}
	opt, err := optionsFrom(p)
	if err != nil {
		return err
	}
	if w.sc == nil {
		sc, err := scale.New(w.sensor, u, p.RefUnit, p.Offset)
		if err != nil {
			return err
		}
		w.sc = sc
	} else {
		if err := w.sc.SetRefUnit(p.RefUnit); err != nil {
			return err
		}
		w.sc.SetUnit(u)
		w.sc.SetOffset(p.Offset)
	}
	w.gain = g
	w.rate = hx711.Rate10
	if p.Rate == 80 {
		w.rate = hx711.Rate80
	}
	w.opt = opt
	return nil
}

func optionsFrom(p types.ScaleParams) (scale.Options, error) {
	opt := scale.DefaultOptions()
	switch strings.ToLower(p.Strategy) {
	case "", "samples":
	case "time":
		opt.Strategy = scale.StrategyTime
	default:
		return opt, scale.ErrBadOptions
	}
	switch strings.ToLower(p.Read) {
	case "", "median":
	case "average", "mean":
		opt.Read = scale.ReadAverage
	default:
		return opt, scale.ErrBadOptions
	}
	if p.Samples > 0 {
		if p.Samples > maxSamples {
			return opt, scale.ErrBadOptions
		}
		opt.Samples = p.Samples
	}
	if p.WindowMs > 0 {
		opt.Timeout = time.Duration(p.WindowMs) * time.Millisecond
	}
	return opt, nil
}

// readBudget bounds one Scale read: two conversion periods per sample plus
// one settling time.
func (w *worker) readBudget() time.Duration {
	period := timex.Period(w.rate.SPS())
	if w.opt.Strategy == scale.StrategyTime {
		return w.opt.Timeout + 2*period
	}
	return time.Duration(w.opt.Samples)*2*period + w.rate.SettlingTime()
}

func (w *worker) measure(ctx context.Context) (types.WeightValue, error) {
	if !w.powered {
		return types.WeightValue{}, hx711.ErrPoweredDown
	}
	ctx, cancel := context.WithTimeout(ctx, w.readBudget())
	defer cancel()

	w.flush()
	rd, err := w.sc.Measure(ctx, w.opt)
	if err != nil {
		return types.WeightValue{}, err
	}
	raw := int32(math.Round(rd.Raw))
	grams := float32(rd.Mass.In(mass.Gram).Value())
	return types.WeightValue{
		Value: rd.Mass.Value(),
		Unit:  rd.Mass.Unit().String(),
		Text:  rd.Mass.String(),
		Grams: math32.Round(grams*100) / 100,
		Raw:   raw,
		Sat:   hx711.IsMinSaturated(raw) || hx711.IsMaxSaturated(raw),
		TS:    timex.NowMs(),
	}, nil
}

// flush discards conversions buffered since the last read so a reading
// reflects the load now on the scale.
func (w *worker) flush() {
	for i := 0; i < maxSamples; i++ {
		if _, err := w.sensor.ValueNoBlock(); err != nil {
			return
		}
	}
}

func (w *worker) zero(ctx context.Context) error {
	if !w.powered {
		return hx711.ErrPoweredDown
	}
	ctx, cancel := context.WithTimeout(ctx, w.readBudget())
	defer cancel()
	w.flush()
	return w.sc.Zero(ctx, w.opt)
}

// calibrate reads the loaded scale and derives the reference unit from the
// current offset. A unit in the request becomes the scale's unit.
func (w *worker) calibrate(ctx context.Context, c types.ScaleCalibrate) (types.ScaleCalibrated, error) {
	if !w.powered {
		return types.ScaleCalibrated{}, hx711.ErrPoweredDown
	}
	if c.Known <= 0 || math.IsNaN(c.Known) || math.IsInf(c.Known, 0) {
		return types.ScaleCalibrated{}, scale.ErrBadOptions
	}
	u := w.sc.Unit()
	if c.Unit != "" {
		var err error
		if u, err = mass.ParseUnit(c.Unit); err != nil {
			return types.ScaleCalibrated{}, err
		}
	}

	rctx, cancel := context.WithTimeout(ctx, w.readBudget())
	defer cancel()
	w.flush()
	raw, err := w.sc.Read(rctx, w.opt)
	if err != nil {
		return types.ScaleCalibrated{}, err
	}

	ref := scale.Calibrate(float64(w.sc.Offset()), raw, c.Known)
	if err := w.sc.SetUnit(u); err != nil {
		return types.ScaleCalibrated{}, err
	}
	if err := w.sc.SetRefUnit(ref); err != nil {
		return types.ScaleCalibrated{}, err
	}
	println("[scale]", w.id, "calibrated ref_unit:", ref, "offset:", w.sc.Offset())
	return types.ScaleCalibrated{
		RefUnit: ref,
		Offset:  w.sc.Offset(),
		Raw:     int32(math.Round(raw)),
	}, nil
}

func (w *worker) setGain(ctx context.Context, factor int) error {
	g, err := hx711.GainFromFactor(factor)
	if err != nil {
		return err
	}
	w.gain = g
	if !w.powered {
		return nil
	}
	return w.applyGain(ctx)
}

func (w *worker) applyGain(ctx context.Context) error {
	if err := w.sensor.SetGain(w.gain); err != nil {
		return err
	}
	return sleepCtx(ctx, w.rate.SettlingTime())
}

func (w *worker) power(ctx context.Context, on bool) error {
	if !on {
		if err := w.sensor.PowerDown(); err != nil {
			return err
		}
		w.powered = false
		return nil
	}
	if err := w.sensor.PowerUp(w.gain); err != nil {
		return err
	}
	w.powered = true
	return sleepCtx(ctx, w.rate.SettlingTime())
}

func (w *worker) status() types.ScaleStatus {
	link := types.LinkDown
	if w.powered {
		link = types.LinkUp
	}
	return types.ScaleStatus{
		Link:    link,
		Powered: w.powered,
		Gain:    w.gain.Factor(),
		Unit:    w.sc.Unit().String(),
		RefUnit: w.sc.RefUnit(),
		Offset:  w.sc.Offset(),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

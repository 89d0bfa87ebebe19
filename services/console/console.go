// services/console/console.go
package console

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"scalecode-go/bus"
	"scalecode-go/services/heartbeat"
	"scalecode-go/services/scalesvc"
	"scalecode-go/types"
	"scalecode-go/x/shmring"
	"scalecode-go/x/timex"
)

// -----------------------------------------------------------------------------
// Public entry point
// -----------------------------------------------------------------------------

// Start runs the console until ctx is cancelled. It waits for
// types.ConsoleConfig on config/console and serves the line protocol over
// the configured transport.
func Start(ctx context.Context, conn *bus.Connection) {
	s := &Service{
		conn:       conn,
		stateTopic: bus.T("console", "state"),
	}
	s.run(ctx)
}

const (
	defaultScale          = "s0"
	defaultRequestTimeout = 5 * time.Second
	outRingSize           = 1024
	maxLine               = 256
)

// -----------------------------------------------------------------------------
// Service
// -----------------------------------------------------------------------------

type Service struct {
	conn       *bus.Connection
	stateTopic bus.Topic

	mu     sync.Mutex
	curRun context.CancelFunc
	done   chan struct{}
}

func (s *Service) run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(bus.T("config", "console"))
	defer s.conn.Unsubscribe(cfgSub)

	s.publishState("idle", "awaiting_config", nil)

	for {
		select {
		case <-ctx.Done():
			s.stopCurrent()
			return
		case msg, ok := <-cfgSub.Channel():
			if !ok {
				s.publishState("error", "config_subscription_closed", nil)
				return
			}
			cfg, err := decodeConfig(msg.Payload)
			if err != nil {
				s.publishState("error", "config_decode_failed", err)
				continue
			}
			s.reconfigure(ctx, cfg)
		}
	}
}

// stopCurrent cancels the running link and waits for it to let go of the
// transport.
func (s *Service) stopCurrent() {
	s.mu.Lock()
	cancel, done := s.curRun, s.done
	s.curRun, s.done = nil, nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (s *Service) reconfigure(parent context.Context, cfg types.ConsoleConfig) {
	s.stopCurrent()

	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	s.mu.Lock()
	s.curRun, s.done = cancel, done
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.runLink(ctx, cfg)
	}()
}

// -----------------------------------------------------------------------------
// Link supervision and I/O
// -----------------------------------------------------------------------------

func (s *Service) runLink(ctx context.Context, cfg types.ConsoleConfig) {
	tr, err := newTransport(cfg.Transport)
	if err != nil {
		s.publishState("error", "transport_init_failed", err)
		return
	}

	backoff := backoffSeq(250*time.Millisecond, 5*time.Second)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		rwc, err := tr.Open(ctx)
		if err != nil {
			delay := backoff()
			s.publishState("degraded", "dial_failed_retrying", retrying(err, delay))
			if !sleep(ctx, delay) {
				return
			}
			continue
		}

		s.publishState("up", "link_established", nil)
		err = s.handleLink(ctx, cfg, rwc)
		_ = rwc.Close()
		if err == nil {
			s.publishState("idle", "link_closed", nil)
			return
		}
		delay := backoff()
		s.publishState("degraded", "link_lost_retrying", retrying(err, delay))
		if !sleep(ctx, delay) {
			return
		}
	}
}

// handleLink owns one open link. It returns nil when ctx ends and the link
// error otherwise.
func (s *Service) handleLink(ctx context.Context, cfg types.ConsoleConfig, rwc io.ReadWriter) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	valSub := s.conn.Subscribe(bus.T(scalesvc.TokScale, bus.SingleWild, scalesvc.TokValue))
	defer s.conn.Unsubscribe(valSub)

	var hbCh <-chan *bus.Message
	if cfg.Heartbeat {
		hbSub := s.conn.Subscribe(heartbeat.Topic)
		defer s.conn.Unsubscribe(hbSub)
		hbCh = hbSub.Channel()
	}

	sess := &session{
		conn:    s.conn,
		scale:   cfg.Scale,
		timeout: defaultRequestTimeout,
	}
	if sess.scale == "" {
		sess.scale = defaultScale
	}
	if cfg.RequestTimeout > 0 {
		sess.timeout = time.Duration(cfg.RequestTimeout) * time.Millisecond
	}

	out := newLineOut(rwc)
	lines := make(chan string, 4)
	errCh := make(chan error, 2)
	go readLines(ctx, rwc, lines, errCh)
	go out.pump(ctx, errCh)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if err == nil {
				err = io.EOF
			}
			return err
		case line := <-lines:
			if resp := sess.exec(ctx, line); resp != "" {
				out.line(resp)
			}
		case m := <-valSub.Channel():
			if l, ok := weightLine(m); ok {
				out.line(l)
			}
		case m := <-hbCh:
			if hb, ok := m.Payload.(types.Heartbeat); ok {
				out.line(heartbeatLine(hb))
			}
		}
	}
}

// readLines splits the input at '\n', dropping '\r' and overlong lines.
func readLines(ctx context.Context, r io.Reader, lines chan<- string, errCh chan<- error) {
	var (
		buf  [64]byte
		cur  = make([]byte, 0, maxLine)
		skip bool
	)
	for {
		n, err := r.Read(buf[:])
		for _, c := range buf[:n] {
			switch c {
			case '\r':
			case '\n':
				if !skip && len(cur) > 0 {
					select {
					case lines <- string(cur):
					case <-ctx.Done():
						return
					}
				}
				cur, skip = cur[:0], false
			default:
				if len(cur) == maxLine {
					skip = true
					continue
				}
				cur = append(cur, c)
			}
		}
		if err != nil {
			errCh <- err
			return
		}
	}
}

// lineOut queues output in a ring so a slow link never stalls the loop.
// Lines that do not fit are dropped whole.
type lineOut struct {
	w       io.Writer
	ring    *shmring.Ring
	dropped uint32
}

func newLineOut(w io.Writer) *lineOut {
	return &lineOut{w: w, ring: shmring.New(outRingSize)}
}

func (o *lineOut) line(l string) {
	if o.ring.Space() < len(l)+1 {
		o.dropped++
		return
	}
	o.ring.TryWriteFrom([]byte(l))
	o.ring.TryWriteFrom([]byte{'\n'})
}

func (o *lineOut) pump(ctx context.Context, errCh chan<- error) {
	var buf [128]byte
	for {
		n := o.ring.TryReadInto(buf[:])
		if n == 0 {
			select {
			case <-ctx.Done():
				return
			case <-o.ring.Readable():
			}
			continue
		}
		if _, err := o.w.Write(buf[:n]); err != nil {
			errCh <- err
			return
		}
	}
}

// -----------------------------------------------------------------------------
// Utilities
// -----------------------------------------------------------------------------

var errConfigType = errors.New("console: unsupported config payload")

func decodeConfig(p any) (types.ConsoleConfig, error) {
	switch v := p.(type) {
	case types.ConsoleConfig:
		return v, nil
	case *types.ConsoleConfig:
		if v != nil {
			return *v, nil
		}
	case []byte:
		return decodeConfigJSON(v)
	case string:
		return decodeConfigJSON([]byte(v))
	}
	return types.ConsoleConfig{}, errConfigType
}

func (s *Service) publishState(level, status string, err error) {
	st := types.ServiceState{Level: level, Status: status, TS: timex.NowMs()}
	if err != nil {
		st.Error = err.Error()
		println("[console]", level, status, st.Error)
	}
	s.conn.Publish(s.conn.NewMessage(s.stateTopic, st, true))
}

func retrying(err error, delay time.Duration) error {
	return errors.New(err.Error() + " (retry in " + itoa(delay.Milliseconds()) + "ms)")
}

func backoffSeq(min, max time.Duration) func() time.Duration {
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	if max < min {
		max = min
	}
	cur := min
	return func() time.Duration {
		d := cur
		cur *= 2
		if cur > max {
			cur = max
		}
		return d
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

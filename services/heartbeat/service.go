package heartbeat

import (
	"context"
	"encoding/json"
	"time"

	"scalecode-go/bus"
	"scalecode-go/types"
	"scalecode-go/x/timex"
)

var (
	topicConfigHeartbeat = bus.T("config", "heartbeat")

	// Topic carries types.Heartbeat, not retained.
	Topic = bus.T("heartbeat")
)

const (
	defaultInterval = time.Second
	minInterval     = 100 * time.Millisecond
)

type Service struct {
	start time.Time
	seq   uint32
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(topicConfigHeartbeat)
	defer conn.Unsubscribe(cfgSub)

	tick := time.NewTicker(defaultInterval)
	defer tick.Stop()

	// loop until context is cancelled, respond to tick and config changes
	for {
		select {
		case <-ctx.Done():
			println("Info: heartbeat service stopping")
			return
		case <-tick.C:
			s.seq++
			conn.Publish(conn.NewMessage(Topic, types.Heartbeat{
				Seq:      s.seq,
				UptimeMs: time.Since(s.start).Milliseconds(),
				TS:       timex.NowMs(),
			}, false))
		case msg := <-cfgSub.Channel():
			iv, ok := interval(msg.Payload)
			if !ok {
				println("Info: heartbeat config ignored")
				continue
			}
			tick.Reset(iv)
			println("Info: heartbeat interval set to", iv.Milliseconds(), "ms")
		}
	}
}

func interval(p any) (time.Duration, bool) {
	var cfg types.HeartbeatConfig
	switch v := p.(type) {
	case types.HeartbeatConfig:
		cfg = v
	case []byte:
		if json.Unmarshal(v, &cfg) != nil {
			return 0, false
		}
	default:
		return 0, false
	}
	if cfg.IntervalMs <= 0 {
		return 0, false
	}
	d := time.Duration(cfg.IntervalMs) * time.Millisecond
	if d < minInterval {
		d = minInterval
	}
	return d, true
}

// Start the heartbeat service.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	s.start = time.Now()
	go s.serviceLoop(ctx, conn)
	return nil
}

package heartbeat

import (
	"context"
	"testing"
	"time"

	"scalecode-go/bus"
	"scalecode-go/types"
)

func TestHeartbeat_IntervalFromConfig(t *testing.T) {
	b := bus.NewBus(8)
	conn := b.NewConnection("test")
	sub := conn.Subscribe(Topic)
	defer conn.Unsubscribe(sub)

	// Retained config is seen on subscribe, before the first default tick.
	conn.Publish(conn.NewMessage(topicConfigHeartbeat, types.HeartbeatConfig{IntervalMs: 100}, true))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var s Service
	if err := s.Start(ctx, conn); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var last uint32
	deadline := time.After(900 * time.Millisecond)
	for last < 3 {
		select {
		case m := <-sub.Channel():
			hb, ok := m.Payload.(types.Heartbeat)
			if !ok {
				t.Fatalf("payload %T", m.Payload)
			}
			if hb.Seq != last+1 {
				t.Fatalf("seq %d after %d", hb.Seq, last)
			}
			if hb.UptimeMs < 0 || hb.TS == 0 {
				t.Fatalf("heartbeat %+v", hb)
			}
			last = hb.Seq
		case <-deadline:
			t.Fatalf("only %d heartbeats at 100ms", last)
		}
	}
}

func TestInterval(t *testing.T) {
	cases := []struct {
		in   any
		want time.Duration
		ok   bool
	}{
		{types.HeartbeatConfig{IntervalMs: 250}, 250 * time.Millisecond, true},
		{types.HeartbeatConfig{IntervalMs: 5}, minInterval, true},
		{types.HeartbeatConfig{}, 0, false},
		{[]byte(`{"interval_ms":2000}`), 2 * time.Second, true},
		{[]byte(`{`), 0, false},
		{"1000", 0, false},
	}
	for _, c := range cases {
		got, ok := interval(c.in)
		if got != c.want || ok != c.ok {
			t.Fatalf("interval(%v) = %v,%v want %v,%v", c.in, got, ok, c.want, c.ok)
		}
	}
}

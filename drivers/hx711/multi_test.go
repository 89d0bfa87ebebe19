package hx711_test

import (
	"context"
	"testing"
	"time"

	"scalecode-go/drivers/hx711"
	"scalecode-go/drivers/hx711/hx711test"
)

func newMulti(t *testing.T, n int, f func(j int) hx711test.ValueFunc) (*hx711.Multi, *hx711test.Bank) {
	t.Helper()
	bank := hx711test.NewBank(n, f)
	eng, err := hx711.NewGPIOMultiEngine(bank.Clock(), bank.Data(), hx711.GPIOConfig{ReadyPoll: 20 * time.Microsecond})
	if err != nil {
		t.Fatalf("NewGPIOMultiEngine: %v", err)
	}
	m, err := hx711.NewMulti(eng, bank.Clock(), n, hx711test.DeviceConfig())
	if err != nil {
		t.Fatalf("NewMulti: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m, bank
}

// perChip tags values with the chip index and gain.
func perChip(j int) hx711test.ValueFunc {
	return func(g hx711.Gain, n int) int32 {
		return int32(j*1000000 + g.Factor()*1000 + n%1000)
	}
}

func constants(vs ...int32) func(j int) hx711test.ValueFunc {
	return func(j int) hx711test.ValueFunc { return hx711test.Constant(vs[j]) }
}

func TestNewMultiChipCount(t *testing.T) {
	bank := hx711test.NewBank(1, constants(0))
	for _, n := range []int{0, -1, 33} {
		if _, err := hx711.NewMulti(nil, bank.Clock(), n); err != hx711.ErrChipCount {
			t.Fatalf("NewMulti(%d) err = %v", n, err)
		}
	}
	if _, err := hx711.NewGPIOMultiEngine(bank.Clock(), nil); err != hx711.ErrChipCount {
		t.Fatalf("engine with no pins err = %v", err)
	}
}

func TestMultiValues(t *testing.T) {
	want := []int32{100, -200, hx711.MaxValue, hx711.MinValue}
	m, _ := newMulti(t, len(want), constants(want...))
	if m.Chips() != len(want) {
		t.Fatalf("Chips() = %d", m.Chips())
	}
	if err := m.PowerUp(hx711.Gain128); err != nil {
		t.Fatalf("PowerUp: %v", err)
	}
	got := make([]int32, len(want))
	if err := m.ValuesTimeout(time.Second, got); err != nil {
		t.Fatalf("ValuesTimeout: %v", err)
	}
	for j := range want {
		if got[j] != want[j] {
			t.Fatalf("chip %d = %d, want %d", j, got[j], want[j])
		}
	}
	if err := m.ValuesTimeout(time.Second, got[:2]); err != hx711.ErrShortBuffer {
		t.Fatalf("short buffer err = %v", err)
	}
}

func TestMultiSetGain(t *testing.T) {
	m, bank := newMulti(t, 3, perChip)
	bank.Chips[0].SetInterval(time.Millisecond)
	if err := m.PowerUp(hx711.Gain64); err != nil {
		t.Fatalf("PowerUp: %v", err)
	}
	out := make([]int32, 3)
	check := func(g hx711.Gain) {
		t.Helper()
		if err := m.ValuesTimeout(time.Second, out); err != nil {
			t.Fatalf("read at %v: %v", g, err)
		}
		for j, v := range out {
			if int(v/1000000) != j || int(v%1000000/1000) != g.Factor() {
				t.Fatalf("chip %d at %v = %d", j, g, v)
			}
		}
	}
	check(hx711.Gain64)
	if err := m.SetGain(hx711.Gain32); err != nil {
		t.Fatalf("SetGain: %v", err)
	}
	check(hx711.Gain32)
	check(hx711.Gain32)
}

func TestMultiTimeoutOnOneBusyChip(t *testing.T) {
	m, bank := newMulti(t, 2, constants(1, 2))
	bank.Chips[1].SetBusy(true)
	if err := m.PowerUp(hx711.Gain128); err != nil {
		t.Fatalf("PowerUp: %v", err)
	}
	out := make([]int32, 2)
	if err := m.ValuesTimeout(20*time.Millisecond, out); err != hx711.ErrTimeout {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestMultiIsSynced(t *testing.T) {
	m, bank := newMulti(t, 3, constants(0, 0, 0))
	if s := m.SyncState(); s != 0 {
		t.Fatalf("SyncState = %#b", s)
	}
	if !m.IsSynced() {
		t.Fatalf("all ready should be synced")
	}
	bank.Chips[1].SetBusy(true)
	if s := m.SyncState(); s != 0b010 {
		t.Fatalf("SyncState = %#b", s)
	}
	if m.IsSynced() {
		t.Fatalf("one busy chip should not be synced")
	}
	bank.Chips[0].SetBusy(true)
	bank.Chips[2].SetBusy(true)
	if !m.IsSynced() {
		t.Fatalf("all busy should be synced")
	}
}

func TestMultiSync(t *testing.T) {
	m, bank := newMulti(t, 2, perChip)
	if err := m.PowerUp(hx711.Gain128); err != nil {
		t.Fatalf("PowerUp: %v", err)
	}
	before := bank.Chips[0].PowerCycles()
	if err := m.Sync(hx711.Gain64); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	for j, c := range bank.Chips {
		if c.PowerCycles() != before+1 {
			t.Fatalf("chip %d power cycles = %d", j, c.PowerCycles())
		}
	}
	out := make([]int32, 2)
	if err := m.ValuesTimeout(time.Second, out); err != nil {
		t.Fatalf("read: %v", err)
	}
	if out[1]%1000000/1000 != 64 {
		t.Fatalf("after sync = %v", out)
	}
}

func TestMultiAsync(t *testing.T) {
	m, _ := newMulti(t, 2, constants(11, -22))
	if err := m.PowerUp(hx711.Gain128); err != nil {
		t.Fatalf("PowerUp: %v", err)
	}
	req, err := m.Async(context.Background())
	if err != nil {
		t.Fatalf("Async: %v", err)
	}
	if _, err := m.Async(context.Background()); err != hx711.ErrBusy {
		t.Fatalf("second Async err = %v", err)
	}
	select {
	case <-req.Done():
	case <-time.After(time.Second):
		t.Fatalf("request never completed")
	}
	if !req.IsDone() {
		t.Fatalf("IsDone false after Done")
	}
	out := make([]int32, 2)
	if err := req.Values(out); err != nil {
		t.Fatalf("Values: %v", err)
	}
	if out[0] != 11 || out[1] != -22 {
		t.Fatalf("values = %v", out)
	}
	req.Close()
	req.Close()

	req, err = m.Async(context.Background())
	if err != nil {
		t.Fatalf("Async after Close: %v", err)
	}
	req.Close()
}

func TestMultiAsyncCancel(t *testing.T) {
	m, bank := newMulti(t, 2, constants(1, 2))
	bank.Chips[0].SetBusy(true)
	if err := m.PowerUp(hx711.Gain128); err != nil {
		t.Fatalf("PowerUp: %v", err)
	}
	req, err := m.Async(context.Background())
	if err != nil {
		t.Fatalf("Async: %v", err)
	}
	if req.IsDone() {
		t.Fatalf("done while a chip is busy")
	}
	req.Close()
	if err := req.Values(make([]int32, 2)); err != context.Canceled {
		t.Fatalf("Values after Close err = %v", err)
	}
}

func TestMultiPowerUpWhileRunning(t *testing.T) {
	m, bank := newMulti(t, 2, perChip)
	out := make([]int32, 2)
	for _, g := range []hx711.Gain{hx711.Gain64, hx711.Gain128} {
		before := bank.Chips[0].PowerCycles()
		if err := m.PowerUp(g); err != nil {
			t.Fatalf("PowerUp(%v): %v", g, err)
		}
		if bank.Chips[0].PowerCycles() != before+1 {
			t.Fatalf("PowerUp(%v) did not reset the bank", g)
		}
		if err := m.ValuesTimeout(time.Second, out); err != nil {
			t.Fatalf("read at %v: %v", g, err)
		}
		for j, v := range out {
			if int(v%1000000/1000) != g.Factor() {
				t.Fatalf("chip %d at %v = %d", j, g, v)
			}
		}
	}
}

func TestMultiCloseUnblocksValues(t *testing.T) {
	m, bank := newMulti(t, 2, constants(1, 2))
	bank.Chips[1].SetBusy(true)
	if err := m.PowerUp(hx711.Gain128); err != nil {
		t.Fatalf("PowerUp: %v", err)
	}
	errc := make(chan error, 1)
	go func() { errc <- m.Values(context.Background(), make([]int32, 2)) }()
	time.Sleep(5 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		m.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Close blocked behind Values")
	}
	select {
	case err := <-errc:
		if err != hx711.ErrClosed {
			t.Fatalf("Values err = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Values did not return after Close")
	}
}

func TestSummed(t *testing.T) {
	m, _ := newMulti(t, 3, constants(100, -30, 7))
	s := hx711.NewSummed(m)
	if _, err := s.ValueNoBlock(); err != hx711.ErrPoweredDown {
		t.Fatalf("before PowerUp err = %v", err)
	}
	if err := s.PowerUp(hx711.Gain128); err != nil {
		t.Fatalf("PowerUp: %v", err)
	}
	v, err := s.ValueTimeout(time.Second)
	if err != nil || v != 77 {
		t.Fatalf("ValueTimeout = %d, %v; want 77", v, err)
	}
}

func TestSummedBusyChip(t *testing.T) {
	m, bank := newMulti(t, 3, constants(1, 2, 3))
	bank.Chips[2].SetBusy(true)
	s := hx711.NewSummed(m)
	if err := s.PowerUp(hx711.Gain128); err != nil {
		t.Fatalf("PowerUp: %v", err)
	}
	if _, err := s.ValueNoBlock(); err != hx711.ErrNotReady {
		t.Fatalf("ValueNoBlock err = %v", err)
	}
	if _, err := s.ValueTimeout(20 * time.Millisecond); err != hx711.ErrTimeout {
		t.Fatalf("busy chip err = %v, want ErrTimeout", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	if _, err := s.Value(ctx); err != context.DeadlineExceeded {
		t.Fatalf("Value err = %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("Value ignored its deadline")
	}
}

package hx711_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"scalecode-go/drivers/hx711"
	"scalecode-go/drivers/hx711/hx711test"

	"tinygo.org/x/drivers"
)

func newDevice(t *testing.T, f hx711test.ValueFunc) (*hx711.Device, *hx711test.Chip) {
	t.Helper()
	chip := hx711test.NewChip(f)
	eng := hx711.NewGPIOEngine(chip.Clock(), chip.Data(), hx711.GPIOConfig{ReadyPoll: 20 * time.Microsecond})
	d := hx711.New(eng, chip.Clock())
	d.Configure(hx711test.DeviceConfig())
	t.Cleanup(func() { d.Close() })
	return d, chip
}

func TestDeviceValue(t *testing.T) {
	for _, want := range []int32{0, 12345, -12345, hx711.MaxValue, hx711.MinValue} {
		d, _ := newDevice(t, hx711test.Constant(want))
		if err := d.PowerUp(hx711.Gain128); err != nil {
			t.Fatalf("PowerUp: %v", err)
		}
		v, err := d.ValueTimeout(time.Second)
		if err != nil {
			t.Fatalf("ValueTimeout: %v", err)
		}
		if v != want {
			t.Fatalf("value = %d, want %d", v, want)
		}
	}
}

func TestDeviceSequenceInOrder(t *testing.T) {
	d, chip := newDevice(t, hx711test.Sequence(1, 2, 3, 4, 5))
	chip.SetInterval(2 * time.Millisecond)
	if err := d.PowerUp(hx711.Gain128); err != nil {
		t.Fatalf("PowerUp: %v", err)
	}
	prev := int32(0)
	for i := 0; i < 4; i++ {
		v, err := d.ValueTimeout(time.Second)
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if v <= prev {
			t.Fatalf("read %d = %d after %d", i, v, prev)
		}
		prev = v
	}
}

func TestDevicePowerUpAtOtherGain(t *testing.T) {
	d, chip := newDevice(t, hx711test.ByGain)
	if err := d.PowerUp(hx711.Gain64); err != nil {
		t.Fatalf("PowerUp: %v", err)
	}
	for i := 0; i < 5; i++ {
		v, err := d.ValueTimeout(time.Second)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if v/1000 != 64 {
			t.Fatalf("read %d = %d, want a gain 64 value", i, v)
		}
	}
	// The chip woke at 128, so that conversion must have been skipped.
	if served := chip.Served(); len(served) == 0 || served[0] != hx711.Gain128 {
		t.Fatalf("served = %v", served)
	}
}

func TestDeviceSetGain(t *testing.T) {
	d, chip := newDevice(t, hx711test.ByGain)
	chip.SetInterval(time.Millisecond)
	if err := d.PowerUp(hx711.Gain128); err != nil {
		t.Fatalf("PowerUp: %v", err)
	}
	for _, g := range []hx711.Gain{hx711.Gain32, hx711.Gain64, hx711.Gain128, hx711.Gain64} {
		if err := d.SetGain(g); err != nil {
			t.Fatalf("SetGain(%v): %v", g, err)
		}
		if d.Gain() != g {
			t.Fatalf("Gain() = %v", d.Gain())
		}
		for i := 0; i < 3; i++ {
			v, err := d.ValueTimeout(time.Second)
			if err != nil {
				t.Fatalf("read at %v: %v", g, err)
			}
			if int(v/1000) != g.Factor() {
				t.Fatalf("read at %v = %d", g, v)
			}
		}
	}
	if err := d.SetGain(0); err != hx711.ErrInvalidGain {
		t.Fatalf("SetGain(0) err = %v", err)
	}
}

func TestDeviceTimeout(t *testing.T) {
	d, chip := newDevice(t, hx711test.Constant(1))
	chip.SetBusy(true)
	if err := d.PowerUp(hx711.Gain128); err != nil {
		t.Fatalf("PowerUp: %v", err)
	}
	start := time.Now()
	_, err := d.ValueTimeout(20 * time.Millisecond)
	if err != hx711.ErrTimeout {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatalf("returned early")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.Value(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Value(cancelled) err = %v", err)
	}

	chip.SetBusy(false)
	if v, err := d.ValueTimeout(time.Second); err != nil || v != 1 {
		t.Fatalf("after busy: %d, %v", v, err)
	}
}

func TestDeviceValueNoBlock(t *testing.T) {
	d, chip := newDevice(t, hx711test.Constant(7))
	if _, err := d.ValueNoBlock(); err != hx711.ErrPoweredDown {
		t.Fatalf("before PowerUp err = %v", err)
	}
	chip.SetBusy(true)
	if err := d.PowerUp(hx711.Gain128); err != nil {
		t.Fatalf("PowerUp: %v", err)
	}
	if _, err := d.ValueNoBlock(); err != hx711.ErrNotReady {
		t.Fatalf("busy err = %v", err)
	}
	chip.SetBusy(false)
	deadline := time.Now().Add(time.Second)
	for {
		v, err := d.ValueNoBlock()
		if err == nil {
			if v != 7 {
				t.Fatalf("value = %d", v)
			}
			return
		}
		if err != hx711.ErrNotReady {
			t.Fatalf("err = %v", err)
		}
		if time.Now().After(deadline) {
			t.Fatalf("no value within a second")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestDevicePowerCycle(t *testing.T) {
	d, chip := newDevice(t, hx711test.ByGain)
	if err := d.PowerUp(hx711.Gain32); err != nil {
		t.Fatalf("PowerUp: %v", err)
	}
	if _, err := d.ValueTimeout(time.Second); err != nil {
		t.Fatalf("read: %v", err)
	}
	before := chip.PowerCycles()
	if err := d.PowerDown(); err != nil {
		t.Fatalf("PowerDown: %v", err)
	}
	if d.Powered() {
		t.Fatalf("still powered")
	}
	time.Sleep(2 * hx711test.PowerDownAfter)
	if err := d.PowerUp(hx711.Gain32); err != nil {
		t.Fatalf("PowerUp: %v", err)
	}
	if got := chip.PowerCycles(); got != before+1 {
		t.Fatalf("power cycles = %d, want %d", got, before+1)
	}
	v, err := d.ValueTimeout(time.Second)
	if err != nil || v/1000 != 32 {
		t.Fatalf("after power cycle: %d, %v", v, err)
	}
}

func TestDevicePowerUpWithoutWait(t *testing.T) {
	d, chip := newDevice(t, hx711test.ByGain)
	if err := d.PowerUp(hx711.Gain64); err != nil {
		t.Fatalf("PowerUp: %v", err)
	}
	if _, err := d.ValueTimeout(time.Second); err != nil {
		t.Fatalf("read: %v", err)
	}
	// No sleep: PowerUp must hold the clock high itself so the chip resets.
	before := chip.PowerCycles()
	if err := d.PowerDown(); err != nil {
		t.Fatalf("PowerDown: %v", err)
	}
	if err := d.PowerUp(hx711.Gain64); err != nil {
		t.Fatalf("PowerUp: %v", err)
	}
	if chip.PowerCycles() != before+1 {
		t.Fatalf("chip was not reset")
	}
	v, err := d.ValueTimeout(time.Second)
	if err != nil || v/1000 != 64 {
		t.Fatalf("after restart: %d, %v", v, err)
	}
}

func TestDeviceReadWhilePoweredDown(t *testing.T) {
	d, _ := newDevice(t, hx711test.Constant(3))
	if _, err := d.ValueTimeout(10 * time.Millisecond); err != hx711.ErrPoweredDown {
		t.Fatalf("err = %v", err)
	}
	if err := d.PowerUp(99); err != hx711.ErrInvalidGain {
		t.Fatalf("PowerUp(99) err = %v", err)
	}
}

func TestDeviceUpdate(t *testing.T) {
	d, _ := newDevice(t, hx711test.Constant(-4242))
	if err := d.PowerUp(hx711.Gain128); err != nil {
		t.Fatalf("PowerUp: %v", err)
	}
	if err := d.Update(drivers.Temperature); err != nil {
		t.Fatalf("Update(Temperature): %v", err)
	}
	if d.Raw() != 0 {
		t.Fatalf("Raw changed without a voltage update")
	}
	if err := d.Update(drivers.Voltage); err != nil {
		t.Fatalf("Update(Voltage): %v", err)
	}
	if d.Raw() != -4242 {
		t.Fatalf("Raw = %d", d.Raw())
	}
}

func TestDeviceClose(t *testing.T) {
	d, _ := newDevice(t, hx711test.Constant(1))
	if err := d.PowerUp(hx711.Gain128); err != nil {
		t.Fatalf("PowerUp: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := d.ValueTimeout(time.Millisecond); err != hx711.ErrClosed {
		t.Fatalf("Value err = %v", err)
	}
	if _, err := d.ValueNoBlock(); err != hx711.ErrClosed {
		t.Fatalf("ValueNoBlock err = %v", err)
	}
	if err := d.PowerUp(hx711.Gain128); err != hx711.ErrClosed {
		t.Fatalf("PowerUp err = %v", err)
	}
	if err := d.SetGain(hx711.Gain64); err != hx711.ErrClosed {
		t.Fatalf("SetGain err = %v", err)
	}
}

func TestDevicePowerUpWhileRunning(t *testing.T) {
	d, chip := newDevice(t, hx711test.ByGain)
	if err := d.PowerUp(hx711.Gain128); err != nil {
		t.Fatalf("PowerUp: %v", err)
	}
	if err := d.PowerDown(); err != nil {
		t.Fatalf("PowerDown: %v", err)
	}
	// The chip ends up converting at the new gain, so a second PowerUp
	// without a PowerDown must reset it before the engine restarts.
	for _, g := range []hx711.Gain{hx711.Gain64, hx711.Gain128, hx711.Gain32, hx711.Gain128} {
		before := chip.PowerCycles()
		if err := d.PowerUp(g); err != nil {
			t.Fatalf("PowerUp(%v): %v", g, err)
		}
		if chip.PowerCycles() != before+1 {
			t.Fatalf("PowerUp(%v) did not reset the chip", g)
		}
		for i := 0; i < 2; i++ {
			v, err := d.ValueTimeout(time.Second)
			if err != nil {
				t.Fatalf("read at %v: %v", g, err)
			}
			if int(v/1000) != g.Factor() {
				t.Fatalf("read at %v = %d", g, v)
			}
		}
	}
}

func TestDeviceCloseUnblocksValue(t *testing.T) {
	d, chip := newDevice(t, hx711test.Constant(1))
	chip.SetBusy(true)
	if err := d.PowerUp(hx711.Gain128); err != nil {
		t.Fatalf("PowerUp: %v", err)
	}
	errc := make(chan error, 1)
	go func() {
		_, err := d.Value(context.Background())
		errc <- err
	}()
	time.Sleep(5 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		if err := d.SetGain(hx711.Gain64); err != nil {
			t.Errorf("SetGain: %v", err)
		}
		d.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Close blocked behind Value")
	}
	select {
	case err := <-errc:
		if err != hx711.ErrClosed {
			t.Fatalf("Value err = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Value did not return after Close")
	}
}

func TestGPIOEngineDropsOldest(t *testing.T) {
	seq := make([]int32, 1000)
	for i := range seq {
		seq[i] = int32(i + 1)
	}
	d, chip := newDevice(t, hx711test.Sequence(seq...))
	chip.SetInterval(2 * time.Millisecond)
	if err := d.PowerUp(hx711.Gain128); err != nil {
		t.Fatalf("PowerUp: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for len(chip.Served()) < 8 {
		if time.Now().After(deadline) {
			t.Fatalf("chip served %d conversions", len(chip.Served()))
		}
		time.Sleep(100 * time.Microsecond)
	}
	// PowerDown lets the read in progress finish; the FIFO stays readable.
	if err := d.PowerDown(); err != nil {
		t.Fatalf("PowerDown: %v", err)
	}

	var got []int32
	for {
		v, err := d.ValueNoBlock()
		if err == hx711.ErrPoweredDown {
			break
		}
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		got = append(got, v)
	}
	if len(got) != 4 {
		t.Fatalf("buffered = %v, want 4 values", got)
	}
	for i, v := range got {
		if v != got[0]+int32(i) {
			t.Fatalf("buffered = %v, want consecutive conversions", got)
		}
	}
	if got[3] < 8 {
		t.Fatalf("buffered = %v, oldest conversions were kept", got)
	}
}

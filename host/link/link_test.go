package link

import (
	"bufio"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scalecode-go/host/sim"
)

func TestParseLine(t *testing.T) {
	v, err := parseLine(`W s1 0.25 "ton (US)" -3`)
	require.NoError(t, err)
	r := v.(Reading)
	assert.Equal(t, "s1", r.Scale)
	assert.Equal(t, 0.25, r.Value)
	assert.Equal(t, "ton (US)", r.Unit)
	assert.Equal(t, int32(-3), r.Raw)

	v, err = parseLine("H 7 7000")
	require.NoError(t, err)
	assert.Equal(t, Heartbeat{Seq: 7, Uptime: 7 * time.Second}, v)

	v, err = parseLine("OK 420 84000 126000")
	require.NoError(t, err)
	assert.Equal(t, []string{"420", "84000", "126000"}, v.(reply).fields)

	v, err = parseLine("ERR timeout")
	require.NoError(t, err)
	var re *RemoteError
	require.ErrorAs(t, v.(reply).err, &re)
	assert.Equal(t, "timeout", re.Code)

	for _, bad := range []string{"W s0 x g 1", "W s0 1 g", "H 1", "X 1", `W "s0`, "H a 1"} {
		_, err := parseLine(bad)
		assert.ErrorIs(t, err, ErrBadLine, bad)
	}
}

func TestJoinArgs(t *testing.T) {
	assert.Equal(t, `cal 1 "ton (IMP)"`, joinArgs([]string{"cal", "1", "ton (IMP)"}))
	assert.Equal(t, "read", joinArgs([]string{"read"}))
}

func TestNotConnected(t *testing.T) {
	l := New(func() (io.ReadWriteCloser, error) { return nil, io.EOF }, 0)
	_, err := l.Command(context.Background(), "read")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, l.Connect(), io.EOF)
	assert.False(t, l.IsConnected())
	assert.NoError(t, l.Close())
}

// fakeDevice answers every command with resp and can push lines.
func fakeDevice(t *testing.T, resp string) (*Link, net.Conn) {
	local, remote := net.Pipe()
	l := New(func() (io.ReadWriteCloser, error) { return local, nil }, 4)
	require.NoError(t, l.Connect())
	assert.ErrorIs(t, l.Connect(), ErrConnected)
	go func() {
		buf := make([]byte, 256)
		for {
			if _, err := remote.Read(buf); err != nil {
				return
			}
			if resp != "" {
				if _, err := io.WriteString(remote, resp+"\n"); err != nil {
					return
				}
			}
		}
	}()
	t.Cleanup(func() {
		l.Close()
		remote.Close()
	})
	return l, remote
}

func TestCommandRemoteError(t *testing.T) {
	l, _ := fakeDevice(t, "ERR scale_missing")
	_, err := l.Read(context.Background())
	var re *RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "scale_missing", re.Code)
}

func TestCommandContext(t *testing.T) {
	l, _ := fakeDevice(t, "")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := l.Command(ctx, "zero")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLateReplyIsNotTakenByNextCommand(t *testing.T) {
	local, remote := net.Pipe()
	l := New(func() (io.ReadWriteCloser, error) { return local, nil }, 4)
	require.NoError(t, l.Connect())
	t.Cleanup(func() {
		l.Close()
		remote.Close()
	})
	go func() {
		sc := bufio.NewScanner(remote)
		for sc.Scan() {
			resp := "OK " + sc.Text()
			if sc.Text() == "read" {
				time.Sleep(100 * time.Millisecond)
				resp = "OK 1.5 g 1500"
			}
			if _, err := io.WriteString(remote, resp+"\n"); err != nil {
				return
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := l.Command(ctx, "read")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	fields, err := l.Command(context.Background(), "use", "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"use", "s1"}, fields)

	fields, err = l.Command(context.Background(), "gain", "64")
	require.NoError(t, err)
	assert.Equal(t, []string{"gain", "64"}, fields)

	_, err = l.Command(context.Background())
	assert.ErrorIs(t, err, ErrNoCommand)
}

func TestCloseEndsChannels(t *testing.T) {
	local, remote := net.Pipe()
	l := New(func() (io.ReadWriteCloser, error) { return local, nil }, 4)
	require.NoError(t, l.Connect())
	go io.WriteString(remote, "W s0 1 g 1\n")
	select {
	case r := <-l.Readings():
		assert.Equal(t, 1.0, r.Value)
	case <-time.After(time.Second):
		t.Fatal("no reading")
	}
	require.NoError(t, l.Close())
	_, ok := <-l.Readings()
	assert.False(t, ok)
	remote.Close()
}

func TestAgainstSimulator(t *testing.T) {
	rig := sim.New(sim.DefaultConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		rig.Stop()
	})
	rw, err := rig.Start(ctx)
	require.NoError(t, err)

	l := New(func() (io.ReadWriteCloser, error) { return rw, nil }, 0)
	require.NoError(t, l.Connect())
	t.Cleanup(func() { l.Close() })

	c, err := l.Zero(ctx)
	require.NoError(t, err)
	assert.Equal(t, Calibration{RefUnit: 1, Offset: 84000, Raw: 84000}, c)

	require.NoError(t, rig.Place("s0", 50))
	c, err = l.Calibrate(ctx, 0.05, "kg")
	require.NoError(t, err)
	assert.Equal(t, int32(420000), c.RefUnit)

	r, err := l.Read(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.05, r.Value, 1e-9)
	assert.Equal(t, "kg", r.Unit)

	require.NoError(t, l.SetGain(ctx, 64))
	require.NoError(t, l.SetSamples(ctx, 5))
	require.NoError(t, l.Power(ctx, true))

	err = l.Use(ctx, "s9")
	require.NoError(t, err)
	_, err = l.Read(ctx)
	var re *RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "scale_missing", re.Code)

	select {
	case r := <-l.Readings():
		assert.Equal(t, "s0", r.Scale)
	case <-time.After(3 * time.Second):
		t.Fatal("no W line")
	}
}

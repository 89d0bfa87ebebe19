// Package link talks to the scale firmware's line console over a serial
// port (or any byte stream): it parses W and H lines into channels and
// runs commands one at a time.
package link

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/shlex"
	"go.bug.st/serial"
)

const (
	// DefaultBaudRate is used when a UART console is configured; USB CDC
	// ignores it.
	DefaultBaudRate = 115200
	// DefaultBufferSize is the default size of the readings channel.
	DefaultBufferSize = 100
)

var (
	ErrNotConnected = errors.New("link: not connected")
	ErrConnected    = errors.New("link: already connected")
	ErrBadLine      = errors.New("link: malformed line")
	ErrNoCommand    = errors.New("link: empty command")
)

// replyBuffer holds replies that arrive while no command is waiting, such as
// late answers to commands that gave up.
const replyBuffer = 8

// RemoteError is an ERR line from the device.
type RemoteError struct{ Code string }

func (e *RemoteError) Error() string { return "link: device error: " + e.Code }

// Reading is one W line.
type Reading struct {
	Time  time.Time
	Scale string
	Value float64
	Unit  string
	Raw   int32
}

func (r Reading) String() string {
	return fmt.Sprintf("%s %s %s (raw %d)", r.Scale, strconv.FormatFloat(r.Value, 'f', -1, 64), r.Unit, r.Raw)
}

// Heartbeat is one H line.
type Heartbeat struct {
	Seq    uint32
	Uptime time.Duration
}

// Opener opens the byte stream to the device.
type Opener func() (io.ReadWriteCloser, error)

// SerialPort opens name with go.bug.st/serial.
func SerialPort(name string, baud int) Opener {
	if baud == 0 {
		baud = DefaultBaudRate
	}
	return func() (io.ReadWriteCloser, error) {
		p, err := serial.Open(name, &serial.Mode{BaudRate: baud})
		if err != nil {
			return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
		}
		return p, nil
	}
}

// Ports lists serial ports.
func Ports() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	return ports, nil
}

type reply struct {
	fields []string
	err    error
}

// Link is a connection to one device.
type Link struct {
	open    Opener
	bufSize int

	mu        sync.RWMutex
	conn      io.ReadWriteCloser
	connected bool
	done      chan struct{}
	gen       uint64 // bumped by Connect

	readings   chan Reading
	heartbeats chan Heartbeat
	replies    chan reply

	cmdMu sync.Mutex
	// Commands of connection staleGen that gave up before their reply.
	// The device answers in order, so that many replies are discarded.
	stale    int
	staleGen uint64
}

// New returns an unconnected link. bufSize 0 means DefaultBufferSize.
func New(open Opener, bufSize int) *Link {
	if bufSize == 0 {
		bufSize = DefaultBufferSize
	}
	return &Link{open: open, bufSize: bufSize}
}

// Connect opens the stream and starts reading lines.
func (l *Link) Connect() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.connected {
		return ErrConnected
	}
	conn, err := l.open()
	if err != nil {
		return err
	}
	l.conn = conn
	l.connected = true
	l.done = make(chan struct{})
	l.gen++
	l.readings = make(chan Reading, l.bufSize)
	l.heartbeats = make(chan Heartbeat, 4)
	l.replies = make(chan reply, replyBuffer)
	go l.readLines(conn, l.done, l.readings, l.heartbeats, l.replies)
	return nil
}

// Close closes the stream. Readings and Heartbeats are closed once the
// reader has stopped.
func (l *Link) Close() error {
	l.mu.Lock()
	if !l.connected {
		l.mu.Unlock()
		return nil
	}
	conn, done := l.conn, l.done
	l.conn = nil
	l.connected = false
	l.mu.Unlock()

	err := conn.Close()
	<-done
	return err
}

func (l *Link) IsConnected() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.connected
}

// Readings delivers W lines of the current connection; it is closed when the
// connection ends. When the channel is full new readings are dropped.
func (l *Link) Readings() <-chan Reading {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.readings
}

// Heartbeats delivers H lines of the current connection.
func (l *Link) Heartbeats() <-chan Heartbeat {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.heartbeats
}

func (l *Link) readLines(r io.Reader, done chan struct{}, readings chan Reading, heartbeats chan Heartbeat, replies chan reply) {
	defer close(done)
	defer close(readings)
	defer close(heartbeats)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		v, err := parseLine(line)
		if err != nil {
			log.Printf("Failed to parse line '%s': %v", line, err)
			continue
		}
		switch v := v.(type) {
		case Reading:
			select {
			case readings <- v:
			default:
				log.Printf("Readings channel full, dropping reading")
			}
		case Heartbeat:
			select {
			case heartbeats <- v:
			default:
			}
		case reply:
			select {
			case replies <- v:
			default:
				log.Printf("Unsolicited reply '%s'", line)
			}
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		log.Printf("Error reading from device: %v", err)
	}
}

// parseLine turns one console line into a Reading, Heartbeat or reply.
func parseLine(line string) (any, error) {
	f, err := shlex.Split(line)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadLine, err)
	}
	if len(f) == 0 {
		return nil, ErrBadLine
	}
	switch f[0] {
	case "W":
		if len(f) != 5 {
			return nil, fmt.Errorf("%w: W wants 4 fields, got %d", ErrBadLine, len(f)-1)
		}
		v, err := strconv.ParseFloat(f[2], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: value: %v", ErrBadLine, err)
		}
		raw, err := strconv.ParseInt(f[4], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: raw: %v", ErrBadLine, err)
		}
		return Reading{Time: time.Now(), Scale: f[1], Value: v, Unit: f[3], Raw: int32(raw)}, nil
	case "H":
		if len(f) != 3 {
			return nil, fmt.Errorf("%w: H wants 2 fields, got %d", ErrBadLine, len(f)-1)
		}
		seq, err := strconv.ParseUint(f[1], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: seq: %v", ErrBadLine, err)
		}
		up, err := strconv.ParseInt(f[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: uptime: %v", ErrBadLine, err)
		}
		return Heartbeat{Seq: uint32(seq), Uptime: time.Duration(up) * time.Millisecond}, nil
	case "OK":
		return reply{fields: f[1:]}, nil
	case "ERR":
		code := "error"
		if len(f) > 1 {
			code = f[1]
		}
		return reply{err: &RemoteError{Code: code}}, nil
	}
	return nil, fmt.Errorf("%w: unknown kind %q", ErrBadLine, f[0])
}

// Command sends one command and waits for its OK fields or ERR. A command
// abandoned through ctx still gets its reply later; that reply is skipped
// by the next command rather than taken as its answer.
func (l *Link) Command(ctx context.Context, args ...string) ([]string, error) {
	if len(args) == 0 {
		return nil, ErrNoCommand
	}
	l.cmdMu.Lock()
	defer l.cmdMu.Unlock()

	l.mu.RLock()
	conn, replies, done, ok, gen := l.conn, l.replies, l.done, l.connected, l.gen
	l.mu.RUnlock()
	if !ok {
		return nil, ErrNotConnected
	}
	if gen != l.staleGen {
		l.stale, l.staleGen = 0, gen
	}

	if _, err := io.WriteString(conn, joinArgs(args)+"\n"); err != nil {
		return nil, fmt.Errorf("failed to send command: %w", err)
	}
	for {
		select {
		case r := <-replies:
			if l.stale > 0 {
				l.stale--
				continue
			}
			return r.fields, r.err
		case <-done:
			return nil, ErrNotConnected
		case <-ctx.Done():
			l.stale++
			return nil, ctx.Err()
		}
	}
}

func joinArgs(args []string) string {
	out := make([]string, len(args))
	for i, a := range args {
		if strings.ContainsAny(a, " \t") {
			a = `"` + a + `"`
		}
		out[i] = a
	}
	return strings.Join(out, " ")
}

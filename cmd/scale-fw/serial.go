//go:build rp2040 || rp2350

package main

import (
	"context"
	"errors"
	"io"
	"machine"
	"sync/atomic"
	"time"

	"github.com/jangala-dev/tinygo-uartx/uartx"

	"scalecode-go/services/console"
	"scalecode-go/types"
)

var errBadUART = errors.New("scale-fw: no UART for pins")

// usbPort adapts machine.Serial, which has no blocking read, by polling.
type usbPort struct{ closed atomic.Bool }

func (p *usbPort) Read(b []byte) (int, error) {
	for {
		if p.closed.Load() {
			return 0, io.EOF
		}
		if machine.Serial.Buffered() > 0 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	n := 0
	for n < len(b) && machine.Serial.Buffered() > 0 {
		c, err := machine.Serial.ReadByte()
		if err != nil {
			break
		}
		b[n] = c
		n++
	}
	return n, nil
}

func (p *usbPort) Write(b []byte) (int, error) {
	if p.closed.Load() {
		return 0, io.ErrClosedPipe
	}
	return machine.Serial.Write(b)
}

func (p *usbPort) Close() error {
	p.closed.Store(true)
	return nil
}

type usbTransport struct{}

func newUSBTransport(types.ConsoleTransport) (console.Transport, error) { return usbTransport{}, nil }

func (usbTransport) Open(context.Context) (io.ReadWriteCloser, error) { return &usbPort{}, nil }
func (usbTransport) String() string                                     { return "usb" }

// uartPort reads with uartx's context-aware receive; Close cancels it.
type uartPort struct {
	u      *uartx.UART
	ctx    context.Context
	cancel context.CancelFunc
}

func (p *uartPort) Read(b []byte) (int, error) {
	n, err := p.u.RecvSomeContext(p.ctx, b)
	if err != nil && p.ctx.Err() != nil {
		return n, io.EOF
	}
	return n, err
}

func (p *uartPort) Write(b []byte) (int, error) { return p.u.Write(b) }

func (p *uartPort) Close() error {
	p.cancel()
	return nil
}

func dialUART(ctx context.Context, c types.UARTConfig) (io.ReadWriteCloser, error) {
	var hw *uartx.UART
	switch {
	case c.TxPin == 0 && c.RxPin == 1, c.TxPin == 12 && c.RxPin == 13, c.TxPin == 16 && c.RxPin == 17:
		hw = uartx.UART0
	case c.TxPin == 4 && c.RxPin == 5, c.TxPin == 8 && c.RxPin == 9:
		hw = uartx.UART1
	default:
		return nil, errBadUART
	}
	if err := hw.Configure(uartx.UARTConfig{
		BaudRate: uint32(c.Baud),
		TX:       machine.Pin(c.TxPin),
		RX:       machine.Pin(c.RxPin),
	}); err != nil {
		return nil, err
	}
	pctx, cancel := context.WithCancel(ctx)
	return &uartPort{u: hw, ctx: pctx, cancel: cancel}, nil
}

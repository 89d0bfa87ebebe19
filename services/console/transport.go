// services/console/transport.go
package console

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"scalecode-go/types"
)

// Transport opens the byte stream the console talks over.
type Transport interface {
	Open(ctx context.Context) (io.ReadWriteCloser, error)
	String() string
}

type TransportFactory func(types.ConsoleTransport) (Transport, error)

var (
	regMu    sync.RWMutex
	registry = map[string]TransportFactory{}

	ErrUnknownTransport = errors.New("console: unknown transport type")
	ErrNoUARTConfig     = errors.New("console: uart transport requires uart config")
	errNoDial           = errors.New("console: UARTDial not set")
)

// RegisterTransport adds a transport by name, eg. "usb" from platform code.
func RegisterTransport(name string, f TransportFactory) {
	regMu.Lock()
	defer regMu.Unlock()
	registry[name] = f
}

func newTransport(cfg types.ConsoleTransport) (Transport, error) {
	regMu.RLock()
	f, ok := registry[cfg.Type]
	regMu.RUnlock()
	if ok {
		return f(cfg)
	}
	if cfg.Type == "uart" {
		return newUARTTransport(cfg)
	}
	return nil, ErrUnknownTransport
}

// UARTDial is injected by platform code and opens the configured UART.
var UARTDial func(ctx context.Context, u types.UARTConfig) (io.ReadWriteCloser, error)

type uartTransport struct {
	cfg types.UARTConfig
}

func newUARTTransport(cfg types.ConsoleTransport) (Transport, error) {
	if cfg.UART == nil {
		return nil, ErrNoUARTConfig
	}
	return &uartTransport{cfg: *cfg.UART}, nil
}

func (u *uartTransport) Open(ctx context.Context) (io.ReadWriteCloser, error) {
	if UARTDial == nil {
		return nil, errNoDial
	}
	return UARTDial(ctx, u.cfg)
}

func (u *uartTransport) String() string { return "uart" }

func decodeConfigJSON(b []byte) (types.ConsoleConfig, error) {
	var cfg types.ConsoleConfig
	err := json.Unmarshal(b, &cfg)
	return cfg, err
}

package config

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"scalecode-go/bus"
	"scalecode-go/types"
)

// -----------------------------------------------------------------------------
// String constants (live in flash, not RAM)
// -----------------------------------------------------------------------------

const (
	serviceName  = "config"
	configPrefix = "config"
)

type ctxKey string

// CtxDeviceKey is the context key holding the device ID.
const CtxDeviceKey ctxKey = "device"

var (
	ErrNoDevice = errors.New("config: missing device ID in context")
	ErrNoConfig = errors.New("config: no embedded config for device")
	ErrNotObj   = errors.New("config: embedded config is not a JSON object")
)

// EmbeddedConfigLookup allows overriding how configs are resolved.
var EmbeddedConfigLookup = func(device string) ([]byte, bool) {
	b, ok := embeddedConfigs[device]
	return b, ok
}

// decoders turn a known section into the payload type its service expects.
// Unknown sections are published as raw JSON.
var decoders = map[string]func([]byte) (any, error){
	"scale":     decodeAs[types.ScaleConfig],
	"console":   decodeAs[types.ConsoleConfig],
	"heartbeat": decodeAs[types.HeartbeatConfig],
}

func decodeAs[T any](b []byte) (any, error) {
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// -----------------------------------------------------------------------------
// Config Service
// -----------------------------------------------------------------------------

type ConfigService struct {
	Name string
}

func NewConfigService() *ConfigService {
	return &ConfigService{Name: serviceName}
}

// publishConfig publishes each top-level section of the device's embedded
// config retained on config/<section>. A section that fails to decode is
// skipped; the first such error is returned after the rest are published.
func (s *ConfigService) publishConfig(ctx context.Context, conn *bus.Connection) error {
	device, _ := ctx.Value(CtxDeviceKey).(string)
	if device == "" {
		return ErrNoDevice
	}

	raw, ok := EmbeddedConfigLookup(device)
	if !ok || len(raw) == 0 {
		return ErrNoConfig
	}

	var sections map[string]json.RawMessage
	if err := json.Unmarshal(raw, &sections); err != nil || sections == nil {
		return ErrNotObj
	}

	keys := make([]string, 0, len(sections))
	for k := range sections {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var firstErr error
	for _, k := range keys {
		var payload any = []byte(sections[k])
		if dec, ok := decoders[k]; ok {
			v, err := dec(sections[k])
			if err != nil {
				println("[config] section", k, "invalid:", err.Error())
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			payload = v
		}
		conn.Publish(conn.NewMessage(bus.T(configPrefix, k), payload, true))
	}
	return firstErr
}

// Start launches the config publisher in a goroutine.
func (s *ConfigService) Start(ctx context.Context, conn *bus.Connection) {
	go func() {
		if err := s.publishConfig(ctx, conn); err != nil {
			println("[config]", err.Error())
		}
	}()
}

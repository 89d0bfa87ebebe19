package types

// ------------------------
// Console: config/console
// ------------------------

type ConsoleConfig struct {
	Transport ConsoleTransport `json:"transport"`

	// Scale is addressed by commands until "use" picks another.
	Scale string `json:"scale,omitempty"`
	// Heartbeat forwards heartbeats as H lines.
	Heartbeat bool `json:"heartbeat,omitempty"`
	// RequestTimeout bounds each command; default 5000.
	RequestTimeout int `json:"request_timeout_ms,omitempty"`
}

type ConsoleTransport struct {
	// "uart", "usb" or any name registered with console.RegisterTransport.
	Type string      `json:"type"`
	UART *UARTConfig `json:"uart,omitempty"`
}

// UARTConfig carries what platform code needs to open a UART.
type UARTConfig struct {
	Baud  int `json:"baud"`
	RxPin int `json:"rx_pin"`
	TxPin int `json:"tx_pin"`
}

// ------------------------
// Heartbeat
// ------------------------

// HeartbeatConfig is supplied on "config/heartbeat".
type HeartbeatConfig struct {
	IntervalMs int `json:"interval_ms"`
}

// Heartbeat is published (not retained) on "heartbeat".
type Heartbeat struct {
	Seq      uint32 `json:"seq"`
	UptimeMs int64  `json:"uptime_ms"`
	TS       int64  `json:"ts_ms"`
}

package config

// -----------------------------------------------------------------------------
// Embedded configuration
//
// Key: device ID (same value placed in ctx under CtxDeviceKey)
// Val: raw JSON bytes for that device
// -----------------------------------------------------------------------------

// One scale on GP2 (PD_SCK) / GP3 (DOUT) with the RATE pin tied high, the
// console on USB.
const cfgPico = `{
  "scale": {
    "scales": [
      {
        "id": "s0",
        "clock_pin": 2,
        "data_pin": 3,
        "gain": 128,
        "rate": 80,
        "unit": "g",
        "ref_unit": 1,
        "offset": 0,
        "samples": 5,
        "interval_ms": 250,
        "zero_on_start": true
      }
    ]
  },
  "console": {
    "transport": {"type": "usb"},
    "scale": "s0",
    "heartbeat": true
  },
  "heartbeat": {
    "interval_ms": 2000
  }
}`

// Two scales; the console on UART0 for a headless rig.
const cfgPicoDual = `{
  "scale": {
    "scales": [
      {"id": "left", "clock_pin": 2, "data_pin": 3, "rate": 10, "ref_unit": 1, "interval_ms": 500},
      {"id": "right", "clock_pin": 4, "data_pin": 5, "rate": 10, "ref_unit": 1, "interval_ms": 500}
    ]
  },
  "console": {
    "transport": {"type": "uart", "uart": {"baud": 115200, "tx_pin": 0, "rx_pin": 1}},
    "scale": "left"
  },
  "heartbeat": {
    "interval_ms": 5000
  }
}`

// A platform on four load cells, one HX711 each, sharing PD_SCK on GP2.
const cfgPicoPlatform = `{
  "scale": {
    "scales": [
      {
        "id": "s0",
        "clock_pin": 2,
        "data_pin": 6,
        "data_pins": [7, 8, 9],
        "rate": 80,
        "ref_unit": 1,
        "samples": 5,
        "interval_ms": 250,
        "zero_on_start": true
      }
    ]
  },
  "console": {
    "transport": {"type": "usb"},
    "scale": "s0",
    "heartbeat": true
  },
  "heartbeat": {
    "interval_ms": 2000
  }
}`

var embeddedConfigs = map[string][]byte{
	"pico":          []byte(cfgPico),
	"pico-dual":     []byte(cfgPicoDual),
	"pico-platform": []byte(cfgPicoPlatform),
}

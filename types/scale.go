package types

// ------------------------
// Scale configuration
// ------------------------

// ScaleConfig is supplied retained on topic "config/scale". Publishing a new
// one replaces the whole set: scales missing from it are closed.
type ScaleConfig struct {
	Scales []ScaleParams `json:"scales"`
}

type ScaleParams struct {
	ID       string `json:"id"`
	ClockPin int    `json:"clock_pin"`
	DataPin  int    `json:"data_pin"`
	// DataPins adds chips on the same PD_SCK, one per load cell under a
	// shared platform. The scale reads the sum of every chip.
	DataPins []int  `json:"data_pins,omitempty"`
	Gain     int    `json:"gain,omitempty"` // 128 (default), 64 or 32
	Rate     int    `json:"rate,omitempty"` // 10 (default) or 80 SPS, as wired

	Unit    string `json:"unit,omitempty"` // mass unit name, default "g"
	RefUnit int32  `json:"ref_unit"`       // raw counts per unit; 0 is coerced to 1
	Offset  int32  `json:"offset"`         // raw value of the empty scale

	Strategy   string `json:"strategy,omitempty"` // "samples" (default) | "time"
	Read       string `json:"read,omitempty"`     // "median" (default) | "average"
	Samples    int    `json:"samples,omitempty"`  // default 3
	WindowMs   uint32 `json:"window_ms,omitempty"`
	IntervalMs uint32 `json:"interval_ms,omitempty"` // 0 = publish on read_now only

	ZeroOnStart bool `json:"zero_on_start,omitempty"`
}

// ------------------------
// Scale state (retained)
// ------------------------

// ScaleInfo is published retained on scale/<id>/info.
type ScaleInfo struct {
	Driver   string `json:"driver"` // "hx711"
	Engine   string `json:"engine"` // "pio" | "gpio"
	ClockPin int    `json:"clock_pin"`
	DataPin  int    `json:"data_pin"`
	DataPins []int  `json:"data_pins,omitempty"`
	Chips    int    `json:"chips"`
	Rate     int    `json:"rate"`
}

// ScaleStatus is published retained on scale/<id>/status.
type ScaleStatus struct {
	Link    Link   `json:"link"`
	Powered bool   `json:"powered"`
	Gain    int    `json:"gain"`
	Unit    string `json:"unit"`
	RefUnit int32  `json:"ref_unit"`
	Offset  int32  `json:"offset"`
	TS      int64  `json:"ts_ms"`
	Error   string `json:"error,omitempty"`
}

// WeightValue is published retained on scale/<id>/value and is the reply
// to read_now.
type WeightValue struct {
	Value float64 `json:"value"` // in Unit
	Unit  string  `json:"unit"`
	Text  string  `json:"text"`  // e.g. "1.50 kg"
	Grams float32 `json:"grams"` // rounded to 0.01 g
	Raw   int32   `json:"raw"`   // reduced raw value before offset
	Sat   bool    `json:"saturated,omitempty"`
	TS    int64   `json:"ts_ms"`
}

// ------------------------
// Scale controls: scale/<id>/control/<verb>
// ------------------------

type ScaleCalibrate struct { // verb: "calibrate"
	Known float64 `json:"known"`          // weight of the load on the scale
	Unit  string  `json:"unit,omitempty"` // unit of Known; default the scale's
}

type ScaleCalibrated struct {
	RefUnit int32 `json:"ref_unit"`
	Offset  int32 `json:"offset"`
	Raw     int32 `json:"raw"`
}

type ScaleGain struct { // verb: "gain"
	Gain int `json:"gain"`
}

type ScalePower struct { // verb: "power"
	On bool `json:"on"`
}

type ScaleSamples struct { // verb: "samples"
	Samples int `json:"samples"`
}

// read_now takes no payload and replies with WeightValue.

package errcode

import "errors"

// Code is a stable, bus-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK             Code = "ok"
	Busy           Code = "busy"
	Unsupported    Code = "unsupported"
	InvalidParams  Code = "invalid_params"
	InvalidPayload Code = "invalid_payload"
	InvalidTopic   Code = "invalid_topic"
	UnknownCommand Code = "unknown_command"
	NotReady       Code = "not_ready"
	Timeout        Code = "timeout"
	Closed         Code = "closed"

	// Scale / ADC specific.
	InvalidGain  Code = "invalid_gain"
	InvalidUnit  Code = "invalid_unit"
	ZeroRefUnit  Code = "zero_ref_unit"
	NoSamples    Code = "no_samples"
	Saturated    Code = "saturated"
	PoweredDown  Code = "powered_down"
	ScaleMissing Code = "scale_missing"

	Error Code = "error" // generic fallback
)

// E wraps a Code with the failing operation and a cause.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	if e.Msg != "" {
		return string(e.C) + ": " + e.Msg
	}
	return string(e.C)
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Of extracts a Code from an error, defaulting to Error.
// Wrapped codes are found through errors.As.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	type coder interface{ Code() Code }
	var x coder
	if errors.As(err, &x) {
		return x.Code()
	}
	return Error
}

// Mapper turns a driver error into a Code, reporting false when it has no opinion.
type Mapper func(error) (Code, bool)

var mappers []Mapper

// RegisterMapper adds a driver mapping consulted by MapDriverErr.
// Call from package init only.
func RegisterMapper(m Mapper) { mappers = append(mappers, m) }

// MapDriverErr maps low-level driver errors to a Code.
func MapDriverErr(err error) Code {
	if err == nil {
		return OK
	}
	for _, m := range mappers {
		if c, ok := m(err); ok {
			return c
		}
	}
	return Of(err)
}

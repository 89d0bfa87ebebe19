// services/scalesvc/payload.go
package scalesvc

import (
	"context"
	"encoding/json"
	"errors"

	"scalecode-go/drivers/hx711"
	"scalecode-go/errcode"
	"scalecode-go/mass"
	"scalecode-go/scale"
)

func init() {
	errcode.RegisterMapper(mapScaleErr)
}

// mapScaleErr gives driver and scale errors their bus codes.
func mapScaleErr(err error) (errcode.Code, bool) {
	switch {
	case errors.Is(err, hx711.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return errcode.Timeout, true
	case errors.Is(err, hx711.ErrNotReady):
		return errcode.NotReady, true
	case errors.Is(err, hx711.ErrInvalidGain):
		return errcode.InvalidGain, true
	case errors.Is(err, hx711.ErrPoweredDown):
		return errcode.PoweredDown, true
	case errors.Is(err, hx711.ErrClosed):
		return errcode.Closed, true
	case errors.Is(err, hx711.ErrBusy):
		return errcode.Busy, true
	case errors.Is(err, scale.ErrZeroRefUnit):
		return errcode.ZeroRefUnit, true
	case errors.Is(err, scale.ErrNoSamples):
		return errcode.NoSamples, true
	case errors.Is(err, scale.ErrBadOptions), errors.Is(err, hx711.ErrChipCount):
		return errcode.InvalidParams, true
	case errors.Is(err, mass.ErrInvalidUnit):
		return errcode.InvalidUnit, true
	}
	return "", false
}

// decodePayload fills dst from a bus payload. Values already of type T (or
// *T) are taken as is; bytes and strings are JSON; anything else goes through
// a JSON round trip, which covers maps from a host bridge.
func decodePayload[T any](src any, dst *T) error {
	switch v := src.(type) {
	case nil:
		return errcode.InvalidPayload
	case T:
		*dst = v
		return nil
	case *T:
		if v == nil {
			return errcode.InvalidPayload
		}
		*dst = *v
		return nil
	case []byte:
		return wrapDecode(json.Unmarshal(v, dst))
	case string:
		return wrapDecode(json.Unmarshal([]byte(v), dst))
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return wrapDecode(err)
		}
		return wrapDecode(json.Unmarshal(b, dst))
	}
}

func wrapDecode(err error) error {
	if err == nil {
		return nil
	}
	return &errcode.E{C: errcode.InvalidPayload, Op: "decode", Msg: err.Error(), Err: err}
}

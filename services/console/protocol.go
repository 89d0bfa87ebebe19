// services/console/protocol.go
package console

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/shlex"

	"scalecode-go/bus"
	"scalecode-go/errcode"
	"scalecode-go/mass"
	"scalecode-go/services/scalesvc"
	"scalecode-go/types"
	"scalecode-go/x/conv"
	"scalecode-go/x/strconvx"
)

// Line protocol, one line each way per event:
//
//	-> W <id> <value> <unit> <raw>     weight published by a scale
//	-> H <seq> <uptime_ms>             heartbeat, when enabled
//	<- read | zero | cal <known> [unit] | gain <128|64|32>
//	   power <up|down> | samples <n> | use <id> | help
//	-> OK [...] | ERR <code>
//
// Tokens are split shell-style, so units with spaces are quoted:
// cal 1 "ton (IMP)".

var commands = []string{"read", "zero", "cal", "gain", "power", "samples", "use", "help"}

type session struct {
	conn    *bus.Connection
	scale   string
	timeout time.Duration
}

// exec runs one command line and returns the response line, "" for none.
func (s *session) exec(ctx context.Context, line string) string {
	args, err := shlex.Split(line)
	if err != nil {
		return errLine(errcode.InvalidParams)
	}
	if len(args) == 0 {
		return ""
	}
	cmd, args := strings.ToLower(args[0]), args[1:]

	var (
		verb    string
		payload any
	)
	switch cmd {
	case "help", "?":
		return "OK " + strings.Join(commands, " ")

	case "use":
		if len(args) != 1 {
			return errLine(errcode.InvalidParams)
		}
		s.scale = args[0]
		return "OK " + s.scale

	case "read":
		verb = scalesvc.VerbReadNow

	case "zero":
		verb = scalesvc.VerbZero

	case "cal":
		if len(args) < 1 || len(args) > 2 {
			return errLine(errcode.InvalidParams)
		}
		known, err := strconvx.ParseFloat(args[0])
		if err != nil {
			return errLine(errcode.InvalidParams)
		}
		c := types.ScaleCalibrate{Known: known}
		if len(args) == 2 {
			c.Unit = args[1]
		}
		verb, payload = scalesvc.VerbCalibrate, c

	case "gain":
		if len(args) != 1 {
			return errLine(errcode.InvalidParams)
		}
		g, err := strconvx.Atoi(args[0])
		if err != nil {
			return errLine(errcode.InvalidParams)
		}
		verb, payload = scalesvc.VerbGain, types.ScaleGain{Gain: g}

	case "power":
		if len(args) != 1 {
			return errLine(errcode.InvalidParams)
		}
		var on bool
		switch strings.ToLower(args[0]) {
		case "up", "on":
			on = true
		case "down", "off":
		default:
			return errLine(errcode.InvalidParams)
		}
		verb, payload = scalesvc.VerbPower, types.ScalePower{On: on}

	case "samples":
		if len(args) != 1 {
			return errLine(errcode.InvalidParams)
		}
		n, err := strconvx.Atoi(args[0])
		if err != nil {
			return errLine(errcode.InvalidParams)
		}
		verb, payload = scalesvc.VerbSamples, types.ScaleSamples{Samples: n}

	default:
		return errLine(errcode.UnknownCommand)
	}

	rctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	reply, err := s.conn.RequestWait(rctx, s.conn.NewMessage(scalesvc.ControlTopic(s.scale, verb), payload, false))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return errLine(errcode.Timeout)
		}
		return errLine(errcode.Of(err))
	}
	return replyLine(reply.Payload)
}

func replyLine(p any) string {
	switch v := p.(type) {
	case types.ErrorReply:
		return errLine(errcode.Code(v.Error))
	case types.WeightValue:
		return "OK " + formatFloat(v.Value) + " " + quoteToken(v.Unit) + " " + itoa(int64(v.Raw))
	case types.ScaleCalibrated:
		return "OK " + itoa(int64(v.RefUnit)) + " " + itoa(int64(v.Offset)) + " " + itoa(int64(v.Raw))
	case types.ScaleGain:
		return "OK " + itoa(int64(v.Gain))
	case types.ScalePower:
		if v.On {
			return "OK up"
		}
		return "OK down"
	case types.ScaleSamples:
		return "OK " + itoa(int64(v.Samples))
	}
	return "OK"
}

// weightLine renders a retained or live scale/<id>/value message.
func weightLine(m *bus.Message) (string, bool) {
	v, ok := m.Payload.(types.WeightValue)
	if !ok || len(m.Topic) != 3 {
		return "", false
	}
	id, _ := m.Topic[1].(string)
	return "W " + id + " " + formatFloat(v.Value) + " " + quoteToken(v.Unit) + " " + itoa(int64(v.Raw)), true
}

func heartbeatLine(hb types.Heartbeat) string {
	return "H " + itoa(int64(hb.Seq)) + " " + itoa(hb.UptimeMs)
}

func errLine(c errcode.Code) string { return "ERR " + string(c) }

func formatFloat(v float64) string {
	return strconvx.FormatFloat(v, mass.Decimals(v))
}

func itoa(n int64) string {
	var buf [20]byte
	return string(conv.AppendInt(buf[:0], n))
}

func quoteToken(s string) string {
	if strings.ContainsAny(s, " \t") {
		return `"` + s + `"`
	}
	return s
}

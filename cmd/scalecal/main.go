// Command scalecal walks through calibrating a scale: zero it empty, then
// weigh a known object, and report (optionally save) the reference unit
// and zero offset.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/peterh/liner"

	"scalecode-go/host/config"
	"scalecode-go/host/link"
	"scalecode-go/host/sim"
	"scalecode-go/mass"
)

const maxSamples = 80

type prompter interface {
	Prompt(string) (string, error)
}

func main() {
	var (
		portFlag   = flag.String("p", "", "Serial port override (e.g. COM3 or /dev/ttyACM0)")
		configFlag = flag.String("config", "scale.yaml", "Configuration file path")
		simFlag    = flag.Bool("sim", false, "Calibrate a simulated scale carrying 100 g")
	)
	flag.Parse()

	log.SetPrefix("scalecal: ")
	log.SetFlags(0)

	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}

	ctx := context.Background()
	open := link.SerialPort(cfg.Serial.Port, cfg.Serial.Baud)
	var placed func()
	if *simFlag {
		rig := sim.New(sim.DefaultConfig(), nil)
		defer rig.Stop()
		rw, err := rig.Start(ctx)
		if err != nil {
			log.Fatalf("could not start simulator: %+v", err)
		}
		open = func() (io.ReadWriteCloser, error) { return rw, nil }
		placed = func() { _ = rig.Place(rig.ScaleIDs()[0], 100) }
	}

	dev := link.New(open, 0)
	if err := dev.Connect(); err != nil {
		log.Fatalf("could not connect: %+v", err)
	}
	defer dev.Close()

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	w := &wizard{
		p:      line,
		dev:    dev,
		cfg:    cfg,
		out:    os.Stdout,
		placed: placed,
	}
	c, err := w.run(ctx)
	if err != nil {
		if errors.Is(err, liner.ErrPromptAborted) {
			return
		}
		log.Fatalf("%+v", err)
	}

	ans, err := line.Prompt(fmt.Sprintf("Save to %s? [y/N] ", *configFlag))
	if err != nil || !strings.HasPrefix(strings.ToLower(ans), "y") {
		return
	}
	cfg.Scale.RefUnit = c.RefUnit
	cfg.Scale.Offset = c.Offset
	cfg.Scale.Unit = cfg.Calibration.Unit
	if err := cfg.Save(*configFlag); err != nil {
		log.Fatalf("%+v", err)
	}
}

type wizard struct {
	p      prompter
	dev    *link.Link
	cfg    *config.Config
	out    io.Writer
	placed func() // called once the user says the object is on the scale
}

func (w *wizard) run(ctx context.Context) (link.Calibration, error) {
	cal := &w.cfg.Calibration
	fmt.Fprint(w.out, `========================================
HX711 Calibration
========================================

Find an object you know the weight of. If you can't find anything,
try looking up your phone's weight and use that.

`)

	if err := w.dev.Use(ctx, w.cfg.Scale.ID); err != nil {
		return link.Calibration{}, fmt.Errorf("could not select scale %q: %w", w.cfg.Scale.ID, err)
	}

	for {
		s, err := w.ask("1. Unit to measure the object in (eg. g, kg, lb, oz)", cal.Unit)
		if err != nil {
			return link.Calibration{}, err
		}
		u, err := mass.ParseUnit(s)
		if err != nil {
			fmt.Fprintf(w.out, "   unknown unit %q\n", s)
			continue
		}
		cal.Unit = u.String()
		break
	}

	for {
		s, err := w.ask("2. Weight of the object in "+cal.Unit, strconv.FormatFloat(cal.Known, 'f', -1, 64))
		if err != nil {
			return link.Calibration{}, err
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v <= 0 || math.IsInf(v, 0) {
			fmt.Fprintf(w.out, "   %q is not a positive number\n", s)
			continue
		}
		cal.Known = v
		break
	}

	for {
		s, err := w.ask(fmt.Sprintf("3. Samples per reading (1-%d)", maxSamples), strconv.Itoa(cal.Samples))
		if err != nil {
			return link.Calibration{}, err
		}
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			fmt.Fprintf(w.out, "   %q is not a positive whole number\n", s)
			continue
		}
		if n > maxSamples {
			fmt.Fprintf(w.out, "   using %d samples\n", maxSamples)
			n = maxSamples
		}
		cal.Samples = n
		break
	}
	if err := w.dev.SetSamples(ctx, cal.Samples); err != nil {
		return link.Calibration{}, err
	}

	if _, err := w.p.Prompt("4. Remove all objects from the scale and press enter."); err != nil {
		return link.Calibration{}, err
	}
	fmt.Fprintln(w.out, "Working...")
	zero, err := w.dev.Zero(ctx)
	if err != nil {
		return link.Calibration{}, fmt.Errorf("failed to read from scale: %w", err)
	}

	if _, err := w.p.Prompt("5. Place the object on the scale and press enter."); err != nil {
		return link.Calibration{}, err
	}
	if w.placed != nil {
		w.placed()
	}
	fmt.Fprintln(w.out, "Working...")
	c, err := w.dev.Calibrate(ctx, cal.Known, cal.Unit)
	if err != nil {
		return link.Calibration{}, fmt.Errorf("failed to read from scale: %w", err)
	}

	fmt.Fprintf(w.out, `
Known weight (your object): %s %s
Raw value over %d samples: %d

-> REFERENCE UNIT: %d
-> ZERO VALUE: %d

`, strconv.FormatFloat(cal.Known, 'f', -1, 64), cal.Unit, cal.Samples, c.Raw, c.RefUnit, zero.Offset)
	c.Offset = zero.Offset
	return c, nil
}

// ask prompts with a default shown in brackets; an empty answer takes it.
func (w *wizard) ask(q, def string) (string, error) {
	s, err := w.p.Prompt(q + " [" + def + "]: ")
	if err != nil {
		return "", err
	}
	if s = strings.TrimSpace(s); s == "" {
		return def, nil
	}
	return s, nil
}

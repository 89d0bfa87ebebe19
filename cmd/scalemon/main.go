// Command scalemon logs the weights and heartbeats a scale reports on its
// console and warns when the heartbeat stops.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"time"

	"golang.org/x/sync/errgroup"

	"scalecode-go/host/config"
	"scalecode-go/host/link"
	"scalecode-go/host/sim"
)

func main() {
	var (
		portFlag   = flag.String("p", "", "Serial port override (e.g. COM3 or /dev/ttyACM0)")
		configFlag = flag.String("config", "scale.yaml", "Configuration file path")
		simFlag    = flag.Bool("sim", false, "Use a simulated scale instead of the serial port")
		listFlag   = flag.Bool("list", false, "List serial ports and exit")
	)
	flag.Parse()

	log.SetPrefix("scalemon: ")
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	if *listFlag {
		ports, err := link.Ports()
		if err != nil {
			log.Fatalf("%+v", err)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	open := link.SerialPort(cfg.Serial.Port, cfg.Serial.Baud)
	if *simFlag {
		rig := sim.New(sim.DefaultConfig(), nil)
		defer rig.Stop()
		rw, err := rig.Start(ctx)
		if err != nil {
			log.Fatalf("could not start simulator: %+v", err)
		}
		open = func() (io.ReadWriteCloser, error) { return rw, nil }
	}

	err = run(ctx, cfg, open, os.Stdout)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("%+v", err)
	}
}

var errLinkClosed = errors.New("scalemon: link closed")

func run(ctx context.Context, cfg *config.Config, open link.Opener, out io.Writer) error {
	dev := link.New(open, cfg.Monitor.BufferSize)
	if err := dev.Connect(); err != nil {
		return fmt.Errorf("could not connect: %w", err)
	}
	defer dev.Close()

	cctx, cancel := context.WithTimeout(ctx, cfg.Monitor.CommandTimeout)
	err := dev.Use(cctx, cfg.Scale.ID)
	cancel()
	if err != nil {
		return fmt.Errorf("could not select scale %q: %w", cfg.Scale.ID, err)
	}

	grp, ctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		for {
			select {
			case r, ok := <-dev.Readings():
				if !ok {
					return errLinkClosed
				}
				fmt.Fprintf(out, "%s %s\n", r.Time.Format(time.RFC3339Nano), r)
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
	grp.Go(func() error {
		return watchHeartbeat(ctx, dev.Heartbeats(), cfg.Monitor.HeartbeatTimeout)
	})
	return grp.Wait()
}

// watchHeartbeat logs when no heartbeat arrives within timeout and when
// the device's uptime goes backwards, which means it rebooted.
func watchHeartbeat(ctx context.Context, hbs <-chan link.Heartbeat, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var (
		last  link.Heartbeat
		seen  bool
		stale bool
	)
	for {
		select {
		case hb, ok := <-hbs:
			if !ok {
				return errLinkClosed
			}
			if seen && hb.Uptime < last.Uptime {
				log.Printf("device restarted (uptime %v, was %v)", hb.Uptime, last.Uptime)
			}
			if stale {
				log.Printf("heartbeat back (seq %d)", hb.Seq)
				stale = false
			}
			last, seen = hb, true
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(timeout)
		case <-timer.C:
			log.Printf("no heartbeat for %v", timeout)
			stale = true
			timer.Reset(timeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

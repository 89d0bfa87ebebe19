//go:build !(rp2040 || rp2350)

// Command scalecode runs the scale firmware against simulated chips and
// wires its console to stdin and stdout, so the line protocol can be
// tried by hand:
//
//	$ go run . -grams 250
//	W s0 84000 g 84000
//	zero
//	OK 1 84000 84000
package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"

	"scalecode-go/host/sim"
)

func main() {
	grams := flag.Float64("grams", 0, "load placed on the scale after start")
	flag.Parse()

	log.SetPrefix("scalecode: ")
	log.SetFlags(0)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rig := sim.New(sim.DefaultConfig(), nil)
	defer rig.Stop()
	rw, err := rig.Start(ctx)
	if err != nil {
		log.Fatalf("could not start simulator: %+v", err)
	}
	defer rw.Close()

	if *grams != 0 {
		if err := rig.Place(rig.ScaleIDs()[0], *grams); err != nil {
			log.Fatalf("%+v", err)
		}
	}

	go func() {
		_, _ = io.Copy(rw, os.Stdin)
		stop()
	}()
	go func() {
		_, _ = io.Copy(os.Stdout, rw)
		stop()
	}()
	<-ctx.Done()
}

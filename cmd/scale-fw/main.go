//go:build rp2040 || rp2350

// Command scale-fw is the scale firmware: HX711 scales read through PIO,
// published on the bus and served over a line console.
package main

import (
	"context"
	"time"

	"scalecode-go/bus"
	"scalecode-go/services/config"
	"scalecode-go/services/console"
	"scalecode-go/services/heartbeat"
	"scalecode-go/services/scalesvc"
)

// device selects the embedded config; override with -ldflags "-X main.device=pico-dual".
var device = "pico"

func main() {
	// Allow USB CDC to enumerate before we print.
	time.Sleep(2 * time.Second)
	println("[main] boot, device", device)

	ctx := context.WithValue(context.Background(), config.CtxDeviceKey, device)

	b := bus.NewBus(8)
	monConn := b.NewConnection("monitor")
	mon := monConn.Subscribe(bus.T(bus.SingleWild, "state"))
	status := monConn.Subscribe(bus.T(scalesvc.TokScale, bus.SingleWild, scalesvc.TokStatus))
	go func() {
		for {
			select {
			case m := <-mon.Channel():
				println("[monitor]", m.Topic.String())
			case m := <-status.Channel():
				println("[monitor]", m.Topic.String())
			}
		}
	}()

	console.RegisterTransport("usb", newUSBTransport)
	console.UARTDial = dialUART

	var hb heartbeat.Service
	if err := hb.Start(ctx, b.NewConnection("heartbeat")); err != nil {
		println("[main] heartbeat:", err.Error())
	}
	go scalesvc.Run(ctx, b.NewConnection("scale"), scalesvc.NewRP2Factory())
	go console.Start(ctx, b.NewConnection("console"))

	config.NewConfigService().Start(ctx, b.NewConnection("config"))

	select {}
}

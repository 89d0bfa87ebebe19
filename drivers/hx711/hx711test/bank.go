package hx711test

import "scalecode-go/drivers/hx711"

// Bank is a set of simulated chips wired to one PD_SCK.
type Bank struct {
	Chips []*Chip
}

// NewBank builds n chips; chip j gets values from f(j).
func NewBank(n int, f func(j int) ValueFunc) *Bank {
	b := &Bank{}
	for j := 0; j < n; j++ {
		b.Chips = append(b.Chips, NewChip(f(j)))
	}
	return b
}

// Clock drives every chip's PD_SCK.
func (b *Bank) Clock() hx711.ClockPin { return bankClock{b} }

// Data returns the DOUT pins in chip order.
func (b *Bank) Data() []hx711.DataPin {
	pins := make([]hx711.DataPin, len(b.Chips))
	for j, c := range b.Chips {
		pins[j] = c.Data()
	}
	return pins
}

type bankClock struct{ b *Bank }

func (p bankClock) Set(high bool) {
	for _, c := range p.b.Chips {
		c.setClock(high)
	}
}

package hx711

// PIO program, pre-assembled. Sideset is one optional bit on PD_SCK, the in
// pin is DOUT, the ISR shifts left. Each pushed word is the 24 data bits
// followed by the low byte of OSR, i.e. the gain pulsed after that
// conversion.
//
//	0: mov x, osr
//	1: pull noblock          ; new gain from TX, else keep x
//	2: mov x, osr
//	3: set y, 23
//	4: wait 0 pin 0          ; DOUT low: conversion ready
//	5: nop side 1 [2]
//	6: in pins, 1 side 0 [1]
//	7: jmp y-- 5
//	8: in osr, 8
//	9: push noblock
//	10: nop side 1 [2]
//	11: jmp x-- 10 side 0 [2] ; x+1 gain pulses
var pioInstructions = []uint16{
	0xa027,
	0x8080,
	0xa027,
	0xe057,
	0x2020,
	0xba42,
	0x5101,
	0x0085,
	0x40e8,
	0x8000,
	0xba42,
	0x124a,
}

const (
	pioOrigin     = -1
	pioWrapTarget = 0
	pioWrap       = 11

	// Width of the side-set field: the PD_SCK bit plus the enable bit that
	// makes side-set optional.
	pioSidesetBits = 2

	// 10 MHz gives a 0.3 µs PD_SCK high time with the delays above.
	pioFrequency = 10_000_000

	pioPullNoblock uint16 = 0x8080
)

// txFIFO is the part of a state machine that QueueGain writes through.
type txFIFO interface {
	IsTxFIFOEmpty() bool
	Exec(instr uint16)
	TxPut(data uint32)
}

// replaceTx leaves x as the only word in the TX FIFO. A full FIFO drops
// TxPut writes, so pending words are pulled out first.
func replaceTx(f txFIFO, x uint32) {
	for !f.IsTxFIFOEmpty() {
		f.Exec(pioPullNoblock)
	}
	f.TxPut(x)
}

package hx711

// ClockPin drives PD_SCK.
type ClockPin interface {
	Set(high bool)
}

// DataPin reads DOUT.
type DataPin interface {
	Get() bool
}

// Sample is one conversion as delivered by an Engine.
type Sample struct {
	Raw  uint32 // 24-bit two's complement, right aligned
	Gain Gain   // gain the conversion was taken at; 0 if unknown
}

// Engine runs the conversion loop and buffers results in a small FIFO.
// Implementations must be safe for one caller at a time; Device serialises
// access with its own mutex.
type Engine interface {
	// Start resets the loop and begins converting. The first conversion after
	// power up is always at Gain128; g applies from the second one on.
	Start(g Gain) error
	// Stop halts the loop. Buffered samples are kept.
	Stop()
	// QueueGain replaces any pending gain. It takes effect with the pulses
	// that follow the next conversion read.
	QueueGain(g Gain)
	// TryGet pops the oldest buffered sample.
	TryGet() (Sample, bool)
	// Drain drops all buffered samples.
	Drain()
	// Close stops the loop and releases hardware resources.
	Close() error
}

// fifoDepth matches the RP2 PIO RX FIFO.
const fifoDepth = 4

// tagger tracks which gain each conversion was taken at. Pulses after
// conversion n select the gain of conversion n+1.
type tagger struct {
	next Gain
}

func (t *tagger) reset() { t.next = Gain128 }

// tag returns the gain of the conversion just read and records that the
// trailing pulses selected g for the one after it.
func (t *tagger) tag(g Gain) Gain {
	cur := t.next
	t.next = g
	return cur
}

package hx711

import (
	"context"
	"errors"
	"time"
)

// Summed reads a bank as one sensor whose value is the sum of every chip,
// as for a platform resting on several load cells. The sum of 32 full-scale
// chips still fits an int32.
type Summed struct {
	*Multi
}

func NewSummed(m *Multi) *Summed { return &Summed{Multi: m} }

// Value waits for one conversion from every chip. It returns as soon as ctx
// is done rather than at the next poll.
func (s *Summed) Value(ctx context.Context) (int32, error) {
	req, err := s.Async(ctx)
	if err != nil {
		return 0, err
	}
	defer req.Close()
	select {
	case <-req.Done():
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	var buf [MaxChips]int32
	if err := req.Values(buf[:s.Chips()]); err != nil {
		return 0, err
	}
	return sum(buf[:s.Chips()]), nil
}

func (s *Summed) ValueTimeout(timeout time.Duration) (int32, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	v, err := s.Value(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return 0, ErrTimeout
	}
	return v, err
}

func (s *Summed) ValueNoBlock() (int32, error) {
	var buf [MaxChips]int32
	if err := s.ValuesNoBlock(buf[:s.Chips()]); err != nil {
		return 0, err
	}
	return sum(buf[:s.Chips()]), nil
}

func sum(vs []int32) int32 {
	var t int32
	for _, v := range vs {
		t += v
	}
	return t
}

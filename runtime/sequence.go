package runtime

import "sync/atomic"

// seqGen numbers the events of one run. Processes may emit from their own
// goroutines, so the counter is atomic.
type seqGen struct {
	counter atomic.Uint64
}

func newSeqGen() *seqGen {
	return &seqGen{}
}

// Next returns the next sequence number (1-indexed).
func (s *seqGen) Next() uint64 {
	return s.counter.Add(1)
}

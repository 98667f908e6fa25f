package callback

import "sync/atomic"

// Sequence numbers requests and component bindings from one counter, so a
// reference and a component id never share a value on the wire. Safe for
// concurrent use.
type Sequence struct {
	seq atomic.Int64
}

// NewSequence creates a sequence whose first Next() returns 1.
func NewSequence() *Sequence {
	return &Sequence{}
}

// Next returns the next id. Zero means "no reference" on the wire and is
// never returned.
func (s *Sequence) Next() int64 {
	return s.seq.Add(1)
}

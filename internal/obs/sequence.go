package obs

import "sync/atomic"

// Sequence hands out gap-free, monotonically increasing numbers starting
// after the seed. The zero value starts at 1.
type Sequence struct {
	last atomic.Uint64
}

func NewSequence(seed uint64) *Sequence {
	s := &Sequence{}
	s.last.Store(seed)
	return s
}

// Next returns the next number. A nil Sequence always returns 0.
func (s *Sequence) Next() uint64 {
	if s == nil {
		return 0
	}
	return s.last.Add(1)
}

// Last returns the most recent number handed out.
func (s *Sequence) Last() uint64 {
	if s == nil {
		return 0
	}
	return s.last.Load()
}

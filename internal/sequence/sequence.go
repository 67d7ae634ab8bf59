// Package sequence issues strictly increasing ids shared by every book and
// share class.
package sequence

import "sync/atomic"

// Sequencer generates strictly monotonic ids. The first id issued by a fresh
// sequencer is 1.
type Sequencer struct {
	last atomic.Uint64
}

// New creates a sequencer whose next id is start+1.
func New(start uint64) *Sequencer {
	s := &Sequencer{}
	s.last.Store(start)
	return s
}

// Next returns the next id.
func (s *Sequencer) Next() uint64 {
	return s.last.Add(1)
}

// Current returns the last issued id, or the start value if none was issued.
func (s *Sequencer) Current() uint64 {
	return s.last.Load()
}

// AdvanceTo moves the sequencer forward so that the next id is greater than
// v. It never moves backwards, so ids stay unique after a journal replay.
func (s *Sequencer) AdvanceTo(v uint64) {
	for {
		cur := s.last.Load()
		if cur >= v {
			return
		}
		if s.last.CompareAndSwap(cur, v) {
			return
		}
	}
}

package tracelog

import "sync/atomic"

// swapSlot is one producer's swap-request mailbox. word is zero when
// empty; otherwise it holds the tag of the latest pending request.
// Tags come from issued and only grow, so the drain can tell a request
// left behind by a retired producer from one made by the slot's
// current holder.
type swapSlot struct {
	word   atomic.Uint64
	issued atomic.Uint64
	_      [48]byte // keep neighboring slots off the same cache line
}

// publish stores a fresh request tag and reports whether the previous
// request had been consumed.
func (s *swapSlot) publish() (consumed bool) {
	tag := s.issued.Add(1)
	return s.word.Swap(tag) == 0
}

// take empties the slot and returns the tag it held, or 0.
func (s *swapSlot) take() uint64 {
	if s.word.Load() == 0 {
		return 0
	}
	return s.word.Swap(0)
}

func (s *swapSlot) pending() bool {
	return s.word.Load() != 0
}

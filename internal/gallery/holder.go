package gallery

import "sync/atomic"

// Holder publishes the current gallery. Re-enrollment builds a new Gallery and
// swaps it in; sessions that already took the previous one keep using it.
type Holder struct {
	current atomic.Pointer[Gallery]
}

// NewHolder returns a holder publishing g, which may be nil.
func NewHolder(g *Gallery) *Holder {
	h := &Holder{}
	if g != nil {
		h.current.Store(g)
	}
	return h
}

// Current returns the gallery new sessions should use, or nil.
func (h *Holder) Current() *Gallery {
	return h.current.Load()
}

// Swap publishes g and returns the gallery it replaced.
func (h *Holder) Swap(g *Gallery) *Gallery {
	return h.current.Swap(g)
}

// Copyright (c) 2013 ActiveState Software Inc. All rights reserved.

package globtail

// Wake is a one-slot signal from the registry to a single follower. Notify
// never blocks; notifications sent while one is already pending are merged
// into it, so a burst of events guarantees at least one wake, not one per
// event.
type Wake struct {
	ch chan struct{}
}

func NewWake() *Wake {
	return &Wake{ch: make(chan struct{}, 1)}
}

// Notify sends only if the slot is empty.
func (w *Wake) Notify() {
	select {
	case w.ch <- struct{}{}:
	default:
	}
}

// C is received from by the follower.
func (w *Wake) C() <-chan struct{} {
	return w.ch
}

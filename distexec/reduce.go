package distexec

import (
	"sync"
)

// Reducer implements the accumulator side of the binary-tree state
// reduction overlapped with stealing (spec.md §4.7.5): peers are
// arranged as a binary tree where the parent of rank r is (r-1)/2. A
// passive peer with a non-identity accumulated delta forwards it to its
// parent as an RDC message (driven by UniquePeer/NonUniquePeer, which own
// the fabric send);
// the listener integrates arriving RDC contributions by calling
// Accumulate, recursing upward via another send if the local peer is
// itself already passive. All updates go through a single mutex
// (spec.md's rdc_mtx) to preserve associativity order locally;
// commutativity of add handles the remainder.
//
// Reducer is decoupled from scool.State[S] the same way tasktable.Table
// is decoupled from scool.Task: add and equal are supplied explicitly
// rather than recovered by asserting S's method set, so S can be any
// type, not only a full scool.State.
type Reducer[S any] struct {
	mu       sync.Mutex
	rank     int
	add      func(a, b S) S
	equal    func(a, b S) bool
	identity S
	pending  S // accumulated since the last send to parent
}

// NewReducer returns a Reducer for peer rank, with pending set to
// identity.
func NewReducer[S any](rank int, identity S, add func(a, b S) S, equal func(a, b S) bool) *Reducer[S] {
	return &Reducer[S]{rank: rank, add: add, equal: equal, identity: identity, pending: identity}
}

// Parent returns this peer's parent rank, or -1 if rank is the root.
func (r *Reducer[S]) Parent() int {
	if r.rank == 0 {
		return -1
	}
	return (r.rank - 1) / 2
}

// Accumulate folds delta into the pending accumulator.
func (r *Reducer[S]) Accumulate(delta S) {
	r.mu.Lock()
	r.pending = r.add(r.pending, delta)
	r.mu.Unlock()
}

// Pending returns a snapshot of the pending accumulator and resets it to
// identity, so that the same delta is not forwarded twice.
func (r *Reducer[S]) Pending() S {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := r.pending
	r.pending = r.identity
	return snap
}

// HasPending reports whether the pending accumulator differs from
// identity, without resetting it.
func (r *Reducer[S]) HasPending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.equal(r.pending, r.identity)
}

// Reset clears the pending accumulator to identity, at a superstep
// boundary.
func (r *Reducer[S]) Reset() {
	r.mu.Lock()
	r.pending = r.identity
	r.mu.Unlock()
}

// Children returns the rank's two children in the binary tree, or -1 for
// a child index that exceeds n peers.
func Children(rank, n int) (left, right int) {
	left, right = 2*rank+1, 2*rank+2
	if left >= n {
		left = -1
	}
	if right >= n {
		right = -1
	}
	return left, right
}

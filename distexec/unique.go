package distexec

import (
	"sync"

	scool "github.com/kp1181/scool"
)

// localFraction is the fraction of a newly-claimed suffix range the
// owning worker grants itself at a time (spec.md's LOCAL_FRACTION).
const localFraction = 0.20

// minStealBatch is the minimum number of tasks a remote steal must carve
// out to be worth granting (spec.md's MIN_STEAL_BATCH).
const minStealBatch = 10

// Unique holds one peer's ordered task sequence for the tree-shaped
// (Unique = true) distributed specialization, split into a local prefix
// owned exclusively by the main worker and a shared suffix owned
// cooperatively by the main worker and the listener goroutine, per
// spec.md §4.7.1.
//
// Three indices bound the live range: curr_pos (the owner's read
// cursor), goal_post (the current end of the range the owner may read
// without taking the lock), and hlp_pos (the tail boundary available for
// remote stealing; decreases as batches are carved out). The invariant
// curr_pos <= goal_post <= hlp_pos <= len(seq) holds at every
// observation point outside a locked update.
//
// goal_post is not fixed at LOCAL_FRACTION of the initial size for the
// sequence's entire lifetime: once the owner's cursor catches up to it,
// the owner extends it by locking and claiming another LOCAL_FRACTION
// share of whatever remains in [goal_post, hlp_pos), so that a
// single-peer run (no thief ever touches hlp_pos) still drains the
// entire sequence through repeated local extension rather than stalling
// at the first 20%. This resolves an ambiguity spec.md leaves
// implicit -- see DESIGN.md's note on the unique specialization's
// owner/thief split.
type Unique[T scool.Task[T, S], S any] struct {
	mu sync.Mutex

	localFraction float64
	minStealBatch int

	seq      []T
	currPos  int
	goalPost int
	hlpPos   int

	pushed []T // accumulates this superstep's children, becomes seq at Swap
}

// NewUnique returns an empty Unique sequence using the package defaults
// for LOCAL_FRACTION and MIN_STEAL_BATCH (spec.md §4.7.1).
func NewUnique[T scool.Task[T, S], S any]() *Unique[T, S] {
	return &Unique[T, S]{localFraction: localFraction, minStealBatch: minStealBatch}
}

// NewUniqueWithParams is NewUnique but with LOCAL_FRACTION and
// MIN_STEAL_BATCH overridden, e.g. from a loaded config.Config.
func NewUniqueWithParams[T scool.Task[T, S], S any](localFraction float64, minStealBatch int) *Unique[T, S] {
	return &Unique[T, S]{localFraction: localFraction, minStealBatch: minStealBatch}
}

// Init seeds the sequence with a single task.
func (u *Unique[T, S]) Init(task T) {
	u.seq = append(u.seq[:0], task)
	u.reset()
}

// InitRange seeds the sequence with tasks, preserving order.
func (u *Unique[T, S]) InitRange(tasks []T) {
	u.seq = append(u.seq[:0], tasks...)
	u.reset()
}

func (u *Unique[T, S]) reset() {
	u.currPos = 0
	u.hlpPos = len(u.seq)
	u.goalPost = u.claim(0, u.hlpPos)
}

func (u *Unique[T, S]) claim(from, hlpPos int) int {
	share := int(u.localFraction*float64(hlpPos-from) + 0.999999)
	goal := from + share
	if goal > hlpPos {
		goal = hlpPos
	}
	return goal
}

// Len returns the number of tasks still live (not yet consumed by the
// owner and not yet carved away by a thief).
func (u *Unique[T, S]) Len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.hlpPos - u.currPos
}

// Next returns the owner's next task to process, extending goal_post
// (under lock) from the shared suffix if the local prefix is exhausted.
// ok is false once curr_pos has caught up to hlp_pos.
func (u *Unique[T, S]) Next() (task T, ok bool) {
	if u.currPos >= u.goalPost {
		u.mu.Lock()
		if u.goalPost < u.hlpPos {
			u.goalPost = u.claim(u.goalPost, u.hlpPos)
		}
		u.mu.Unlock()
	}
	if u.currPos >= u.goalPost {
		var zero T
		return zero, false
	}
	task = u.seq[u.currPos]
	u.currPos++
	return task, true
}

// Steal carves a batch from the tail for a remote thief: active is the
// fraction of peers still active, N-passive_count)/N, used to size the
// batch per spec.md's β = min(max(0.1·active, 0.01), 0.5) (the explicit
// upper clamp recorded as an Open Question decision in SPEC_FULL.md).
// Steal returns ok = false if the remaining suffix is too close to
// goal_post or too small to clear MIN_STEAL_BATCH.
func (u *Unique[T, S]) Steal(active float64) (batch []T, ok bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	beta := active * 0.1
	if beta < 0.01 {
		beta = 0.01
	}
	if beta > 0.5 {
		beta = 0.5
	}
	k := int(beta*float64(u.hlpPos-u.goalPost) + 0.999999)
	if k <= 0 {
		return nil, false
	}
	if u.hlpPos-k <= u.goalPost {
		return nil, false
	}
	if (u.hlpPos-k)-u.currPos < u.minStealBatch {
		return nil, false
	}
	start := u.hlpPos - k
	batch = append([]T(nil), u.seq[start:u.hlpPos]...)
	u.hlpPos = start
	return batch, true
}

// Push appends task to the next superstep's sequence. Only the main
// worker calls Push, whether processing a local task or one received
// from a successful steal, so no lock is needed.
func (u *Unique[T, S]) Push(task T) {
	u.pushed = append(u.pushed, task)
}

// Swap replaces seq with the accumulated pushed tasks and resets the
// three indices for the new superstep.
func (u *Unique[T, S]) Swap() {
	u.seq, u.pushed = u.pushed, nil
	u.reset()
}

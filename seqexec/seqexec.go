// Package seqexec implements the sequential reference executor: a single
// thread holding one current/next pair of task sequences and one state
// view. It exists both as the simplest usable backend and as the
// specification against which shmexec and distexec's parallel behavior is
// checked -- a problem encoding that behaves correctly under seqexec but
// not under the parallel executors almost always indicates a process/merge
// impurity rather than an executor bug.
package seqexec

import (
	scool "github.com/kp1181/scool"
	"github.com/kp1181/scool/log"
)

// Executor runs supersteps single-threaded over an ordered sequence of
// tasks of type T, folding contributions into a state of type S. T is
// bound directly to scool.Task[T, S] (a self-referential constraint) so
// that Process is an ordinary static method call -- no interface boxing
// or runtime type assertion on the hot path, matching spec.md §4.1's
// requirement that the contract admit a zero-overhead monomorphization.
//
// Unlike the shared-memory and distributed executors, Executor does not
// distinguish a Unique flag: a single ordered sequence with append-only
// pushes is correct whether or not tasks compare equal, since there is
// only one thread and therefore never a cross-thread duplicate to merge.
// Callers whose Task.Merge matters (the DAG case) still get correct
// results from seqexec, just without the deduplication shmexec's task
// table performs -- equal tasks pushed from different parents are kept as
// separate entries and processed separately. This makes seqexec usable as
// an oracle for both the tree and DAG cases; it is not a source of the
// table's merge savings.
type Executor[T scool.Task[T, S], S any] struct {
	current []T
	next    []T
	state   S

	identity S
	log      *log.Logger
	step     int
}

// New returns an Executor with no seeded tasks and state set to
// identity.Identity(). Callers typically use Init immediately afterward.
func New[T scool.Task[T, S], S any](identity scool.State[S], logger *log.Logger) *Executor[T, S] {
	if logger == nil {
		logger = log.Std
	}
	id := identity.Identity()
	return &Executor[T, S]{
		state:    id,
		identity: id,
		log:      logger,
	}
}

// Init seeds the executor with a single task, matching spec.md's
// init(task, state) overload.
func (e *Executor[T, S]) Init(task T) {
	e.current = append(e.current[:0], task)
	e.step = 0
}

// InitRange seeds the executor with every task in tasks, preserving order,
// matching spec.md's init(first, last, state) overload. An empty tasks
// slice leaves current empty, so the first Step call returns 0 without
// invoking Process on anything.
func (e *Executor[T, S]) InitRange(tasks []T) {
	e.current = append(e.current[:0], tasks...)
	e.step = 0
}

// Iteration returns the current superstep counter, starting at 0.
func (e *Executor[T, S]) Iteration() int { return e.step }

// State returns the current reduced global state.
func (e *Executor[T, S]) State() S { return e.state }

// Log returns the executor's logger.
func (e *Executor[T, S]) Log() *log.Logger { return e.log }

// Step runs one superstep: every task in current is processed, each
// Process call may append to next and fold its contribution directly into
// the running state returned by State. current and next are then swapped,
// and the superstep counter increments. Step returns the number of tasks
// now in current (post-swap) -- the size of the next superstep's work.
// Step on an empty current returns 0 and calls Process on nothing.
//
// State accumulates across supersteps rather than resetting at each
// boundary: spec.md's S1 scenario (a task that adds 1 to an integer state
// on every step) expects the externally-visible state to equal the total
// number of supersteps run, not just the last one's contribution. The
// per-superstep reset spec.md describes for shared-memory and distributed
// executors applies to their per-thread/per-peer scratch views, which are
// folded into a running global exactly once per superstep; seqexec has no
// second view to reduce, so its single state plays that running-global
// role directly.
func (e *Executor[T, S]) Step() int {
	if len(e.current) == 0 {
		e.step++
		return 0
	}
	e.next = e.next[:0]
	ctx := scool.NewContext[T, S](e.step, func(child T) {
		e.next = append(e.next, child)
	})
	for _, task := range e.current {
		task.Process(ctx, &e.state)
	}
	e.current, e.next = e.next, e.current
	e.step++
	e.log.Debugf("seqexec: superstep %d processed %d tasks, %d pushed", e.step-1, len(e.next), len(e.current))
	return len(e.current)
}

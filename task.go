package scool

import "github.com/kp1181/scool/wire"

// Task is the user-defined unit of work processed by every executor. A
// search space is the transitive closure of Process calls starting from a
// seed task. T is the concrete task type (e.g. a struct describing one
// node of a search tree); it must be comparable so that two tasks
// generated along different paths through a DAG can be recognized as
// equal and merged (see Merge) instead of duplicated.
//
// Implementations are value objects: they are copied freely between
// containers, and Process/Merge must not retain or mutate state shared
// with a caller's copy.
type Task[T comparable, S any] interface {
	comparable

	// Hash returns a stable hash of the task, used by the sharded task
	// table to assign the task to a bucket. Equal tasks (under ==) must
	// have equal hashes.
	Hash() uint64

	// Process executes the task: it may push zero or more child tasks
	// into ctx, which places them in the next superstep's task
	// container, and it may fold a contribution into state, which is
	// reduced across all tasks processed this superstep.
	Process(ctx *Context[T, S], state *S)

	// Merge combines this task with another task that compared equal to
	// it (as generated along a different path through a DAG), returning
	// the combined task. Merge must be commutative and associative:
	// a.Merge(b) and b.Merge(a) must be semantically equal, and
	// repeated application of the same argument must be idempotent.
	Merge(other T) T

	// MarshalTo serializes the task for transfer to another thread or
	// peer.
	MarshalTo(w *wire.Output) error
}

// TaskDecoder decodes a task of type T from an input buffer. It is kept
// separate from the Task interface because decoding produces a new value
// rather than operating on an existing receiver.
type TaskDecoder[T comparable] func(r *wire.Input) (T, error)

// State is the commutative monoid that tasks fold their contributions
// into. The monoid's identity is whatever Identity returns; it need not
// be the zero value of S.
type State[S any] interface {
	// Add combines this state with other, returning the combined state.
	// Add must be associative and commutative.
	Add(other S) S

	// Identity returns the monoid's identity value. Executors call
	// Identity (rather than relying on a zero value) to reset a
	// per-thread or per-peer view at the end of every superstep, so
	// that state implementations carrying non-zero-valued identities
	// (e.g. a pre-sized slice) reset correctly.
	Identity() S

	// MarshalTo serializes the state for transfer to another thread or
	// peer.
	MarshalTo(w *wire.Output) error
}

// StateDecoder decodes a state of type S from an input buffer.
type StateDecoder[S any] func(r *wire.Input) (S, error)

// Partitioner assigns a task to an owning peer (the non-unique
// distributed executor) or a collocation hint (other executors). The
// default partitioner, DefaultPartitioner, always returns 0.
type Partitioner[T any] func(task T) int

// DefaultPartitioner is the Partitioner used when the caller does not
// supply one: every task is assigned to partition 0.
func DefaultPartitioner[T any](task T) int { return 0 }

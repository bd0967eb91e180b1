package distexec

import (
	"math/rand"
	"sync"

	scool "github.com/kp1181/scool"
)

// slot is one lockable partition of a NonUnique peer's task pool.
type slot[T any] struct {
	mu    sync.Mutex
	tasks []T
}

// tryDrain empties the slot and returns its former contents, or ok=false
// without blocking if the slot is already held.
func (s *slot[T]) tryDrain() (tasks []T, ok bool) {
	if !s.mu.TryLock() {
		return nil, false
	}
	defer s.mu.Unlock()
	if len(s.tasks) == 0 {
		return nil, false
	}
	tasks, s.tasks = s.tasks, nil
	return tasks, true
}

func (s *slot[T]) push(task T) {
	s.mu.Lock()
	s.tasks = append(s.tasks, task)
	s.mu.Unlock()
}

func (s *slot[T]) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// NonUnique holds one peer's N current/next slots for the graph-shaped
// (Unique = false) distributed specialization (spec.md §4.7.1): slot j
// holds tasks for which partitioner(task) mod N == j, purely as a
// lock-sharding scheme -- N independent mutexes instead of one contended
// pool -- so the listener can service a steal request without blocking
// the main worker's own progress on an unrelated slot. Any peer may
// process any task it steals; partitioning affects only where a pushed
// child is initially stored, not which peer is allowed to execute it.
type NonUnique[T scool.Task[T, S], S any] struct {
	n           int
	rank        int
	partitioner scool.Partitioner[T]

	current []*slot[T]
	next    []*slot[T]
}

// NewNonUnique returns a NonUnique pool for peer rank out of n peers.
func NewNonUnique[T scool.Task[T, S], S any](rank, n int, partitioner scool.Partitioner[T]) *NonUnique[T, S] {
	if partitioner == nil {
		partitioner = scool.DefaultPartitioner[T]
	}
	nu := &NonUnique[T, S]{n: n, rank: rank, partitioner: partitioner}
	nu.current = make([]*slot[T], n)
	nu.next = make([]*slot[T], n)
	for i := range nu.current {
		nu.current[i] = &slot[T]{}
		nu.next[i] = &slot[T]{}
	}
	return nu
}

func (nu *NonUnique[T, S]) indexOf(task T) int {
	i := nu.partitioner(task) % nu.n
	if i < 0 {
		i += nu.n
	}
	return i
}

// Init seeds the pool with a single task, in its partitioned slot.
func (nu *NonUnique[T, S]) Init(task T) {
	for _, s := range nu.current {
		s.tasks = nil
	}
	nu.current[nu.indexOf(task)].push(task)
}

// InitRange seeds the pool with tasks, each in its partitioned slot.
func (nu *NonUnique[T, S]) InitRange(tasks []T) {
	for _, s := range nu.current {
		s.tasks = nil
	}
	for _, task := range tasks {
		nu.current[nu.indexOf(task)].push(task)
	}
}

// PushNext places task into next's partitioned slot -- the Context.Push
// destination during this superstep's processing.
func (nu *NonUnique[T, S]) PushNext(task T) {
	nu.next[nu.indexOf(task)].push(task)
}

// LocalTasks drains this peer's own-rank slot of current -- "the local
// queue", processed first and exclusively by the main worker before it
// enters stealing.
func (nu *NonUnique[T, S]) LocalTasks() []T {
	nu.current[nu.rank].mu.Lock()
	defer nu.current[nu.rank].mu.Unlock()
	tasks := nu.current[nu.rank].tasks
	nu.current[nu.rank].tasks = nil
	return tasks
}

// StealLocal serves a try-locked steal request against this peer's own
// current pool: it tries up to three candidate slots starting at target
// mod N and stepping by a per-request random stride, returning the first
// non-empty one drained in full.
func (nu *NonUnique[T, S]) StealLocal(target int, rnd *rand.Rand) (tasks []T, ok bool) {
	idx := ((target % nu.n) + nu.n) % nu.n
	stride := 1 + rnd.Intn(nu.n-1+1)
	for attempt := 0; attempt < 3; attempt++ {
		if tasks, ok := nu.current[idx].tryDrain(); ok {
			return tasks, true
		}
		idx = (idx + stride) % nu.n
	}
	return nil, false
}

// Swap exchanges current and next, leaving next's slots empty for the
// following superstep.
func (nu *NonUnique[T, S]) Swap() {
	nu.current, nu.next = nu.next, nu.current
	for _, s := range nu.next {
		s.tasks = nil
	}
}

// Size returns the total number of tasks across every slot of current.
func (nu *NonUnique[T, S]) Size() int {
	total := 0
	for _, s := range nu.current {
		total += s.size()
	}
	return total
}

// Package shmexec implements the shared-memory thread-parallel executor,
// in its two specializations: TreeExecutor for tree-shaped search spaces
// (Unique = true, an ordered per-worker sequence) and DAGExecutor for
// graph-shaped search spaces (Unique = false, driving tasktable.Table).
// Both fan a superstep's work out across P worker goroutines using
// github.com/grailbio/base/traverse, the same primitive grailbio/reflow's
// flow/eval.go uses to fan a round's ready flows out across goroutines
// (see Eval.todo's traverse.Each call).
package shmexec

import (
	scool "github.com/kp1181/scool"
	"github.com/kp1181/scool/log"
	"github.com/kp1181/scool/tasktable"

	"github.com/grailbio/base/traverse"
)

// TreeExecutor runs supersteps across P worker goroutines, each owning an
// ordered sequence of tasks. It is correct only when a task's identity
// under == never recurs along different paths through the search space
// (the tree case); callers with a DAG-shaped space should use DAGExecutor
// instead, which deduplicates and merges.
type TreeExecutor[T scool.Task[T, S], S scool.State[S]] struct {
	p int

	current [][]T
	next    [][]T
	states  []S

	identity S
	log      *log.Logger
	step     int
}

// NewTree returns a TreeExecutor with p worker goroutines and state set to
// identity.Identity() in every per-worker view.
func NewTree[T scool.Task[T, S], S scool.State[S]](p int, identity S, logger *log.Logger) *TreeExecutor[T, S] {
	if logger == nil {
		logger = log.Std
	}
	e := &TreeExecutor[T, S]{
		p:        p,
		current:  make([][]T, p),
		next:     make([][]T, p),
		states:   make([]S, p),
		identity: identity,
		log:      logger,
	}
	for i := range e.states {
		e.states[i] = identity.Identity()
	}
	return e
}

// Init seeds worker 0's sequence with a single task; every other worker
// starts with an empty sequence.
func (e *TreeExecutor[T, S]) Init(task T) {
	e.current[0] = append(e.current[0][:0], task)
	for i := 1; i < e.p; i++ {
		e.current[i] = e.current[i][:0]
	}
	e.step = 0
}

// InitRange seeds worker sequences by distributing tasks round-robin
// across workers, preserving per-worker order. An empty tasks slice leaves
// every worker's sequence empty, so the first Step call returns 0.
func (e *TreeExecutor[T, S]) InitRange(tasks []T) {
	for i := range e.current {
		e.current[i] = e.current[i][:0]
	}
	for i, task := range tasks {
		w := i % e.p
		e.current[w] = append(e.current[w], task)
	}
	e.step = 0
}

// Iteration returns the current superstep counter, starting at 0.
func (e *TreeExecutor[T, S]) Iteration() int { return e.step }

// State returns the current reduced global state, held in worker 0's
// view after every Step call.
func (e *TreeExecutor[T, S]) State() S { return e.states[0] }

// Log returns the executor's logger.
func (e *TreeExecutor[T, S]) Log() *log.Logger { return e.log }

// Step runs one superstep: the main goroutine spawns one parallel
// task-loop per worker sequence; each loop processes its own tasks,
// pushing children into its own next sequence and folding contributions
// into its own state view. After every loop completes, states are
// reduced state[0] += state[i] for i > 0, and views 1..P-1 are reset to
// identity.Identity() so that no contribution is counted twice; view 0
// keeps the running total (matching seqexec's cumulative-state
// semantics), which State() returns. current and next are then swapped and the superstep counter
// increments. Step returns the total number of tasks across all workers'
// new current.
func (e *TreeExecutor[T, S]) Step() int {
	total := 0
	for _, seq := range e.current {
		total += len(seq)
	}
	if total == 0 {
		e.step++
		return 0
	}
	for i := range e.next {
		e.next[i] = e.next[i][:0]
	}
	err := traverse.Each(e.p, func(w int) error {
		worker := w
		ctx := scool.NewContext[T, S](e.step, func(child T) {
			e.next[worker] = append(e.next[worker], child)
		})
		for _, task := range e.current[worker] {
			task.Process(ctx, &e.states[worker])
		}
		return nil
	})
	if err != nil {
		e.log.Errorf("shmexec: tree superstep %d: %v", e.step, err)
	}
	reduced := e.states[0]
	for i := 1; i < e.p; i++ {
		reduced = reduced.Add(e.states[i])
		e.states[i] = e.identity.Identity()
	}
	e.states[0] = reduced
	e.current, e.next = e.next, e.current
	e.step++
	next := 0
	for _, seq := range e.current {
		next += len(seq)
	}
	e.log.Debugf("shmexec: tree superstep %d processed %d tasks, %d pushed", e.step-1, total, next)
	return next
}

// DAGExecutor runs supersteps across P worker goroutines sharing a
// tasktable.Table for deduplication: tasks generated along different
// paths that compare equal are merged via Task.Merge rather than
// processed twice.
type DAGExecutor[T scool.Task[T, S], S scool.State[S]] struct {
	p int

	current *tasktable.Table[T]
	next    *tasktable.Table[T]
	states  []S

	identity S
	log      *log.Logger
	step     int
}

// NewDAG returns a DAGExecutor with p worker goroutines, a shared task
// table of p views and b buckets per view, and state set to
// identity.Identity() in every per-worker view. hash must agree with T's
// == operator; merge must be commutative and associative, matching
// Task.Merge.
func NewDAG[T scool.Task[T, S], S scool.State[S]](p, b uint, hash func(T) uint64, merge func(a, b T) T, identity S, logger *log.Logger) *DAGExecutor[T, S] {
	if logger == nil {
		logger = log.Std
	}
	e := &DAGExecutor[T, S]{
		p:        int(p),
		current:  tasktable.New(p, b, hash, merge),
		next:     tasktable.New(p, b, hash, merge),
		states:   make([]S, p),
		identity: identity,
		log:      logger,
	}
	for i := range e.states {
		e.states[i] = identity.Identity()
	}
	return e
}

// Init seeds the table with a single task, inserted into view 0.
func (e *DAGExecutor[T, S]) Init(task T) {
	for i := 0; i < e.p; i++ {
		e.current.LazyClear(i)
	}
	e.current.Insert(0, task)
	e.step = 0
}

// InitRange seeds the table by distributing tasks round-robin across
// views, preserving hash-table deduplication semantics even across the
// seed set (two equal seed tasks landing in different views are merged
// by the Reconcile InitRange runs before returning, which also gathers
// every seed into view 0, the view Step reads).
func (e *DAGExecutor[T, S]) InitRange(tasks []T) {
	for i := 0; i < e.p; i++ {
		e.current.LazyClear(i)
	}
	for i, task := range tasks {
		e.current.Insert(i%e.p, task)
	}
	if err := e.current.Reconcile(); err != nil {
		e.log.Errorf("shmexec: dag init reconcile: %v", err)
	}
	e.step = 0
}

// Iteration returns the current superstep counter, starting at 0.
func (e *DAGExecutor[T, S]) Iteration() int { return e.step }

// State returns the current reduced global state.
func (e *DAGExecutor[T, S]) State() S { return e.states[0] }

// Log returns the executor's logger.
func (e *DAGExecutor[T, S]) Log() *log.Logger { return e.log }

// Current returns the task table backing the executor's current
// superstep, for callers that need to inspect deduplicated/merged entries
// directly rather than through Step's return count alone.
func (e *DAGExecutor[T, S]) Current() *tasktable.Table[T] { return e.current }

// Step runs one superstep: view 0 of current is snapshotted into a slice
// and partitioned round-robin across p workers (so that Task.Process for
// any single task always runs on the goroutine that owns the next
// table's corresponding view, satisfying tasktable.Insert's single-writer
// requirement); each worker's parallel task-loop pushes children into its
// own view of next via Insert, and folds contributions into its own
// state view. After every loop completes, states are reduced exactly as
// in TreeExecutor.Step, next is reconciled (folding views 1..P-1 into
// view 0 and merging duplicates), and current/next are swapped. Step
// returns next's size after reconciliation -- the return value of
// Table.Size(0). Step on an empty current returns 0 and calls Process on
// nothing.
func (e *DAGExecutor[T, S]) Step() int {
	tasks := make([]T, 0, e.current.Size(0))
	it := e.current.Iterate()
	for {
		task, ok := it.Next()
		if !ok {
			break
		}
		tasks = append(tasks, task)
	}
	if len(tasks) == 0 {
		e.step++
		return 0
	}
	for i := 0; i < e.p; i++ {
		e.next.LazyClear(i)
	}
	byWorker := make([][]T, e.p)
	for i, task := range tasks {
		w := i % e.p
		byWorker[w] = append(byWorker[w], task)
	}
	err := traverse.Each(e.p, func(w int) error {
		worker := w
		ctx := scool.NewContext[T, S](e.step, func(child T) {
			e.next.Insert(worker, child)
		})
		for _, task := range byWorker[worker] {
			task.Process(ctx, &e.states[worker])
		}
		return nil
	})
	if err != nil {
		e.log.Errorf("shmexec: dag superstep %d: %v", e.step, err)
	}
	reduced := e.states[0]
	for i := 1; i < e.p; i++ {
		reduced = reduced.Add(e.states[i])
		e.states[i] = e.identity.Identity()
	}
	e.states[0] = reduced
	if err := e.next.Reconcile(); err != nil {
		e.log.Errorf("shmexec: dag superstep %d reconcile: %v", e.step, err)
	}
	e.current, e.next = e.next, e.current
	e.step++
	next := e.current.Size(0)
	e.log.Debugf("shmexec: dag superstep %d processed %d tasks, %d pushed", e.step-1, len(tasks), next)
	return next
}

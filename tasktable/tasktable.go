// Package tasktable implements the per-thread sharded hash set of tasks
// used by the shared-memory DAG executor to deduplicate and merge tasks
// generated from multiple paths through a search DAG, without contention
// during a superstep.
//
// The table is logically a single hash set, physically P per-thread
// views, each partitioned into B buckets by hash residue. Each thread
// writes only to its own view during a superstep; at the superstep
// boundary, Reconcile folds views 1..P-1 into view 0 in parallel across
// buckets (grailbio's flow/eval.go uses the same
// github.com/grailbio/base/traverse primitive to fan a round's ready
// flows out across goroutines; here it fans reconciliation out across
// independent hash buckets instead).
package tasktable

import (
	"github.com/grailbio/base/traverse"
)

// Table is a sharded hash set of tasks of type T. T must be comparable;
// equal tasks (as generated from different paths through a DAG) are
// combined with the merge function supplied to New.
type Table[T comparable] struct {
	b     uint
	hash  func(T) uint64
	merge func(a, b T) T
	views []*view[T]
}

type view[T comparable] struct {
	buckets  [][]T
	used     []bool
	size     int
	lastUsed int
}

func newView[T comparable](b uint) *view[T] {
	return &view[T]{
		buckets:  make([][]T, b),
		used:     make([]bool, b),
		lastUsed: -1,
	}
}

// New returns a Table with p per-thread views, each with b buckets. hash
// must return the same value for tasks that compare equal; merge must be
// commutative and associative.
func New[T comparable](p, b uint, hash func(T) uint64, merge func(a, b T) T) *Table[T] {
	tb := &Table[T]{b: b, hash: hash, merge: merge}
	tb.views = make([]*view[T], p)
	for i := range tb.views {
		tb.views[i] = newView[T](b)
	}
	return tb
}

// Views returns the number of per-thread views, P.
func (t *Table[T]) Views() int { return len(t.views) }

// Buckets returns the number of buckets per view, B.
func (t *Table[T]) Buckets() uint { return t.b }

// Size returns the number of logically present entries in view idx.
func (t *Table[T]) Size(idx int) int { return t.views[idx].size }

func (t *Table[T]) bucketOf(task T) uint {
	return uint(t.hash(task)) % t.b
}

// insertOrMerge inserts task into bucket b of view v, or folds it into an
// existing equal entry via merge. It returns true if a new entry was
// added (as opposed to merged into an existing one).
func insertOrMerge[T comparable](v *view[T], b uint, task T, merge func(a, b T) T) bool {
	if !v.used[b] {
		// An unused bucket is logically empty regardless of any stale
		// slice contents left over from a prior superstep.
		v.buckets[b] = v.buckets[b][:0]
		v.used[b] = true
	}
	for i, existing := range v.buckets[b] {
		if existing == task {
			v.buckets[b][i] = merge(existing, task)
			return false
		}
	}
	v.buckets[b] = append(v.buckets[b], task)
	return true
}

// Insert inserts task into view idx, merging it with an existing equal
// task if present. Insert must only be called by the single thread that
// owns view idx during a superstep.
func (t *Table[T]) Insert(idx int, task T) {
	v := t.views[idx]
	b := t.bucketOf(task)
	if insertOrMerge(v, b, task, t.merge) {
		v.size++
	}
	if int(b) > v.lastUsed {
		v.lastUsed = int(b)
	}
}

// Reconcile folds views 1..P-1 into view 0, in parallel across bucket
// indices. Different buckets are independent; within a single bucket the
// fold is sequential, so merge is never invoked concurrently on the same
// task. After Reconcile, view 0 is the logical union of every view, and
// every other view is left untouched (callers typically LazyClear them
// next).
func (t *Table[T]) Reconcile() error {
	dst := t.views[0]
	lastUsed := dst.lastUsed
	for _, v := range t.views[1:] {
		if v.lastUsed > lastUsed {
			lastUsed = v.lastUsed
		}
	}
	if lastUsed < 0 {
		return nil
	}
	// added is indexed by bucket, the dimension traverse.Each actually
	// parallelizes over; every view's contribution to a given bucket is
	// folded sequentially within that bucket's own callback invocation; so
	// no two goroutines ever touch the same slot.
	added := make([]int, lastUsed+1)
	err := traverse.Each(lastUsed+1, func(b int) error {
		for vi := 1; vi < len(t.views); vi++ {
			src := t.views[vi]
			if !src.used[b] {
				continue
			}
			for _, task := range src.buckets[b] {
				if insertOrMerge(dst, uint(b), task, t.merge) {
					added[b]++
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, n := range added {
		dst.size += n
	}
	if lastUsed > dst.lastUsed {
		dst.lastUsed = lastUsed
	}
	return nil
}

// LazyClear marks every bucket of view idx as unused and resets its size
// to zero, without freeing any backing array -- the fast path, called at
// the start of every superstep.
func (t *Table[T]) LazyClear(idx int) {
	v := t.views[idx]
	for i := range v.used {
		v.used[i] = false
	}
	v.size = 0
	v.lastUsed = -1
}

// SoftClear lazily clears view idx and additionally swaps each bucket's
// backing slice with an empty one, releasing per-bucket capacity while
// keeping the bucket index itself allocated.
func (t *Table[T]) SoftClear(idx int) {
	v := t.views[idx]
	for i := range v.buckets {
		v.buckets[i] = nil
	}
	t.LazyClear(idx)
}

// Release drops all capacity held by view idx, including the bucket index
// itself.
func (t *Table[T]) Release(idx int) {
	t.views[idx] = newView[T](t.b)
}

// Iterator walks view 0 in bucket order, skipping unused buckets. The
// iterator is invalidated by any mutation of view 0 (Insert, Reconcile,
// *Clear, Release).
type Iterator[T comparable] struct {
	v      *view[T]
	bucket int
	idx    int
}

// Iterate returns an Iterator over view 0.
func (t *Table[T]) Iterate() *Iterator[T] {
	return &Iterator[T]{v: t.views[0], bucket: 0, idx: 0}
}

// Next advances the iterator and returns the next entry. ok is false once
// every bucket has been visited.
func (it *Iterator[T]) Next() (task T, ok bool) {
	for it.bucket < len(it.v.buckets) {
		if !it.v.used[it.bucket] {
			it.bucket++
			it.idx = 0
			continue
		}
		bucket := it.v.buckets[it.bucket]
		if it.idx >= len(bucket) {
			it.bucket++
			it.idx = 0
			continue
		}
		task = bucket[it.idx]
		it.idx++
		return task, true
	}
	var zero T
	return zero, false
}

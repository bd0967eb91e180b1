package tasktable_test

import (
	"testing"

	"github.com/kp1181/scool/tasktable"
)

// pair mirrors spec.md's S2 diamond-DAG scenario: Task{a,b} compares
// equal when {a,b} as an unordered pair is equal.
type pair struct {
	a, b  int
	count int
}

func normalize(p pair) (int, int) {
	if p.a <= p.b {
		return p.a, p.b
	}
	return p.b, p.a
}

func pairHash(p pair) uint64 {
	lo, hi := normalize(p)
	return uint64(lo)*1000003 + uint64(hi)
}

func pairEqual(x, y pair) bool {
	xl, xh := normalize(x)
	yl, yh := normalize(y)
	return xl == yl && xh == yh
}

func pairMerge(x, y pair) pair {
	xl, xh := normalize(x)
	return pair{a: xl, b: xh, count: x.count + y.count}
}

// wrapped adapts pair's unordered equality into Go's == operator by
// always storing it in normalized form, so the table's built-in ==
// comparison (required by the comparable constraint) agrees with
// pairEqual.
type wrapped struct {
	lo, hi int
	count  int
}

func wrap(p pair) wrapped {
	lo, hi := normalize(p)
	return wrapped{lo: lo, hi: hi, count: p.count}
}

func wrappedHash(w wrapped) uint64 {
	return uint64(w.lo)*1000003 + uint64(w.hi)
}

func wrappedMerge(x, y wrapped) wrapped {
	return wrapped{lo: x.lo, hi: x.hi, count: x.count + y.count}
}

func TestDiamondMergeAcrossViews(t *testing.T) {
	// S2: seed produces Task{1,2} and Task{2,1} from two different
	// threads; after reconciliation there must be exactly one entry with
	// merge count 2.
	tb := tasktable.New[wrapped](4, 8, wrappedHash, wrappedMerge)
	tb.Insert(1, wrap(pair{a: 1, b: 2, count: 1}))
	tb.Insert(2, wrap(pair{a: 2, b: 1, count: 1}))

	if err := tb.Reconcile(); err != nil {
		t.Fatal(err)
	}

	var got []wrapped
	it := tb.Iterate()
	for {
		task, ok := it.Next()
		if !ok {
			break
		}
		got = append(got, task)
	}
	if len(got) != 1 {
		t.Fatalf("got %d entries, want 1: %v", len(got), got)
	}
	if got[0].count != 2 {
		t.Errorf("got merge count %d, want 2", got[0].count)
	}
}

func TestReconcileIdentitySameTaskEveryView(t *testing.T) {
	// S5: inserting the same task into every per-thread view must leave
	// exactly one entry in view 0 after Reconcile, with merge invoked
	// P-1 times.
	const p = 5
	tb := tasktable.New[wrapped](p, 8, wrappedHash, wrappedMerge)
	for v := 0; v < p; v++ {
		tb.Insert(v, wrapped{lo: 3, hi: 3, count: 1})
	}
	if err := tb.Reconcile(); err != nil {
		t.Fatal(err)
	}
	if got, want := tb.Size(0), 1; got != want {
		t.Fatalf("got size %d, want %d", got, want)
	}
	it := tb.Iterate()
	task, ok := it.Next()
	if !ok {
		t.Fatal("expected one entry")
	}
	if got, want := task.count, p; got != want {
		t.Errorf("got merge count %d, want %d (P-1 merges plus the original)", got, want)
	}
	if _, ok := it.Next(); ok {
		t.Fatal("expected exactly one entry")
	}
}

func TestLazyClearKeepsCapacityButHidesStaleEntries(t *testing.T) {
	tb := tasktable.New[wrapped](2, 4, wrappedHash, wrappedMerge)
	tb.Insert(0, wrapped{lo: 1, hi: 1, count: 1})
	if got, want := tb.Size(0), 1; got != want {
		t.Fatalf("got %d, want %d", got, want)
	}
	tb.LazyClear(0)
	if got, want := tb.Size(0), 0; got != want {
		t.Fatalf("after LazyClear got %d, want %d", got, want)
	}
	it := tb.Iterate()
	if _, ok := it.Next(); ok {
		t.Fatal("expected no entries after LazyClear")
	}
	// Re-inserting into the same bucket must not see the stale entry.
	tb.Insert(0, wrapped{lo: 2, hi: 2, count: 1})
	if got, want := tb.Size(0), 1; got != want {
		t.Fatalf("got %d, want %d", got, want)
	}
}

func TestEmptyReconcileIsNoop(t *testing.T) {
	tb := tasktable.New[wrapped](3, 4, wrappedHash, wrappedMerge)
	if err := tb.Reconcile(); err != nil {
		t.Fatal(err)
	}
	if got := tb.Size(0); got != 0 {
		t.Fatalf("got %d, want 0", got)
	}
}

func TestDistinctBucketsIndependent(t *testing.T) {
	tb := tasktable.New[wrapped](2, 16, wrappedHash, wrappedMerge)
	for i := 0; i < 10; i++ {
		tb.Insert(0, wrapped{lo: i, hi: i, count: 1})
	}
	for i := 10; i < 20; i++ {
		tb.Insert(1, wrapped{lo: i, hi: i, count: 1})
	}
	if err := tb.Reconcile(); err != nil {
		t.Fatal(err)
	}
	if got, want := tb.Size(0), 20; got != want {
		t.Fatalf("got %d, want %d", got, want)
	}
}

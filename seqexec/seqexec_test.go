package seqexec_test

import (
	"testing"

	scool "github.com/kp1181/scool"
	"github.com/kp1181/scool/seqexec"
	"github.com/kp1181/scool/wire"
)

// countdown mirrors spec.md's S1 scenario: Task{n} pushes Task{n-1} unless
// n == 0, and every Process call adds 1 to the integer state.
type countdown struct {
	n int
}

func (c countdown) Hash() uint64 { return uint64(c.n) }

func (c countdown) Process(ctx *scool.Context[countdown, sum], state *sum) {
	*state = state.Add(sum(1))
	if c.n > 0 {
		ctx.Push(countdown{n: c.n - 1})
	}
}

func (c countdown) Merge(other countdown) countdown { return c }

func (c countdown) MarshalTo(w *wire.Output) error {
	w.PutInt32(int32(c.n))
	return nil
}

// sum is the integer summation monoid: identity 0, Add is +.
type sum int

func (s sum) Add(other sum) sum { return s + other }
func (s sum) Identity() sum     { return 0 }
func (s sum) MarshalTo(w *wire.Output) error {
	w.PutInt32(int32(s))
	return nil
}

func TestSummationTree(t *testing.T) {
	e := seqexec.New[countdown, sum](sum(0), nil)
	e.Init(countdown{n: 5})

	for i := 0; i < 6; i++ {
		got := e.Step()
		if i < 5 {
			if got != 1 {
				t.Fatalf("superstep %d: got %d tasks, want 1", i, got)
			}
		} else if got != 0 {
			t.Fatalf("superstep %d: got %d tasks, want 0", i, got)
		}
	}
	if got, want := int(e.State()), 6; got != want {
		t.Fatalf("got state %d, want %d", got, want)
	}
	if got := e.Step(); got != 0 {
		t.Fatalf("7th step: got %d, want 0", got)
	}
	if got, want := e.Iteration(), 7; got != want {
		t.Fatalf("got iteration %d, want %d", got, want)
	}
}

func TestStepOnEmptyCurrentReturnsZero(t *testing.T) {
	e := seqexec.New[countdown, sum](sum(0), nil)
	e.InitRange(nil)
	if got := e.Step(); got != 0 {
		t.Fatalf("got %d, want 0", got)
	}
	if got, want := int(e.State()), 0; got != want {
		t.Fatalf("got state %d, want %d", got, want)
	}
}

func TestInitRangeSeedsMultipleTasks(t *testing.T) {
	e := seqexec.New[countdown, sum](sum(0), nil)
	e.InitRange([]countdown{{n: 0}, {n: 0}, {n: 1}})
	got := e.Step()
	if got != 1 {
		t.Fatalf("got %d tasks for next superstep, want 1 (only Task{1} has a child)", got)
	}
	if got, want := int(e.State()), 3; got != want {
		t.Fatalf("got state %d, want %d", got, want)
	}
}

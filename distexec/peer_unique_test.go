package distexec_test

import (
	"context"
	"sync"
	"testing"
	"time"

	scool "github.com/kp1181/scool"
	"github.com/kp1181/scool/distexec"
	"github.com/kp1181/scool/fabric"
	"github.com/kp1181/scool/wire"
)

// leaf is a childless task: Process folds exactly one contribution into
// count and pushes nothing, so a run over N leaves always reduces to
// count(N) regardless of how the leaves were split across peers.
type leaf struct{ id int }

func (l leaf) Hash() uint64 {
	var w wire.Output
	_ = l.MarshalTo(&w)
	return scool.HashBytes(w.Bytes())
}

func (l leaf) Process(ctx *scool.Context[leaf, count], state *count) {
	*state = state.Add(count(1))
}

func (l leaf) Merge(other leaf) leaf { return l }

func (l leaf) MarshalTo(w *wire.Output) error {
	w.PutInt32(int32(l.id))
	return nil
}

func decodeLeaf(r *wire.Input) (leaf, error) {
	id, err := r.GetInt32()
	if err != nil {
		return leaf{}, err
	}
	return leaf{id: int(id)}, nil
}

type count int

func (c count) Add(other count) count { return c + other }
func (c count) Identity() count       { return 0 }
func (c count) MarshalTo(w *wire.Output) error {
	w.PutInt32(int32(c))
	return nil
}

func decodeCount(r *wire.Input) (count, error) {
	v, err := r.GetInt32()
	if err != nil {
		return 0, err
	}
	return count(v), nil
}

func leaves(n int) []leaf {
	out := make([]leaf, n)
	for i := range out {
		out[i] = leaf{id: i}
	}
	return out
}

// TestUniqueWorkStealSanity mirrors spec.md's S3 scenario: two peers, one
// holding all 30 tasks and the other none. After one superstep both
// peers' reduced state must equal count(30) and rank 1 must have
// processed a nonzero share via stealing.
func TestUniqueWorkStealSanity(t *testing.T) {
	fabs := fabric.NewLocalFabric(2)
	p0 := distexec.NewUniquePeer[leaf, count](0, 2, fabs[0], count(0), decodeLeaf, decodeCount, nil)
	p1 := distexec.NewUniquePeer[leaf, count](1, 2, fabs[1], count(0), decodeLeaf, decodeCount, nil)
	p0.InitRange(leaves(30))
	p1.InitRange(nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	defer p0.Close(ctx)
	defer p1.Close(ctx)

	var wg sync.WaitGroup
	var n0, n1 int
	var err0, err1 error
	wg.Add(2)
	go func() { defer wg.Done(); n0, err0 = p0.Step(ctx) }()
	go func() { defer wg.Done(); n1, err1 = p1.Step(ctx) }()
	wg.Wait()

	if err0 != nil {
		t.Fatalf("peer 0: %v", err0)
	}
	if err1 != nil {
		t.Fatalf("peer 1: %v", err1)
	}
	if n0 != 0 || n1 != 0 {
		t.Fatalf("got live-next (%d, %d), want (0, 0): leaves have no children", n0, n1)
	}
	if got, want := p0.State(), count(30); got != want {
		t.Fatalf("peer 0 state = %d, want %d", got, want)
	}
	if got, want := p1.State(), count(30); got != want {
		t.Fatalf("peer 1 state = %d, want %d", got, want)
	}

	total1, local1, remote1 := p1.Stats()
	if total1 != local1+remote1 {
		t.Fatalf("peer 1 counters inconsistent: total=%d local=%d remote=%d", total1, local1, remote1)
	}
	if remote1 == 0 {
		t.Fatal("peer 1 processed no remote tasks; expected it to steal from peer 0")
	}

	total0, _, _ := p0.Stats()
	if total0+total1 != 30 {
		t.Fatalf("total processed across peers = %d, want 30", total0+total1)
	}
}

// TestUniqueSinglePeerIsNoOp mirrors spec.md's S1-adjacent single-peer
// claim in §8: with one peer the candidate list is empty so stealing is
// a no-op, and the run still drains the whole sequence via goal_post's
// dynamic extension.
func TestUniqueSinglePeerIsNoOp(t *testing.T) {
	fabs := fabric.NewLocalFabric(1)
	p0 := distexec.NewUniquePeer[leaf, count](0, 1, fabs[0], count(0), decodeLeaf, decodeCount, nil)
	p0.InitRange(leaves(17))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	defer p0.Close(ctx)
	n, err := p0.Step(ctx)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if n != 0 {
		t.Fatalf("got %d live for next, want 0", n)
	}
	if got, want := p0.State(), count(17); got != want {
		t.Fatalf("state = %d, want %d", got, want)
	}
	total, local, remote := p0.Stats()
	if remote != 0 {
		t.Fatalf("single-peer run processed %d remote tasks, want 0", remote)
	}
	if total != local || total != 17 {
		t.Fatalf("total=%d local=%d, want both 17", total, local)
	}
}

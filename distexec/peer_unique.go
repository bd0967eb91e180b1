package distexec

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"

	scool "github.com/kp1181/scool"
	"github.com/kp1181/scool/bitset"
	"github.com/kp1181/scool/errors"
	"github.com/kp1181/scool/fabric"
	"github.com/kp1181/scool/log"
	"github.com/kp1181/scool/wire"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// askRate bounds how often a peer's steal loop may fire ASK at victims,
// the same qps-limiter shape reflow's ec2cluster/spotaz.go uses for its
// spot-price probes, so a peer surrounded entirely by already-passive
// candidates doesn't spin the network with a request-per-candidate burst
// every time through the loop.
const askRate = 200 // qps

// UniquePeer runs one rank of the tree-shaped (Unique = true) distributed
// executor (spec.md §4.7): a main worker drains its Unique sequence, then
// steals from random victims until every other peer has answered NONE or
// is already known passive, while
// a listener goroutine serves ASK/RDC/FIN requests concurrently. Per
// spec.md §5 ("one worker thread plus one listener thread per peer") and
// §4.7.7 (FIN-to-self is the destructor's job, not a per-superstep one),
// the listener is spawned once, on first use, and outlives every
// individual Step call; Close is what finally sends it FIN and joins it.
// golang.org/x/sync/errgroup supplies the join, the same construct
// grailbio/reflow's pool/pool.go uses to run a bounded fan-out and
// collect the first error (see Pool.Do's errgroup.WithContext(ctx)).
type UniquePeer[T scool.Task[T, S], S scool.State[S]] struct {
	rank, n int
	fab     fabric.Fabric
	decode  scool.TaskDecoder[T]
	decodeS scool.StateDecoder[S]
	log     *log.Logger

	seq *Unique[T, S]

	tokens  *tokens
	passive atomic.Bool
	reducer *Reducer[S]

	identity S
	delta    S // this superstep's own local+remote contribution, folded into reducer before going passive
	state    S
	step     int

	cnt counters
	rnd *rand.Rand

	sf         singleflight.Group
	askLimiter *rate.Limiter

	listenOnce  sync.Once
	listenGroup errgroup.Group
	closeOnce   sync.Once
}

// NewUniquePeer returns a peer for rank out of n, communicating over fab.
// identity is the state monoid's identity value; decode and decodeS parse
// wire-encoded tasks and states respectively.
func NewUniquePeer[T scool.Task[T, S], S scool.State[S]](rank, n int, fab fabric.Fabric, identity S, decode scool.TaskDecoder[T], decodeS scool.StateDecoder[S], logger *log.Logger) *UniquePeer[T, S] {
	if logger == nil {
		logger = log.Std
	}
	add := func(a, b S) S { return a.Add(b) }
	eq := func(a, b S) bool {
		var ao, bo wire.Output
		_ = a.MarshalTo(&ao)
		_ = b.MarshalTo(&bo)
		return string(ao.Bytes()) == string(bo.Bytes())
	}
	return &UniquePeer[T, S]{
		rank:    rank,
		n:       n,
		fab:     fab,
		decode:  decode,
		decodeS: decodeS,
		log:     logger,
		seq:      NewUnique[T, S](),
		tokens:   newTokens(uint(n)),
		reducer:  NewReducer[S](rank, identity, add, eq),
		identity:   identity,
		delta:      identity,
		state:      identity,
		rnd:        rand.New(rand.NewSource(int64(rank) + 1)),
		askLimiter: rate.NewLimiter(rate.Limit(askRate), askRate/10),
	}
}

// WithParams overrides the peer's LOCAL_FRACTION and MIN_STEAL_BATCH
// (spec.md §4.7.1), e.g. from a loaded config.Config, replacing the
// package defaults NewUniquePeer installs. It must be called before the
// first Step.
func (p *UniquePeer[T, S]) WithParams(localFraction float64, minStealBatch int) *UniquePeer[T, S] {
	p.seq = NewUniqueWithParams[T, S](localFraction, minStealBatch)
	return p
}

// InitRange seeds the peer's sequence. Only the peer owning the seed task
// (typically rank 0) should pass a non-empty range; others call
// InitRange(nil).
func (p *UniquePeer[T, S]) InitRange(tasks []T) { p.seq.InitRange(tasks) }

// State returns the globally-reduced state as of the last completed Step.
func (p *UniquePeer[T, S]) State() S { return p.state }

// Iteration returns the current superstep counter.
func (p *UniquePeer[T, S]) Iteration() int { return p.step }

// Stats returns the local/remote/total task counts from the last
// completed Step, per spec.md §4.7.6's boundary counters.
func (p *UniquePeer[T, S]) Stats() (total, local, remote int) {
	return p.cnt.total, p.cnt.local, p.cnt.remote
}

// startListener spawns the peer's listener goroutine exactly once, for
// the peer's entire lifetime rather than once per superstep (spec.md
// §5's "one worker thread plus one listener thread per peer" describes a
// persistent pairing). It runs against context.Background(), not any
// single Step call's context, because it must keep serving ASK/RDC
// requests from slower peers across superstep boundaries -- a peer that
// goes passive quickly must not tear down the listener a slower peer
// elsewhere in the reduction tree still needs to reach. Close is the
// only thing that stops it.
func (p *UniquePeer[T, S]) startListener() {
	p.listenOnce.Do(func() {
		p.listenGroup.Go(func() error { return p.listen(context.Background()) })
	})
}

// Close permanently shuts down the peer's listener goroutine: a
// self-addressed FIN on the background channel, the one-time,
// lifetime-end action spec.md §4.7.7 assigns to the destructor ("the
// destructor fabric-barriers, then sends FIN to self... then joins the
// listener"), followed by joining it. Close must be called exactly once,
// after the caller's last Step call; Step must not be called again
// afterwards.
func (p *UniquePeer[T, S]) Close(ctx context.Context) error {
	var sendErr error
	p.closeOnce.Do(func() {
		p.startListener()
		h := Header{ID: Fin, Tokens: bitset.New(uint(p.n))}
		b, err := EncodeHeader(h)
		if err != nil {
			sendErr = errors.E("distexec.UniquePeer.Close", err)
			return
		}
		if err := p.fab.Send(ctx, fabric.Background, p.rank, fabric.ReqTag, b); err != nil {
			sendErr = errors.E("distexec.UniquePeer.Close", err)
		}
	})
	if sendErr != nil {
		return sendErr
	}
	if err := p.listenGroup.Wait(); err != nil {
		return errors.E("distexec.UniquePeer.Close", err)
	}
	return nil
}

// Step runs one superstep to completion: local processing, stealing,
// reduction, the boundary all-reduce and state broadcast, and the
// current/next swap (spec.md §4.7.6). It returns the number of tasks live
// for the next superstep on this peer.
func (p *UniquePeer[T, S]) Step(ctx context.Context) (int, error) {
	p.startListener()
	p.passive.Store(false)
	p.tokens.Reset()
	p.reducer.Reset()
	p.delta = p.identity
	p.cnt = counters{}

	if err := p.work(ctx); err != nil {
		return 0, errors.E("distexec.UniquePeer.Step", err)
	}

	summary, sqDeviation, err := allReduceCounters(ctx, p.fab, p.cnt)
	if err != nil {
		return 0, errors.E("distexec.UniquePeer.Step", err)
	}
	if err := summary.sanityCheck(); err != nil {
		p.log.Errorf("distexec: unique peer %d superstep %d: %v", p.rank, p.step, err)
	}
	logLoadBalance(p.log, "unique", p.rank, p.step, p.n, summary, sqDeviation)

	state, err := p.broadcastState(ctx)
	if err != nil {
		return 0, errors.E("distexec.UniquePeer.Step", err)
	}
	p.state = state

	p.seq.Swap()
	p.step++
	n := p.seq.Len()
	p.log.Debugf("distexec: unique peer %d superstep %d done, %d live for next", p.rank, p.step-1, n)
	return n, nil
}

func (p *UniquePeer[T, S]) ctx() *scool.Context[T, S] {
	return scool.NewContext[T, S](p.step, func(child T) { p.seq.Push(child) })
}

// process runs task against this superstep's own contribution
// accumulator, not p.state directly: p.state is the cumulative
// cross-superstep total, only ever advanced by broadcastState's
// globally-reduced result, while p.delta holds just what this peer
// itself (locally or via a steal) contributed this superstep, which
// Reducer.Accumulate folds into the binary-tree reduction once the peer
// goes passive.
func (p *UniquePeer[T, S]) process(task T, c *scool.Context[T, S]) {
	task.Process(c, &p.delta)
}

// work is the main worker loop: drain the local sequence, then steal from
// random victims until the candidate list is empty -- every other peer
// has answered NONE or its token bit is already set (spec.md §4.7.3).
func (p *UniquePeer[T, S]) work(ctx context.Context) error {
	c := p.ctx()
	for {
		task, ok := p.seq.Next()
		if !ok {
			break
		}
		p.process(task, c)
		p.cnt.total++
		p.cnt.local++
	}
	p.maybeContributeReduction(ctx)

	candidates := make([]int, 0, p.n-1)
	for i := 0; i < p.n; i++ {
		if i != p.rank {
			candidates = append(candidates, i)
		}
	}
	for len(candidates) > 0 {
		i := p.rnd.Intn(len(candidates))
		victim := candidates[i]
		if known, ok := p.tokens.TryContains(uint(victim)); ok && known {
			// spec.md §4.7.3: already gossipped as passive -- abort this
			// candidate without a round trip.
			candidates[i] = candidates[len(candidates)-1]
			candidates = candidates[:len(candidates)-1]
			continue
		}
		if err := p.askLimiter.Wait(ctx); err != nil {
			return err
		}
		batch, err := p.ask(ctx, victim)
		if err != nil {
			return err
		}
		if batch == nil {
			candidates[i] = candidates[len(candidates)-1]
			candidates = candidates[:len(candidates)-1]
			continue
		}
		for _, task := range batch {
			p.process(task, c)
			p.cnt.total++
			p.cnt.remote++
		}
		p.maybeContributeReduction(ctx)
	}

	p.reducer.Accumulate(p.delta)
	p.passive.Store(true)
	p.tokens.Set(uint(p.rank))
	p.maybeContributeReduction(ctx)
	return nil
}

// ask sends an ASK to victim and waits for ANS/NONE, per spec.md §4.7.3.
func (p *UniquePeer[T, S]) ask(ctx context.Context, victim int) ([]T, error) {
	h := Header{ID: Ask, Tokens: p.tokens.Snapshot()}
	b, err := EncodeHeader(h)
	if err != nil {
		return nil, err
	}
	if err := p.fab.Send(ctx, fabric.Background, victim, fabric.ReqTag, b); err != nil {
		return nil, err
	}
	_, rb, err := p.fab.Recv(ctx, fabric.Background, fabric.AnsTag)
	if err != nil {
		return nil, err
	}
	rh, err := DecodeHeader(p.n, rb[:HeaderLen(p.n)])
	if err != nil {
		return nil, err
	}
	p.tokens.TryFold(rh.Tokens)
	if rh.ID == None {
		p.tokens.Set(uint(victim))
		return nil, nil
	}
	return DecodeBatch(rb[HeaderLen(p.n):], func(r *wire.Input) (T, error) { return p.decode(r) })
}

// maybeContributeReduction forwards the pending accumulator to the
// parent if this peer is passive and has a non-identity delta to give
// (spec.md §4.7.5). The work goroutine calls this once right after
// marking itself passive, and the listener calls it after every RDC it
// integrates; both can race to observe "am I passive with pending work
// to forward" at once. singleflight.Group collapses concurrent callers
// into a single check-and-send, the same way reflow's pool/client.go
// uses singleflight to collapse concurrent callers of the same remote
// lookup into one in-flight request.
func (p *UniquePeer[T, S]) maybeContributeReduction(ctx context.Context) {
	p.sf.Do("rdc", func() (interface{}, error) {
		p.contributeReduction(ctx)
		return nil, nil
	})
}

func (p *UniquePeer[T, S]) contributeReduction(ctx context.Context) {
	if !p.passive.Load() || !p.reducer.HasPending() {
		return
	}
	parent := p.reducer.Parent()
	if parent < 0 {
		return
	}
	delta := p.reducer.Pending()
	var body wire.Output
	if err := delta.MarshalTo(&body); err != nil {
		p.log.Errorf("distexec: unique peer %d marshal rdc contribution: %v", p.rank, err)
		return
	}
	h := Header{ID: Rdc, Tokens: p.tokens.Snapshot()}
	hb, err := EncodeHeader(h)
	if err != nil {
		p.log.Errorf("distexec: unique peer %d encode rdc header: %v", p.rank, err)
		return
	}
	if err := p.fab.Send(ctx, fabric.Background, parent, fabric.ReqTag, append(hb, body.Bytes()...)); err != nil {
		p.log.Errorf("distexec: unique peer %d send rdc to %d: %v", p.rank, parent, err)
	}
}

// listen serves the background channel until it receives FIN (spec.md
// §4.7.4). It runs on its own goroutine for the peer's entire lifetime,
// concurrently with every Step call's work, sharing p.seq's
// shared-suffix lock and p.reducer's mutex for safe concurrent access.
func (p *UniquePeer[T, S]) listen(ctx context.Context) error {
	for {
		from, b, err := p.fab.Recv(ctx, fabric.Background, fabric.ReqTag)
		if err != nil {
			return err
		}
		h, err := DecodeHeader(p.n, b[:HeaderLen(p.n)])
		if err != nil {
			return err
		}
		switch h.ID {
		case Fin:
			return nil
		case Ask:
			p.tokens.TryFold(h.Tokens)
			if err := p.serveAsk(ctx, from); err != nil {
				return err
			}
		case Rdc:
			p.tokens.TryFold(h.Tokens)
			state, err := p.decodeS(wire.NewInput(b[HeaderLen(p.n):]))
			if err != nil {
				return err
			}
			p.reducer.Accumulate(state)
			p.maybeContributeReduction(ctx)
		}
	}
}

func (p *UniquePeer[T, S]) serveAsk(ctx context.Context, from int) error {
	active := clampFraction(float64(p.n-int(p.tokens.Snapshot().PopCount())) / float64(p.n))
	batch, ok := p.seq.Steal(active)
	h := Header{ID: None, Tokens: p.tokens.Snapshot()}
	if !ok {
		hb, err := EncodeHeader(h)
		if err != nil {
			return err
		}
		return p.fab.Send(ctx, fabric.Background, from, fabric.AnsTag, hb)
	}
	h.ID = Ans
	hb, err := EncodeHeader(h)
	if err != nil {
		return err
	}
	pb, err := EncodeBatch(batch)
	if err != nil {
		return err
	}
	return p.fab.Send(ctx, fabric.Background, from, fabric.AnsTag, append(hb, pb...))
}

// broadcastState implements the state half of spec.md §4.7.6's boundary:
// rank 0 sums every peer's reducer-converged pending (after reduction,
// only rank 0's accumulator holds the true global value) with its own
// local state and broadcasts the result.
func (p *UniquePeer[T, S]) broadcastState(ctx context.Context) (S, error) {
	const stateTag = 202
	if p.rank != 0 {
		if err := p.fab.Send(ctx, fabric.Background, 0, stateTag, nil); err != nil {
			return p.state, err
		}
		_, b, err := p.fab.Recv(ctx, fabric.Background, stateTag)
		if err != nil {
			return p.state, err
		}
		return p.decodeS(wire.NewInput(b))
	}
	for i := 1; i < p.n; i++ {
		if _, _, err := p.fab.Recv(ctx, fabric.Background, stateTag); err != nil {
			return p.state, err
		}
	}
	// By the time every peer has reached this rendezvous, each has
	// finished its own work() for the superstep and folded its delta up
	// the reduction tree (directly if a child, or via
	// Accumulate-then-forward if an interior node) via the persistent
	// listener; rank 0's reducer now holds the sum of the whole tree's
	// contributions this superstep, still unseen by p.state.
	total := p.state.Add(p.reducer.Pending())
	var out wire.Output
	if err := total.MarshalTo(&out); err != nil {
		return p.state, err
	}
	for i := 1; i < p.n; i++ {
		if err := p.fab.Send(ctx, fabric.Background, i, stateTag, out.Bytes()); err != nil {
			return p.state, err
		}
	}
	return total, nil
}

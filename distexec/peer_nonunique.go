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

// NonUniquePeer runs one rank of the graph-shaped (Unique = false)
// distributed executor (spec.md §4.7): the main worker processes its own
// partitioned slot first, then steals from other peers' partitioned slots
// by trying up to three candidate slots per ASK, while a listener
// goroutine serves requests concurrently, mirroring UniquePeer's
// work/listen split. Per spec.md §5 ("one worker thread plus one listener
// thread per peer") and §4.7.7 (FIN-to-self is the destructor's job, not a
// per-superstep one), the listener is spawned once, on first use, and
// outlives every individual Step call; Close is what finally sends it FIN
// and joins it.
type NonUniquePeer[T scool.Task[T, S], S scool.State[S]] struct {
	rank, n int
	fab     fabric.Fabric
	decode  scool.TaskDecoder[T]
	decodeS scool.StateDecoder[S]
	log     *log.Logger

	pool *NonUnique[T, S]

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

// NewNonUniquePeer returns a peer for rank out of n, communicating over
// fab, partitioning tasks with partitioner (scool.DefaultPartitioner if
// nil).
func NewNonUniquePeer[T scool.Task[T, S], S scool.State[S]](rank, n int, fab fabric.Fabric, partitioner scool.Partitioner[T], identity S, decode scool.TaskDecoder[T], decodeS scool.StateDecoder[S], logger *log.Logger) *NonUniquePeer[T, S] {
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
	return &NonUniquePeer[T, S]{
		rank:    rank,
		n:       n,
		fab:     fab,
		decode:  decode,
		decodeS: decodeS,
		log:     logger,
		pool:     NewNonUnique[T, S](rank, n, partitioner),
		tokens:   newTokens(uint(n)),
		reducer:  NewReducer[S](rank, identity, add, eq),
		identity:   identity,
		delta:      identity,
		state:      identity,
		rnd:        rand.New(rand.NewSource(int64(rank) + 1)),
		askLimiter: rate.NewLimiter(rate.Limit(askRate), askRate/10),
	}
}

// InitRange seeds the pool with the given tasks, each routed to its
// partitioned slot.
func (p *NonUniquePeer[T, S]) InitRange(tasks []T) { p.pool.InitRange(tasks) }

// State returns the globally-reduced state as of the last completed Step.
func (p *NonUniquePeer[T, S]) State() S { return p.state }

// Iteration returns the current superstep counter.
func (p *NonUniquePeer[T, S]) Iteration() int { return p.step }

// Stats returns the local/remote/total task counts from the last
// completed Step, per spec.md §4.7.6's boundary counters.
func (p *NonUniquePeer[T, S]) Stats() (total, local, remote int) {
	return p.cnt.total, p.cnt.local, p.cnt.remote
}

// startListener spawns the peer's listener goroutine exactly once, for
// the peer's entire lifetime rather than once per superstep; see
// UniquePeer.startListener for why.
func (p *NonUniquePeer[T, S]) startListener() {
	p.listenOnce.Do(func() {
		p.listenGroup.Go(func() error { return p.listen(context.Background()) })
	})
}

// Close permanently shuts down the peer's listener goroutine; see
// UniquePeer.Close for the FIN-to-self mechanism this implements. Close
// must be called exactly once, after the caller's last Step call; Step
// must not be called again afterwards.
func (p *NonUniquePeer[T, S]) Close(ctx context.Context) error {
	var sendErr error
	p.closeOnce.Do(func() {
		p.startListener()
		h := Header{ID: Fin, Tokens: bitset.New(uint(p.n))}
		b, err := EncodeHeader(h)
		if err != nil {
			sendErr = errors.E("distexec.NonUniquePeer.Close", err)
			return
		}
		if err := p.fab.Send(ctx, fabric.Background, p.rank, fabric.ReqTag, b); err != nil {
			sendErr = errors.E("distexec.NonUniquePeer.Close", err)
		}
	})
	if sendErr != nil {
		return sendErr
	}
	if err := p.listenGroup.Wait(); err != nil {
		return errors.E("distexec.NonUniquePeer.Close", err)
	}
	return nil
}

// Step runs one superstep to completion, mirroring UniquePeer.Step's
// phases: local slot, stealing, reduction, boundary all-reduce and
// broadcast, swap.
func (p *NonUniquePeer[T, S]) Step(ctx context.Context) (int, error) {
	p.startListener()
	p.passive.Store(false)
	p.tokens.Reset()
	p.reducer.Reset()
	p.delta = p.identity
	p.cnt = counters{}

	if err := p.work(ctx); err != nil {
		return 0, errors.E("distexec.NonUniquePeer.Step", err)
	}

	summary, sqDeviation, err := allReduceCounters(ctx, p.fab, p.cnt)
	if err != nil {
		return 0, errors.E("distexec.NonUniquePeer.Step", err)
	}
	if err := summary.sanityCheck(); err != nil {
		p.log.Errorf("distexec: nonunique peer %d superstep %d: %v", p.rank, p.step, err)
	}
	logLoadBalance(p.log, "nonunique", p.rank, p.step, p.n, summary, sqDeviation)

	state, err := p.broadcastState(ctx)
	if err != nil {
		return 0, errors.E("distexec.NonUniquePeer.Step", err)
	}
	p.state = state

	p.pool.Swap()
	p.step++
	n := p.pool.Size()
	p.log.Debugf("distexec: nonunique peer %d superstep %d done, %d live for next", p.rank, p.step-1, n)
	return n, nil
}

func (p *NonUniquePeer[T, S]) ctx() *scool.Context[T, S] {
	return scool.NewContext[T, S](p.step, func(child T) { p.pool.PushNext(child) })
}

// process folds task into this superstep's own contribution
// accumulator; see UniquePeer.process for why that's p.delta and not
// p.state.
func (p *NonUniquePeer[T, S]) process(task T, c *scool.Context[T, S]) {
	task.Process(c, &p.delta)
}

// work is the main worker loop: drain the own-rank slot, then steal other
// peers' slots until the candidate list is empty -- every other peer has
// answered NONE or its token bit is already set (spec.md §4.7.3).
func (p *NonUniquePeer[T, S]) work(ctx context.Context) error {
	c := p.ctx()
	for _, task := range p.pool.LocalTasks() {
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

func (p *NonUniquePeer[T, S]) ask(ctx context.Context, victim int) ([]T, error) {
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

// maybeContributeReduction collapses concurrent work/listener callers via
// singleflight.Group the same way UniquePeer.maybeContributeReduction
// does -- see its comment for the race being guarded.
func (p *NonUniquePeer[T, S]) maybeContributeReduction(ctx context.Context) {
	p.sf.Do("rdc", func() (interface{}, error) {
		p.contributeReduction(ctx)
		return nil, nil
	})
}

func (p *NonUniquePeer[T, S]) contributeReduction(ctx context.Context) {
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
		p.log.Errorf("distexec: nonunique peer %d marshal rdc contribution: %v", p.rank, err)
		return
	}
	h := Header{ID: Rdc, Tokens: p.tokens.Snapshot()}
	hb, err := EncodeHeader(h)
	if err != nil {
		p.log.Errorf("distexec: nonunique peer %d encode rdc header: %v", p.rank, err)
		return
	}
	if err := p.fab.Send(ctx, fabric.Background, parent, fabric.ReqTag, append(hb, body.Bytes()...)); err != nil {
		p.log.Errorf("distexec: nonunique peer %d send rdc to %d: %v", p.rank, parent, err)
	}
}

// listen serves ASK/RDC/FIN on the background channel until it receives
// FIN. It runs on its own goroutine for the peer's entire lifetime,
// concurrently with every Step call's work. On ASK it tries up to three
// candidate slots starting at a random target and stepping by a
// per-request random stride (spec.md §4.7.4's non-unique case), delegated
// to NonUnique.StealLocal.
func (p *NonUniquePeer[T, S]) listen(ctx context.Context) error {
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

func (p *NonUniquePeer[T, S]) serveAsk(ctx context.Context, from int) error {
	target := p.rnd.Intn(p.n)
	batch, ok := p.pool.StealLocal(target, p.rnd)
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

// broadcastState mirrors UniquePeer.broadcastState: a centralized star at
// rank 0 over a dedicated tag.
func (p *NonUniquePeer[T, S]) broadcastState(ctx context.Context) (S, error) {
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
	// See UniquePeer.broadcastState: by now every peer has finished its
	// own work() for the superstep and folded its delta up the reduction
	// tree via the persistent listener, so rank 0's reducer holds the
	// whole tree's contributions for this superstep, still unfolded
	// into p.state.
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

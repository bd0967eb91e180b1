package fabric

import (
	"context"
	"sync"

	"github.com/kp1181/scool/errors"
)

type message struct {
	from int
	b    []byte
}

type mailbox struct {
	mu    sync.Mutex
	chans map[int]chan message // keyed by tag
}

func (m *mailbox) chanFor(tag int) chan message {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.chans[tag]
	if !ok {
		ch = make(chan message, 256)
		m.chans[tag] = ch
	}
	return ch
}

type hub struct {
	n     int
	boxes [][2]*mailbox // boxes[rank][Main|Background]

	barrierMu    sync.Mutex
	barrierCount int
	barrierCh    chan struct{}
}

func newHub(n int) *hub {
	h := &hub{n: n, barrierCh: make(chan struct{})}
	h.boxes = make([][2]*mailbox, n)
	for i := range h.boxes {
		h.boxes[i][Main] = &mailbox{chans: make(map[int]chan message)}
		h.boxes[i][Background] = &mailbox{chans: make(map[int]chan message)}
	}
	return h
}

// Local is an in-memory Fabric implementation for single-process tests
// and simulations: N Local handles constructed by NewLocalFabric share a
// hub of per-(rank, channel, tag) mailboxes.
type Local struct {
	hub  *hub
	rank int
}

// NewLocalFabric returns n Local fabric handles, one per rank, sharing a
// single in-memory hub.
func NewLocalFabric(n int) []*Local {
	h := newHub(n)
	out := make([]*Local, n)
	for i := range out {
		out[i] = &Local{hub: h, rank: i}
	}
	return out
}

func (l *Local) Rank() int { return l.rank }
func (l *Local) Size() int { return l.hub.n }

func (l *Local) Send(ctx context.Context, ch Channel, to int, tag int, b []byte) error {
	if to < 0 || to >= l.hub.n {
		return errors.E("fabric.Local.Send", errors.Invalid, errors.Errorf("rank %d out of range [0, %d)", to, l.hub.n))
	}
	cp := append([]byte(nil), b...)
	dst := l.hub.boxes[to][ch].chanFor(tag)
	select {
	case dst <- message{from: l.rank, b: cp}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Local) Recv(ctx context.Context, ch Channel, tag int) (int, []byte, error) {
	src := l.hub.boxes[l.rank][ch].chanFor(tag)
	select {
	case msg := <-src:
		return msg.from, msg.b, nil
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

// Barrier implements a reusable counting barrier: the last of N arrivals
// closes the current generation's channel, releasing every waiter, and
// installs a fresh channel for the next generation.
func (l *Local) Barrier(ctx context.Context) error {
	h := l.hub
	h.barrierMu.Lock()
	h.barrierCount++
	if h.barrierCount == h.n {
		h.barrierCount = 0
		released := h.barrierCh
		h.barrierCh = make(chan struct{})
		h.barrierMu.Unlock()
		close(released)
		return nil
	}
	wait := h.barrierCh
	h.barrierMu.Unlock()
	select {
	case <-wait:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close is a no-op for Local: the hub is garbage-collected once every
// handle sharing it is dropped.
func (l *Local) Close() error { return nil }

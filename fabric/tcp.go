package fabric

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"

	"github.com/kp1181/scool/errors"
	"github.com/kp1181/scool/log"
	"github.com/kp1181/scool/wg"
)

// frame is the wire shape of every message sent over a TCP fabric
// connection: a channel byte, a 4-byte little-endian tag, a 4-byte
// little-endian signed payload length, then the payload itself --
// spec.md's "no framing other than tag/length" applied at the transport
// level, since a raw TCP stream (unlike the fabric's logical channels)
// has no built-in message boundaries.
const frameHeaderLen = 1 + 4 + 4

// barrierTag is reserved for TCP's centralized barrier protocol: every
// peer sends rank 0 a one-byte arrival notice, and rank 0 broadcasts a
// one-byte release once all N-1 others (plus itself) have arrived.
// Local's Barrier needs no such protocol since all ranks share one
// in-process hub and can simply count arrivals under a mutex.
const barrierTag = 200

// TCP is a full-mesh, socket-based Fabric: every peer dials every peer
// with a higher rank and accepts from every peer with a lower rank, so
// that exactly one connection exists between each pair, then reads
// messages off each connection in its own background goroutine and
// dispatches them into the same per-(channel, tag) mailbox machinery
// Local uses.
type TCP struct {
	rank int
	size int
	log  *log.Logger

	boxes [2]*mailbox // this process's own inboxes, indexed by Channel
	conns []net.Conn
	wg    wg.WaitGroup // cancelable join for readLoop goroutines, see Close

	mu     sync.Mutex
	closed bool
}

// closeWait bounds how long Close waits for readLoop goroutines to
// notice their connection closing before giving up.
const closeWait = 5 * time.Second

// DialTCP builds a full-mesh TCP fabric among len(addrs) peers, where
// addrs[i] is the listen address peers with lower rank than i dial to
// reach peer i, and listenAddr is this peer's own listen address (which
// must equal addrs[rank]). DialTCP blocks until every connection in the
// mesh has been established.
func DialTCP(ctx context.Context, rank int, addrs []string, listenAddr string, logger *log.Logger) (*TCP, error) {
	if logger == nil {
		logger = log.Std
	}
	n := len(addrs)
	t := &TCP{
		rank:  rank,
		size:  n,
		log:   logger,
		conns: make([]net.Conn, n),
	}
	t.boxes[Main] = &mailbox{chans: make(map[int]chan message)}
	t.boxes[Background] = &mailbox{chans: make(map[int]chan message)}

	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, errors.E("fabric.DialTCP", errors.Unavailable, err)
	}
	defer ln.Close()

	var accepted sync.WaitGroup
	accepted.Add(countLower(rank))
	go func() {
		for i := 0; i < countLower(rank); i++ {
			conn, err := ln.Accept()
			if err != nil {
				t.log.Errorf("fabric: accept: %v", err)
				return
			}
			peer, err := readRank(conn)
			if err != nil {
				t.log.Errorf("fabric: handshake: %v", err)
				conn.Close()
				continue
			}
			t.conns[peer] = conn
			t.wg.Add(1)
			go t.readLoop(conn, peer)
			accepted.Done()
		}
	}()

	for i := rank + 1; i < n; i++ {
		conn, err := dialWithRetry(ctx, addrs[i])
		if err != nil {
			return nil, errors.E("fabric.DialTCP", errors.Unavailable, err)
		}
		if err := writeRank(conn, rank); err != nil {
			return nil, errors.E("fabric.DialTCP", errors.Unavailable, err)
		}
		t.conns[i] = conn
		t.wg.Add(1)
		go t.readLoop(conn, i)
	}
	accepted.Wait()

	// A peer addresses itself over the fabric too (Close sends Fin to
	// p.rank to unblock its own listener goroutine), but the mesh above
	// never dials or accepts a connection to self -- the accept loop
	// only takes countLower(rank) connections from strictly lower ranks and
	// the dial loop only reaches strictly higher ranks. net.Pipe supplies
	// the missing self-connection: it hands back two connected ends that
	// need no listener or dialer, one kept as t.conns[rank] for Send, the
	// other fed into the ordinary readLoop under this peer's own rank so a
	// self-send is delivered into the mailbox exactly like a peer's.
	self, loop := net.Pipe()
	t.conns[rank] = self
	t.wg.Add(1)
	go t.readLoop(loop, rank)

	return t, nil
}

func countLower(rank int) int { return rank }

func dialWithRetry(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	for {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn, nil
		}
		select {
		case <-ctx.Done():
			return nil, err
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func writeRank(conn net.Conn, rank int) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(rank))
	_, err := conn.Write(b[:])
	return err
}

func readRank(conn net.Conn) (int, error) {
	var b [4]byte
	if _, err := io.ReadFull(conn, b[:]); err != nil {
		return 0, err
	}
	return int(binary.LittleEndian.Uint32(b[:])), nil
}

// readLoop dispatches frames arriving on conn into the mailbox, tagging
// each with the already-known rank of the peer at the other end -- either
// the rank the handshake read off the wire (accepted connections) or the
// rank this peer dialed (outgoing connections and the self loopback), so
// no reverse lookup against t.conns is needed.
func (t *TCP) readLoop(conn net.Conn, peer int) {
	defer t.wg.Done()
	for {
		var hdr [frameHeaderLen]byte
		if _, err := io.ReadFull(conn, hdr[:]); err != nil {
			return
		}
		ch := Channel(hdr[0])
		tag := int(binary.LittleEndian.Uint32(hdr[1:5]))
		n := int(binary.LittleEndian.Uint32(hdr[5:9]))
		payload := make([]byte, n)
		if n > 0 {
			if _, err := io.ReadFull(conn, payload); err != nil {
				return
			}
		}
		dst := t.boxes[ch].chanFor(tag)
		dst <- message{from: peer, b: payload}
	}
}

func (t *TCP) Rank() int { return t.rank }
func (t *TCP) Size() int { return t.size }

func (t *TCP) Send(ctx context.Context, ch Channel, to int, tag int, b []byte) error {
	conn := t.conns[to]
	if conn == nil {
		return errors.E("fabric.TCP.Send", errors.Invalid, errors.Errorf("no connection to rank %d", to))
	}
	var hdr [frameHeaderLen]byte
	hdr[0] = byte(ch)
	binary.LittleEndian.PutUint32(hdr[1:5], uint32(tag))
	binary.LittleEndian.PutUint32(hdr[5:9], uint32(len(b)))
	if _, err := conn.Write(hdr[:]); err != nil {
		return errors.E("fabric.TCP.Send", errors.Unavailable, err)
	}
	if len(b) > 0 {
		if _, err := conn.Write(b); err != nil {
			return errors.E("fabric.TCP.Send", errors.Unavailable, err)
		}
	}
	return nil
}

func (t *TCP) Recv(ctx context.Context, ch Channel, tag int) (int, []byte, error) {
	src := t.boxes[ch].chanFor(tag)
	select {
	case msg := <-src:
		return msg.from, msg.b, nil
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

// Barrier implements a centralized rendezvous at rank 0: every non-zero
// rank sends an arrival notice and waits for a release; rank 0 waits for
// an arrival from every other rank, then broadcasts a release to each.
func (t *TCP) Barrier(ctx context.Context) error {
	if t.rank != 0 {
		if err := t.Send(ctx, Background, 0, barrierTag, nil); err != nil {
			return err
		}
		_, _, err := t.Recv(ctx, Background, barrierTag)
		return err
	}
	for i := 1; i < t.size; i++ {
		if _, _, err := t.Recv(ctx, Background, barrierTag); err != nil {
			return err
		}
	}
	for i := 1; i < t.size; i++ {
		if err := t.Send(ctx, Background, i, barrierTag, nil); err != nil {
			return err
		}
	}
	return nil
}

func (t *TCP) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	for _, c := range t.conns {
		if c != nil {
			c.Close()
		}
	}
	// Closing conns above unblocks every readLoop's io.ReadFull, but a
	// sync.WaitGroup.Wait here could still hang forever against a peer
	// that never closes cleanly; bound it instead.
	ctx, cancel := context.WithTimeout(context.Background(), closeWait)
	defer cancel()
	if err := t.wg.Wait(ctx); err != nil {
		t.log.Errorf("fabric: timed out waiting for readLoop goroutines: %v", err)
	}
	return nil
}

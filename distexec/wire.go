// Package distexec implements the distributed, multi-process executor:
// peers cooperating over a fabric.Fabric with work stealing, a
// passive-token termination protocol, and binary-tree state reduction
// overlapped with stealing. It has two specializations selected by the
// Unique type parameter pattern used throughout this module: NonUnique
// for DAG-shaped search spaces (partitioned hash-set slots) and Unique
// for tree-shaped search spaces (a split ordered sequence).
package distexec

import (
	"github.com/kp1181/scool/bitset"
	"github.com/kp1181/scool/errors"
	"github.com/kp1181/scool/wire"
)

// RequestID identifies the kind of message sent on a fabric's Background
// channel.
type RequestID uint8

const (
	// None answers a steal request with "nothing to steal".
	None RequestID = 0
	// Fin requests listener shutdown; sent by a peer to itself only.
	Fin RequestID = 1
	// Ask is a steal request.
	Ask RequestID = 2
	// Ans is a positive steal answer, followed by a task batch payload.
	Ans RequestID = 3
	// Rdc is a reduction contribution, followed by a serialized state.
	Rdc RequestID = 4
)

func (id RequestID) String() string {
	switch id {
	case None:
		return "NONE"
	case Fin:
		return "FIN"
	case Ask:
		return "ASK"
	case Ans:
		return "ANS"
	case Rdc:
		return "RDC"
	default:
		return "UNKNOWN"
	}
}

// Header is the fixed-size payload of every background-channel message:
// a one-byte request id plus a copy of the sender's passive-token
// bitmap, one bit per peer.
type Header struct {
	ID     RequestID
	Tokens *bitset.Set
}

// HeaderLen returns the encoded size, in bytes, of a Header for an n-peer
// run: 1 byte for the request id plus ⌈n/8⌉ bytes of token bitmap.
func HeaderLen(n int) int {
	return 1 + int((uint(n)+7)/8)
}

// EncodeHeader writes h into a fixed buffer of exactly HeaderLen(n) bytes,
// where n is the bitmap's width (h.Tokens.Len()). Besides the returned
// slice, EncodeHeader allocates the bitmap's byte encoding
// (h.Tokens.Bytes()).
func EncodeHeader(h Header) ([]byte, error) {
	n := int(h.Tokens.Len())
	buf := make([]byte, HeaderLen(n))
	f := wire.NewFixed(buf)
	if err := f.PutUint8(uint8(h.ID)); err != nil {
		return nil, errors.E("distexec.EncodeHeader", err)
	}
	if err := f.PutBytes(h.Tokens.Bytes()); err != nil {
		return nil, errors.E("distexec.EncodeHeader", err)
	}
	return f.Bytes(), nil
}

// DecodeHeader parses a Header of bitmap width n from b.
func DecodeHeader(n int, b []byte) (Header, error) {
	if len(b) != HeaderLen(n) {
		return Header{}, errors.E("distexec.DecodeHeader", errors.Invalid,
			errors.Errorf("got %d bytes, want %d for %d peers", len(b), HeaderLen(n), n))
	}
	in := wire.NewInput(b)
	id, err := in.GetUint8()
	if err != nil {
		return Header{}, errors.E("distexec.DecodeHeader", err)
	}
	rest, err := in.GetBytes(in.Len())
	if err != nil {
		return Header{}, errors.E("distexec.DecodeHeader", err)
	}
	return Header{ID: RequestID(id), Tokens: bitset.FromBytes(uint(n), rest)}, nil
}

// EncodeBatch serializes tasks into a batch payload: a 4-byte signed
// length prefix followed by the concatenation of each task's MarshalTo
// output. Decoding repeatedly calls decode until the byte range named by
// the length prefix is exhausted (wire.Input.Done), per spec.md §6 -- the
// batch is an even concatenation with no per-object separators.
func EncodeBatch[T interface {
	MarshalTo(w *wire.Output) error
}](tasks []T) ([]byte, error) {
	var body wire.Output
	for _, t := range tasks {
		if err := t.MarshalTo(&body); err != nil {
			return nil, errors.E("distexec.EncodeBatch", err)
		}
	}
	var out wire.Output
	out.PutInt32(int32(body.Len()))
	out.PutBytes(body.Bytes())
	return out.Bytes(), nil
}

// DecodeBatch parses a batch payload produced by EncodeBatch, calling
// decode repeatedly until the declared length is exhausted.
func DecodeBatch[T any](b []byte, decode func(r *wire.Input) (T, error)) ([]T, error) {
	in := wire.NewInput(b)
	l, err := in.GetInt32()
	if err != nil {
		return nil, errors.E("distexec.DecodeBatch", err)
	}
	if l < 0 {
		return nil, errors.E("distexec.DecodeBatch", errors.Invalid, errors.Errorf("negative batch length %d", l))
	}
	body, err := in.GetBytes(int(l))
	if err != nil {
		return nil, errors.E("distexec.DecodeBatch", err)
	}
	sub := wire.NewInput(body)
	var out []T
	for !sub.Done() {
		v, err := decode(sub)
		if err != nil {
			return nil, errors.E("distexec.DecodeBatch", err)
		}
		out = append(out, v)
	}
	return out, nil
}

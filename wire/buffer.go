// Package wire implements the streaming serialization buffers used on
// every hot path that crosses a thread or a peer boundary: Output grows a
// byte slice as tasks and states are appended to it; Input presents an
// existing byte slice as a read cursor; Fixed writes into a
// caller-supplied range and fails rather than growing, for callers (e.g.
// the message header) that must not allocate. All three are little-endian
// and copy-free: Output.Bytes and Input's constructor alias the caller's
// slice rather than copying it.
package wire

import (
	"encoding/binary"
	"math"

	"github.com/kp1181/scool/errors"
)

// Output is an append-only serialization buffer. The zero value is an
// empty, ready-to-use buffer.
type Output struct {
	buf []byte
}

// NewOutput returns an Output whose backing array is pre-sized to cap
// bytes, to avoid reallocation when the final size is known in advance
// (e.g. when serializing a batch of tasks of known count).
func NewOutput(cap int) *Output {
	return &Output{buf: make([]byte, 0, cap)}
}

// Bytes returns the accumulated bytes. The returned slice aliases the
// Output's internal buffer and is invalidated by further writes.
func (o *Output) Bytes() []byte { return o.buf }

// Len returns the number of bytes written so far.
func (o *Output) Len() int { return len(o.buf) }

// PutBytes appends b verbatim, with no length prefix.
func (o *Output) PutBytes(b []byte) {
	o.buf = append(o.buf, b...)
}

// PutUint8 appends a single byte.
func (o *Output) PutUint8(v uint8) {
	o.buf = append(o.buf, v)
}

// PutUint32 appends a little-endian uint32.
func (o *Output) PutUint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	o.buf = append(o.buf, b[:]...)
}

// PutInt32 appends a little-endian int32, as used for the 4-byte signed
// batch-length prefix of the wire protocol.
func (o *Output) PutInt32(v int32) {
	o.PutUint32(uint32(v))
}

// PutUint64 appends a little-endian uint64.
func (o *Output) PutUint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	o.buf = append(o.buf, b[:]...)
}

// PutFloat64 appends a little-endian IEEE-754 float64.
func (o *Output) PutFloat64(v float64) {
	o.PutUint64(math.Float64bits(v))
}

// PutString appends a uint32 length prefix followed by the string's
// bytes.
func (o *Output) PutString(s string) {
	o.PutUint32(uint32(len(s)))
	o.buf = append(o.buf, s...)
}

// Input is a read cursor over an existing byte slice. It never copies or
// allocates; every Get method advances the cursor and returns an error of
// kind errors.Invalid if the underlying slice is exhausted.
type Input struct {
	buf []byte
	pos int
}

// NewInput returns an Input reading from b. b is aliased, not copied.
func NewInput(b []byte) *Input {
	return &Input{buf: b}
}

// Len returns the number of unread bytes remaining.
func (in *Input) Len() int { return len(in.buf) - in.pos }

// Done reports whether the input has been fully consumed -- the
// termination condition for decoding a concatenated batch, since a batch
// is an even concatenation with no separators (spec wire protocol).
func (in *Input) Done() bool { return in.pos >= len(in.buf) }

func (in *Input) take(n int) ([]byte, error) {
	if in.Len() < n {
		return nil, errors.E("wire.Input.take", errors.Invalid, errors.Errorf("need %d bytes, have %d", n, in.Len()))
	}
	b := in.buf[in.pos : in.pos+n]
	in.pos += n
	return b, nil
}

// GetBytes reads exactly n bytes. The returned slice aliases the
// underlying buffer.
func (in *Input) GetBytes(n int) ([]byte, error) {
	return in.take(n)
}

// GetUint8 reads a single byte.
func (in *Input) GetUint8() (uint8, error) {
	b, err := in.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// GetUint32 reads a little-endian uint32.
func (in *Input) GetUint32() (uint32, error) {
	b, err := in.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// GetInt32 reads a little-endian int32.
func (in *Input) GetInt32() (int32, error) {
	v, err := in.GetUint32()
	return int32(v), err
}

// GetUint64 reads a little-endian uint64.
func (in *Input) GetUint64() (uint64, error) {
	b, err := in.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// GetFloat64 reads a little-endian IEEE-754 float64.
func (in *Input) GetFloat64() (float64, error) {
	v, err := in.GetUint64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

// GetString reads a uint32 length prefix followed by that many bytes, and
// returns them as a string (copied, since strings are immutable).
func (in *Input) GetString() (string, error) {
	n, err := in.GetUint32()
	if err != nil {
		return "", err
	}
	b, err := in.take(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Fixed writes into a caller-supplied fixed-size byte range and fails
// with an errors.Invalid error on overflow instead of growing, matching
// spec.md's "serialization overflow on a fixed buffer" error class. It is
// used for the wire protocol's fixed-size header (request id + token
// bitmap), which must never allocate on the hot steal-request path.
type Fixed struct {
	buf []byte
	pos int
}

// NewFixed returns a Fixed that writes into buf, up to its full capacity.
func NewFixed(buf []byte) *Fixed {
	return &Fixed{buf: buf}
}

// Len returns the number of bytes written so far.
func (f *Fixed) Len() int { return f.pos }

// Bytes returns the portion of the backing range written so far.
func (f *Fixed) Bytes() []byte { return f.buf[:f.pos] }

func (f *Fixed) reserve(n int) error {
	if f.pos+n > len(f.buf) {
		return errors.E("wire.Fixed", errors.Invalid, errors.Errorf("overflow: %d-byte write exceeds %d-byte buffer at offset %d", n, len(f.buf), f.pos))
	}
	return nil
}

// PutUint8 writes a single byte, or returns an overflow error.
func (f *Fixed) PutUint8(v uint8) error {
	if err := f.reserve(1); err != nil {
		return err
	}
	f.buf[f.pos] = v
	f.pos++
	return nil
}

// PutBytes writes b verbatim, or returns an overflow error leaving the
// buffer unmodified.
func (f *Fixed) PutBytes(b []byte) error {
	if err := f.reserve(len(b)); err != nil {
		return err
	}
	copy(f.buf[f.pos:], b)
	f.pos += len(b)
	return nil
}

// Package wire implements the fixed binary encoding shared by every message
// that crosses a TCP or UDP socket in this system: little-endian integers,
// u64-prefixed byte sequences and strings, and explicit per-type
// Marshal/Unmarshal pairs rather than a reflection-driven codec. The encoding
// must stay bit-exact across nodes, so nothing here is allowed to change
// shape once a message type ships.
package wire

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"
)

// Writer accumulates an encoded message body.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, 64)}
}

// Bytes returns the accumulated encoding.
func (w *Writer) Bytes() []byte { return w.buf }

// WriteU8 appends a single byte.
func (w *Writer) WriteU8(v uint8) { w.buf = append(w.buf, v) }

// WriteBool appends a one-byte boolean.
func (w *Writer) WriteBool(v bool) {
	if v {
		w.WriteU8(1)
	} else {
		w.WriteU8(0)
	}
}

// WriteU32 appends a little-endian uint32.
func (w *Writer) WriteU32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// WriteU64 appends a little-endian uint64.
func (w *Writer) WriteU64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// WriteI64 appends a little-endian int64 (used for Unix-nano timestamps).
func (w *Writer) WriteI64(v int64) { w.WriteU64(uint64(v)) }

// WriteF64 appends a little-endian IEEE-754 float64.
func (w *Writer) WriteF64(v float64) { w.WriteU64(math.Float64bits(v)) }

// WriteBytes appends a u64 length prefix followed by raw bytes.
func (w *Writer) WriteBytes(b []byte) {
	w.WriteU64(uint64(len(b)))
	w.buf = append(w.buf, b...)
}

// WriteString appends a u64 length prefix followed by UTF-8 bytes.
func (w *Writer) WriteString(s string) { w.WriteBytes([]byte(s)) }

// Reader consumes an encoded message body produced by Writer.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps buf for sequential decoding.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Remaining reports how many bytes are left undecoded.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

func (r *Reader) need(n int) error {
	if r.Remaining() < n {
		return errors.Errorf("wire: need %d bytes, have %d", n, r.Remaining())
	}
	return nil
}

// ReadU8 decodes a single byte.
func (r *Reader) ReadU8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

// ReadBool decodes a one-byte boolean.
func (r *Reader) ReadBool() (bool, error) {
	v, err := r.ReadU8()
	return v != 0, err
}

// ReadU32 decodes a little-endian uint32.
func (r *Reader) ReadU32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

// ReadU64 decodes a little-endian uint64.
func (r *Reader) ReadU64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

// ReadI64 decodes a little-endian int64.
func (r *Reader) ReadI64() (int64, error) {
	v, err := r.ReadU64()
	return int64(v), err
}

// ReadF64 decodes a little-endian IEEE-754 float64.
func (r *Reader) ReadF64() (float64, error) {
	v, err := r.ReadU64()
	return math.Float64frombits(v), err
}

// ReadBytes decodes a u64-length-prefixed byte sequence.
func (r *Reader) ReadBytes() ([]byte, error) {
	n, err := r.ReadU64()
	if err != nil {
		return nil, err
	}
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, r.buf[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return out, nil
}

// ReadString decodes a u64-length-prefixed UTF-8 string.
func (r *Reader) ReadString() (string, error) {
	b, err := r.ReadBytes()
	return string(b), err
}

// Encoder is implemented by every wire message type.
type Encoder interface {
	Encode(w *Writer)
}

// Decoder is implemented by every wire message type.
type Decoder interface {
	Decode(r *Reader) error
}

// Marshal encodes a message to its binary form.
func Marshal(e Encoder) []byte {
	w := NewWriter()
	e.Encode(w)
	return w.Bytes()
}

// Unmarshal decodes buf into d, erroring if trailing bytes remain.
func Unmarshal(buf []byte, d Decoder) error {
	r := NewReader(buf)
	if err := d.Decode(r); err != nil {
		return err
	}
	if r.Remaining() != 0 {
		return errors.Errorf("wire: %d trailing bytes after decode", r.Remaining())
	}
	return nil
}

// ReadFull reads exactly len(buf) bytes from r, blocking until they are
// available or r fails.
func ReadFull(r io.Reader, buf []byte) error {
	_, err := io.ReadFull(r, buf)
	return err
}

// Package wire implements the length-prefixed, big-endian binary codec
// shared by every structural type in the MLS core: fixed-width integers,
// length-prefixed variable-length byte strings, sequences, and the
// discriminator-prefixed tagged unions used for credentials, leaf-node
// sources and proposal-shaped payloads.
//
// The codec is total on well-formed input: Decoder rejects truncated
// input, and a top-level Unmarshal rejects trailing garbage.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrMalformed is returned for any decode failure: truncated input,
// an over-length declared size, or unconsumed trailing bytes.
var ErrMalformed = errors.New("wire: malformed encoding")

// LengthWidth selects the width, in bytes, of a variable-length field's
// size prefix.
type LengthWidth int

const (
	Len8  LengthWidth = 1
	Len16 LengthWidth = 2
	Len32 LengthWidth = 4
)

func (w LengthWidth) maxValue() uint64 {
	switch w {
	case Len8:
		return 1<<8 - 1
	case Len16:
		return 1<<16 - 1
	case Len32:
		return 1<<32 - 1
	default:
		return 0
	}
}

// Encoder accumulates a big-endian, length-prefixed encoding.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an empty Encoder.
func NewEncoder() *Encoder { return &Encoder{} }

// Bytes returns the accumulated encoding.
func (e *Encoder) Bytes() []byte { return e.buf }

// Len returns the number of bytes written so far.
func (e *Encoder) Len() int { return len(e.buf) }

// WriteUint8 appends a single byte.
func (e *Encoder) WriteUint8(v uint8) { e.buf = append(e.buf, v) }

// WriteUint16 appends a big-endian uint16.
func (e *Encoder) WriteUint16(v uint16) {
	e.buf = binary.BigEndian.AppendUint16(e.buf, v)
}

// WriteUint32 appends a big-endian uint32.
func (e *Encoder) WriteUint32(v uint32) {
	e.buf = binary.BigEndian.AppendUint32(e.buf, v)
}

// WriteUint64 appends a big-endian uint64.
func (e *Encoder) WriteUint64(v uint64) {
	e.buf = binary.BigEndian.AppendUint64(e.buf, v)
}

// WriteRaw appends raw bytes with no length prefix; used only where the
// caller has already written (or will write) the length separately.
func (e *Encoder) WriteRaw(b []byte) { e.buf = append(e.buf, b...) }

// WriteVarBytes appends a length-prefixed byte string, the prefix being
// width bytes wide.
func (e *Encoder) WriteVarBytes(width LengthWidth, b []byte) error {
	if uint64(len(b)) > width.maxValue() {
		return fmt.Errorf("%w: value of length %d exceeds %d-byte length prefix", ErrMalformed, len(b), width)
	}
	switch width {
	case Len8:
		e.WriteUint8(uint8(len(b)))
	case Len16:
		e.WriteUint16(uint16(len(b)))
	case Len32:
		e.WriteUint32(uint32(len(b)))
	default:
		return fmt.Errorf("%w: unsupported length width %d", ErrMalformed, width)
	}
	e.WriteRaw(b)
	return nil
}

// Marshaler is implemented by every structural wire type.
type Marshaler interface {
	MarshalWire(e *Encoder) error
}

// EncodeVector writes a length-prefixed sequence of items, each encoded
// by marshal.
func EncodeVector[T any](e *Encoder, width LengthWidth, items []T, marshal func(*Encoder, T) error) error {
	inner := NewEncoder()
	for _, it := range items {
		if err := marshal(inner, it); err != nil {
			return err
		}
	}
	return e.WriteVarBytes(width, inner.Bytes())
}

// Marshal encodes a Marshaler to a standalone byte slice.
func Marshal(m Marshaler) ([]byte, error) {
	e := NewEncoder()
	if err := m.MarshalWire(e); err != nil {
		return nil, err
	}
	return e.Bytes(), nil
}

// Decoder consumes a big-endian, length-prefixed encoding from a fixed
// byte slice, tracking a read cursor.
type Decoder struct {
	buf []byte
	pos int
}

// NewDecoder returns a Decoder positioned at the start of buf.
func NewDecoder(buf []byte) *Decoder { return &Decoder{buf: buf} }

// Remaining returns the number of unconsumed bytes.
func (d *Decoder) Remaining() int { return len(d.buf) - d.pos }

// Done reports whether the decoder has consumed every byte.
func (d *Decoder) Done() bool { return d.pos == len(d.buf) }

func (d *Decoder) need(n int) error {
	if d.Remaining() < n {
		return fmt.Errorf("%w: need %d bytes, have %d", ErrMalformed, n, d.Remaining())
	}
	return nil
}

// ReadUint8 consumes one byte.
func (d *Decoder) ReadUint8() (uint8, error) {
	if err := d.need(1); err != nil {
		return 0, err
	}
	v := d.buf[d.pos]
	d.pos++
	return v, nil
}

// ReadUint16 consumes a big-endian uint16.
func (d *Decoder) ReadUint16() (uint16, error) {
	if err := d.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(d.buf[d.pos:])
	d.pos += 2
	return v, nil
}

// ReadUint32 consumes a big-endian uint32.
func (d *Decoder) ReadUint32() (uint32, error) {
	if err := d.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(d.buf[d.pos:])
	d.pos += 4
	return v, nil
}

// ReadUint64 consumes a big-endian uint64.
func (d *Decoder) ReadUint64() (uint64, error) {
	if err := d.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(d.buf[d.pos:])
	d.pos += 8
	return v, nil
}

// ReadRaw consumes exactly n raw bytes.
func (d *Decoder) ReadRaw(n int) ([]byte, error) {
	if err := d.need(n); err != nil {
		return nil, err
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

// ReadVarBytes consumes a length-prefixed byte string whose prefix is
// width bytes wide.
func (d *Decoder) ReadVarBytes(width LengthWidth) ([]byte, error) {
	var n uint64
	switch width {
	case Len8:
		v, err := d.ReadUint8()
		if err != nil {
			return nil, err
		}
		n = uint64(v)
	case Len16:
		v, err := d.ReadUint16()
		if err != nil {
			return nil, err
		}
		n = uint64(v)
	case Len32:
		v, err := d.ReadUint32()
		if err != nil {
			return nil, err
		}
		n = uint64(v)
	default:
		return nil, fmt.Errorf("%w: unsupported length width %d", ErrMalformed, width)
	}
	raw, err := d.ReadRaw(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, nil
}

// DecodeVector reads a length-prefixed sequence and decodes each element
// with unmarshal until the inner buffer is exhausted.
func DecodeVector[T any](d *Decoder, width LengthWidth, unmarshal func(*Decoder) (T, error)) ([]T, error) {
	raw, err := d.ReadVarBytes(width)
	if err != nil {
		return nil, err
	}
	inner := NewDecoder(raw)
	var out []T
	for !inner.Done() {
		v, err := unmarshal(inner)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Unmarshaler is implemented by every structural wire type that decodes
// itself from a Decoder.
type Unmarshaler interface {
	UnmarshalWire(d *Decoder) error
}

// Unmarshal decodes buf fully into m, failing with ErrMalformed if any
// trailing bytes remain — the codec never silently ignores a suffix.
func Unmarshal(buf []byte, m Unmarshaler) error {
	d := NewDecoder(buf)
	if err := m.UnmarshalWire(d); err != nil {
		return err
	}
	if !d.Done() {
		return fmt.Errorf("%w: %d trailing bytes", ErrMalformed, d.Remaining())
	}
	return nil
}

// Compiled script data stream reader.
// All multi-byte values are little-endian; every read is bounds-checked
// and failures report the offset at which the read started.
package bcfmt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	ErrStreamEOF     = errors.New("stream: unexpected end of data")
	ErrStreamOverrun = errors.New("stream: value too large")
)

// ReadError reports a read that could not be satisfied.
type ReadError struct {
	Offset int // position where the read started
	Want   int // bytes requested
	Have   int // bytes remaining
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("stream: need %d bytes at offset %d, have %d", e.Want, e.Offset, e.Have)
}

func (e *ReadError) Unwrap() error { return ErrStreamEOF }

// Stream is a bounded cursor over compiled script data. A Stream made by
// Sub reports offsets in its parent's coordinates.
type Stream struct {
	data []byte
	pos  int
	end  int
	base int
}

// NewStream returns a stream over data.
func NewStream(data []byte) *Stream {
	return &Stream{data: data, end: len(data)}
}

// Sub returns a stream over the next n bytes and advances past them.
func (s *Stream) Sub(n int) (*Stream, error) {
	b, err := s.take(n)
	if err != nil {
		return nil, err
	}
	return &Stream{data: b, end: n, base: s.base + s.pos - n}, nil
}

func (s *Stream) Position() int { return s.pos }

// Offset is Position plus the stream's base.
func (s *Stream) Offset() int { return s.base + s.pos }

func (s *Stream) Base() int { return s.base }

// SetPosition moves the cursor, clamped to the end.
func (s *Stream) SetPosition(pos int) { s.pos = min(pos, s.end) }

func (s *Stream) Remaining() int { return s.end - s.pos }

func (s *Stream) Len() int { return s.end }

func (s *Stream) short(n int) error {
	return &ReadError{Offset: s.base + s.pos, Want: n, Have: s.end - s.pos}
}

// take returns the next n bytes without copying and advances past them.
func (s *Stream) take(n int) ([]byte, error) {
	if n < 0 || n > s.end-s.pos {
		return nil, s.short(n)
	}
	b := s.data[s.pos : s.pos+n : s.pos+n]
	s.pos += n
	return b, nil
}

func (s *Stream) ReadByte() (byte, error) {
	b, err := s.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadBytes returns a copy of the next n bytes.
func (s *Stream) ReadBytes(n int) ([]byte, error) {
	b, err := s.take(n)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}

func (s *Stream) ReadUint8() (uint8, error) { return s.ReadByte() }

func (s *Stream) ReadUint16() (uint16, error) {
	b, err := s.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (s *Stream) ReadUint32() (uint32, error) {
	b, err := s.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (s *Stream) ReadUint64() (uint64, error) {
	b, err := s.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (s *Stream) ReadInt32() (int32, error) {
	v, err := s.ReadUint32()
	return int32(v), err
}

func (s *Stream) ReadInt64() (int64, error) {
	v, err := s.ReadUint64()
	return int64(v), err
}

func (s *Stream) ReadFloat32() (float32, error) {
	v, err := s.ReadUint32()
	return math.Float32frombits(v), err
}

func (s *Stream) ReadFloat64() (float64, error) {
	v, err := s.ReadUint64()
	return math.Float64frombits(v), err
}

// ReadUint reads an unsigned little-endian value of the given width (1, 2 or 4).
func (s *Stream) ReadUint(width int) (uint32, error) {
	switch width {
	case 1:
		b, err := s.ReadByte()
		return uint32(b), err
	case 2:
		v, err := s.ReadUint16()
		return uint32(v), err
	case 4:
		return s.ReadUint32()
	}
	return 0, fmt.Errorf("stream: unsupported width %d", width)
}

// ReadPadded reads a u32 length-prefixed byte string padded to 4 bytes.
func (s *Stream) ReadPadded(maxLen int) ([]byte, error) {
	start := s.pos
	n, err := s.ReadUint32()
	if err != nil {
		return nil, err
	}
	if maxLen > 0 && int64(n) > int64(maxLen) {
		s.pos = start
		return nil, fmt.Errorf("%w: string length %d at offset %d", ErrStreamOverrun, n, s.base+start)
	}
	b, err := s.ReadBytes(int(n))
	if err != nil {
		return nil, err
	}
	if pad := (4 - int(n)%4) % 4; pad > 0 {
		if err := s.Skip(pad); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Skip advances the position by n bytes.
func (s *Stream) Skip(n int) error {
	_, err := s.take(n)
	return err
}

// ClampCount bounds an element count read from the stream by the bytes
// that could possibly back it. minSize is the smallest encoding of one element.
func (s *Stream) ClampCount(count uint32, minSize int) (int, bool) {
	if minSize <= 0 {
		minSize = 1
	}
	limit := s.Remaining() / minSize
	if int64(count) > int64(limit) {
		return limit, true
	}
	return int(count), false
}

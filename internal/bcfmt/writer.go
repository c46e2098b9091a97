package bcfmt

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Writer is the encoding counterpart of Stream.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty writer.
func NewWriter() *Writer { return &Writer{} }

// Bytes returns the written data.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bytes written.
func (w *Writer) Len() int { return len(w.buf) }

func (w *Writer) WriteByte(b byte) error {
	w.buf = append(w.buf, b)
	return nil
}

func (w *Writer) WriteBytes(b []byte) { w.buf = append(w.buf, b...) }

func (w *Writer) WriteUint16(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }
func (w *Writer) WriteUint32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }
func (w *Writer) WriteUint64(v uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }
func (w *Writer) WriteInt32(v int32)   { w.WriteUint32(uint32(v)) }
func (w *Writer) WriteInt64(v int64)   { w.WriteUint64(uint64(v)) }

func (w *Writer) WriteFloat32(v float32) { w.WriteUint32(math.Float32bits(v)) }
func (w *Writer) WriteFloat64(v float64) { w.WriteUint64(math.Float64bits(v)) }

// WriteUint writes v with the given width (1, 2 or 4), failing when it does not fit.
func (w *Writer) WriteUint(width int, v uint32) error {
	switch width {
	case 1:
		if v > math.MaxUint8 {
			return fmt.Errorf("writer: %d does not fit in 1 byte", v)
		}
		w.buf = append(w.buf, byte(v))
	case 2:
		if v > math.MaxUint16 {
			return fmt.Errorf("writer: %d does not fit in 2 bytes", v)
		}
		w.WriteUint16(uint16(v))
	case 4:
		w.WriteUint32(v)
	default:
		return fmt.Errorf("writer: unsupported width %d", width)
	}
	return nil
}

// WritePadded writes a u32 length-prefixed byte string padded to 4 bytes.
func (w *Writer) WritePadded(b []byte) {
	w.WriteUint32(uint32(len(b)))
	w.buf = append(w.buf, b...)
	for pad := (4 - len(b)%4) % 4; pad > 0; pad-- {
		w.buf = append(w.buf, 0)
	}
}

package bcfmt

import (
	"errors"
	"testing"
)

func TestReadFixedWidths(t *testing.T) {
	s := NewStream([]byte{
		0x7f,
		0x34, 0x12,
		0x78, 0x56, 0x34, 0x12,
		0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01,
	})
	b, err := s.ReadUint8()
	if err != nil || b != 0x7f {
		t.Fatalf("ReadUint8 = %x, %v", b, err)
	}
	u16, err := s.ReadUint16()
	if err != nil || u16 != 0x1234 {
		t.Fatalf("ReadUint16 = %x, %v", u16, err)
	}
	u32, err := s.ReadUint32()
	if err != nil || u32 != 0x12345678 {
		t.Fatalf("ReadUint32 = %x, %v", u32, err)
	}
	u64, err := s.ReadUint64()
	if err != nil || u64 != 0x0102030405060708 {
		t.Fatalf("ReadUint64 = %x, %v", u64, err)
	}
	if s.Remaining() != 0 {
		t.Errorf("remaining = %d, want 0", s.Remaining())
	}
}

func TestReadUint_Widths(t *testing.T) {
	tests := []struct {
		width int
		in    []byte
		want  uint32
	}{
		{1, []byte{0xff}, 0xff},
		{2, []byte{0x01, 0x02}, 0x0201},
		{4, []byte{0x01, 0x00, 0x00, 0x80}, 0x80000001},
	}
	for _, tt := range tests {
		s := NewStream(tt.in)
		got, err := s.ReadUint(tt.width)
		if err != nil {
			t.Errorf("ReadUint(%d): %v", tt.width, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ReadUint(%d) = %#x, want %#x", tt.width, got, tt.want)
		}
	}

	if _, err := NewStream([]byte{1, 2, 3}).ReadUint(3); err == nil {
		t.Error("expected error for width 3")
	}
}

func TestReadError_Offset(t *testing.T) {
	s := NewStream([]byte{1, 2, 3})
	if _, err := s.ReadByte(); err != nil {
		t.Fatal(err)
	}
	_, err := s.ReadUint32()
	var re *ReadError
	if !errors.As(err, &re) {
		t.Fatalf("expected *ReadError, got %v", err)
	}
	if re.Offset != 1 || re.Want != 4 || re.Have != 2 {
		t.Errorf("ReadError = %+v", re)
	}
	if !errors.Is(err, ErrStreamEOF) {
		t.Error("ReadError should unwrap to ErrStreamEOF")
	}
	// A failed read does not advance.
	if s.Position() != 1 {
		t.Errorf("position = %d, want 1", s.Position())
	}
}

func TestSub_ReportsOuterOffsets(t *testing.T) {
	s := NewStream([]byte{0, 0, 0, 0, 9, 9})
	if err := s.Skip(4); err != nil {
		t.Fatal(err)
	}
	sub, err := s.Sub(2)
	if err != nil {
		t.Fatal(err)
	}
	if sub.Base() != 4 {
		t.Errorf("base = %d, want 4", sub.Base())
	}
	if _, err := sub.ReadUint16(); err != nil {
		t.Fatal(err)
	}
	_, err = sub.ReadByte()
	var re *ReadError
	if !errors.As(err, &re) || re.Offset != 6 {
		t.Errorf("sub read error = %v, want offset 6", err)
	}
	if _, err := s.Sub(1); err == nil {
		t.Error("expected error for sub past end")
	}
}

func TestReadPadded(t *testing.T) {
	w := NewWriter()
	w.WritePadded([]byte("abcde"))
	w.WriteUint32(7)
	if w.Len() != 4+8+4 {
		t.Fatalf("writer len = %d", w.Len())
	}

	s := NewStream(w.Bytes())
	got, err := s.ReadPadded(0)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "abcde" {
		t.Errorf("ReadPadded = %q", got)
	}
	v, err := s.ReadUint32()
	if err != nil || v != 7 {
		t.Errorf("trailing value = %d, %v", v, err)
	}

	s = NewStream(w.Bytes())
	if _, err := s.ReadPadded(3); !errors.Is(err, ErrStreamOverrun) {
		t.Errorf("expected overrun for max 3, got %v", err)
	}
}

func TestClampCount(t *testing.T) {
	s := NewStream(make([]byte, 10))
	n, clamped := s.ClampCount(100, 4)
	if !clamped || n != 2 {
		t.Errorf("ClampCount = %d, %v", n, clamped)
	}
	n, clamped = s.ClampCount(2, 4)
	if clamped || n != 2 {
		t.Errorf("ClampCount = %d, %v", n, clamped)
	}
}

func TestWriteUint_Range(t *testing.T) {
	w := NewWriter()
	if err := w.WriteUint(1, 256); err == nil {
		t.Error("expected overflow for 256 in 1 byte")
	}
	if err := w.WriteUint(2, 0x10000); err == nil {
		t.Error("expected overflow for 0x10000 in 2 bytes")
	}
	if err := w.WriteUint(4, 0xffffffff); err != nil {
		t.Error(err)
	}
}

func TestDiags(t *testing.T) {
	var d Diags
	d.Add(4, DiagTruncated, "short")
	d.Addf(8, DiagRawFallback, "block %d", 3)
	var other Diags
	other.Add(0, DiagRawFallback, "x")
	d.Merge(&other)
	if d.Len() != 3 {
		t.Fatalf("len = %d", d.Len())
	}
	if d.Count(DiagRawFallback) != 2 {
		t.Errorf("raw fallback count = %d", d.Count(DiagRawFallback))
	}
	if got := d.Items()[1].String(); got != "[raw_fallback] 0x8: block 3" {
		t.Errorf("String() = %q", got)
	}
}

// Package script parses and writes the compiled-script container header.
package script

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"gdsdecomp/internal/bcfmt"
)

// Magic is the 4-byte signature at the start of every compiled script.
var Magic = [4]byte{'G', 'D', 'S', 'C'}

// Header flag bits.
const (
	FlagCompressed uint32 = 1 << 0 // payload is a zstd frame preceded by its decompressed size
)

const maxTagLen = 64

var (
	ErrBadMagic  = errors.New("script: bad magic")
	ErrBadHeader = errors.New("script: malformed header")
)

// Raw is a compiled script split into its header fields and instruction payload.
// Layout:
//
//	+0x00: magic    [4]byte  "GDSC"
//	+0x04: format   uint32   bytecode format version
//	+0x08: tag_len  uint8    1..64
//	+0x09: tag      [tag_len]byte ASCII, e.g. "V_703004f"
//	+....: flags    uint32
//	+....: payload  (or u32 size + zstd frame when FlagCompressed)
type Raw struct {
	Tag        string `json:"tag"`
	Format     uint32 `json:"format"`
	Flags      uint32 `json:"flags"`
	Compressed bool   `json:"compressed"`
	Payload    []byte `json:"-"` // decompressed instruction payload
	HeaderSize int    `json:"header_size"`
}

// Parse splits data into header and payload, decompressing if flagged.
// maxPayload caps the decompressed size; 0 means bcfmt.DefaultMaxBytes.
func Parse(data []byte, maxPayload int) (*Raw, error) {
	if maxPayload <= 0 {
		maxPayload = bcfmt.DefaultMaxBytes
	}
	s := bcfmt.NewStream(data)

	magic, err := s.ReadBytes(4)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadHeader, err)
	}
	if !bytes.Equal(magic, Magic[:]) {
		return nil, fmt.Errorf("%w: %q (want %q)", ErrBadMagic, magic, Magic[:])
	}

	r := &Raw{}
	if r.Format, err = s.ReadUint32(); err != nil {
		return nil, fmt.Errorf("%w: format: %w", ErrBadHeader, err)
	}
	n, err := s.ReadUint8()
	if err != nil {
		return nil, fmt.Errorf("%w: tag length: %w", ErrBadHeader, err)
	}
	if n == 0 || n > maxTagLen {
		return nil, fmt.Errorf("%w: tag length %d at offset 8", ErrBadHeader, n)
	}
	tag, err := s.ReadBytes(int(n))
	if err != nil {
		return nil, fmt.Errorf("%w: tag: %w", ErrBadHeader, err)
	}
	for i, b := range tag {
		if b < 0x20 || b > 0x7e {
			return nil, fmt.Errorf("%w: non-ASCII tag byte 0x%02x at offset %d", ErrBadHeader, b, 9+i)
		}
	}
	r.Tag = string(tag)
	if r.Flags, err = s.ReadUint32(); err != nil {
		return nil, fmt.Errorf("%w: flags: %w", ErrBadHeader, err)
	}
	r.Compressed = r.Flags&FlagCompressed != 0

	if !r.Compressed {
		r.HeaderSize = s.Position()
		r.Payload = data[s.Position():]
		if len(r.Payload) > maxPayload {
			return nil, fmt.Errorf("%w: payload %d bytes exceeds cap %d", ErrBadHeader, len(r.Payload), maxPayload)
		}
		return r, nil
	}

	size, err := s.ReadUint32()
	if err != nil {
		return nil, fmt.Errorf("%w: decompressed size: %w", ErrBadHeader, err)
	}
	if int64(size) > int64(maxPayload) {
		return nil, fmt.Errorf("%w: decompressed size %d exceeds cap %d", ErrBadHeader, size, maxPayload)
	}
	r.HeaderSize = s.Position()
	r.Payload, err = decompress(data[s.Position():], int(size), maxPayload)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// minDecoderWindow keeps the decoder able to read frames written with the
// encoder's default window even when the payload cap is small.
const minDecoderWindow = 8 << 20

func decompress(frame []byte, size, limit int) ([]byte, error) {
	dec, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderMaxMemory(uint64(max(limit, minDecoderWindow))),
	)
	if err != nil {
		return nil, fmt.Errorf("script: zstd: %w", err)
	}
	defer dec.Close()

	out, err := dec.DecodeAll(frame, make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("%w: zstd payload: %w", ErrBadHeader, err)
	}
	if len(out) != size {
		return nil, fmt.Errorf("%w: zstd payload is %d bytes, header says %d", ErrBadHeader, len(out), size)
	}
	return out, nil
}

// Build writes a container around payload. The payload is zstd-compressed
// when compress is set.
func Build(tag string, format uint32, payload []byte, compress bool) ([]byte, error) {
	if len(tag) == 0 || len(tag) > maxTagLen {
		return nil, fmt.Errorf("script: tag length %d out of range", len(tag))
	}
	w := bcfmt.NewWriter()
	w.WriteBytes(Magic[:])
	w.WriteUint32(format)
	w.WriteByte(byte(len(tag)))
	w.WriteBytes([]byte(tag))

	if !compress {
		w.WriteUint32(0)
		w.WriteBytes(payload)
		return w.Bytes(), nil
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("script: zstd: %w", err)
	}
	defer enc.Close()
	w.WriteUint32(FlagCompressed)
	w.WriteUint32(uint32(len(payload)))
	w.WriteBytes(enc.EncodeAll(payload, nil))
	return w.Bytes(), nil
}

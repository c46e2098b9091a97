// Package bcfmt provides shared binary primitives and diagnostics for compiled script parsing.
package bcfmt

import "fmt"

// DiagKind classifies a diagnostic message.
type DiagKind string

const (
	DiagTruncated   DiagKind = "truncated"
	DiagInvalid     DiagKind = "invalid"
	DiagUnknownTag  DiagKind = "unknown_tag"
	DiagOverflow    DiagKind = "overflow"
	DiagClamped     DiagKind = "clamped"
	DiagRawFallback DiagKind = "raw_fallback"
	DiagUnreachable DiagKind = "unreachable"
	DiagUnsupported DiagKind = "unsupported"
	DiagProbe       DiagKind = "probe"
)

// Diag records a non-fatal issue encountered during parsing or reconstruction.
type Diag struct {
	Offset uint64   `json:"offset" cbor:"offset"`
	Kind   DiagKind `json:"kind" cbor:"kind"`
	Msg    string   `json:"msg" cbor:"msg"`
}

func (d Diag) String() string {
	return fmt.Sprintf("[%s] 0x%x: %s", d.Kind, d.Offset, d.Msg)
}

// Diags accumulates diagnostics.
type Diags struct {
	items []Diag
}

func (d *Diags) Add(offset uint64, kind DiagKind, msg string) {
	d.items = append(d.items, Diag{Offset: offset, Kind: kind, Msg: msg})
}

func (d *Diags) Addf(offset uint64, kind DiagKind, format string, args ...any) {
	d.items = append(d.items, Diag{Offset: offset, Kind: kind, Msg: fmt.Sprintf(format, args...)})
}

// Merge appends all items of other.
func (d *Diags) Merge(other *Diags) {
	if other == nil {
		return
	}
	d.items = append(d.items, other.items...)
}

func (d *Diags) Items() []Diag { return d.items }
func (d *Diags) Len() int      { return len(d.items) }

// Count returns the number of diagnostics of the given kind.
func (d *Diags) Count(kind DiagKind) int {
	n := 0
	for _, it := range d.items {
		if it.Kind == kind {
			n++
		}
	}
	return n
}

// Mode controls error handling behavior.
type Mode int

const (
	ModeStrict     Mode = iota // first structural error returns error
	ModeBestEffort             // continue with placeholders, accumulate diags
)

func (m Mode) String() string {
	if m == ModeStrict {
		return "strict"
	}
	return "best-effort"
}

// ParseMode maps a config or flag value to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "strict":
		return ModeStrict, nil
	case "", "best-effort", "best_effort":
		return ModeBestEffort, nil
	}
	return ModeBestEffort, fmt.Errorf("unknown mode %q", s)
}

// Options controls parsing behavior across packages.
type Options struct {
	Mode     Mode
	MaxSteps int // global loop cap; 0 = use default
	MaxBytes int // payload size cap; 0 = use default
}

// DefaultMaxSteps is the global default loop cap.
const DefaultMaxSteps = 10_000_000

// DefaultMaxBytes caps decompressed payloads.
const DefaultMaxBytes = 64 << 20

func (o Options) EffectiveMaxSteps() int {
	if o.MaxSteps > 0 {
		return o.MaxSteps
	}
	return DefaultMaxSteps
}

func (o Options) EffectiveMaxBytes() int {
	if o.MaxBytes > 0 {
		return o.MaxBytes
	}
	return DefaultMaxBytes
}

package reconstruct

import (
	"fmt"

	"github.com/rs/zerolog"

	"gdsdecomp/internal/registry"
)

const (
	DefaultMinMatchArms = 3
	DefaultMaxDepth     = 64
	DefaultMaxBlocks    = 4096
)

// Options tunes structuring. The zero value emits every block raw; start
// from DefaultOptions.
type Options struct {
	Structure    bool // recover control flow; false emits RawBlocks only
	MinMatchArms int  // equality chains shorter than this stay if/elif
	MaxDepth     int  // nesting guard
	MaxBlocks    int  // work guard
	Logger       zerolog.Logger
}

// DefaultOptions returns the standard tuning.
func DefaultOptions() Options {
	return Options{
		Structure:    true,
		MinMatchArms: DefaultMinMatchArms,
		MaxDepth:     DefaultMaxDepth,
		MaxBlocks:    DefaultMaxBlocks,
		Logger:       zerolog.Nop(),
	}
}

func (o Options) minMatchArms() int {
	if o.MinMatchArms > 0 {
		return o.MinMatchArms
	}
	return DefaultMinMatchArms
}

func (o Options) maxDepth() int {
	if o.MaxDepth > 0 {
		return o.MaxDepth
	}
	return DefaultMaxDepth
}

func (o Options) maxBlocks() int {
	if o.MaxBlocks > 0 {
		return o.MaxBlocks
	}
	return DefaultMaxBlocks
}

// ReconstructError reports a control-flow invariant violation in one block.
type ReconstructError struct {
	Func  string
	Block int
	Msg   string
}

func (e *ReconstructError) Error() string {
	return fmt.Sprintf("reconstruct: %s: block %d: %s", e.Func, e.Block, e.Msg)
}

// UnsupportedError reports a construct the version's language does not have.
type UnsupportedError struct {
	Func    string
	Feature registry.Feature
	Offset  int // payload offset of the instruction
	What    string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("reconstruct: %s: %s at offset 0x%x needs feature %q", e.Func, e.What, e.Offset, e.Feature)
}

package decomp

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"gdsdecomp/internal/ast"
	"gdsdecomp/internal/bcfmt"
	"gdsdecomp/internal/bytecode"
	"gdsdecomp/internal/detect"
	"gdsdecomp/internal/reconstruct"
	"gdsdecomp/internal/registry"
)

// Status grades a unit or function result.
type Status string

const (
	StatusOk         Status = "ok"
	StatusIncomplete Status = "incomplete" // output present, partly raw or partly failed
	StatusFailed     Status = "failed"
)

// Kind classifies a failure.
type Kind string

const (
	KindUnknownVersion   Kind = "unknown_version"
	KindAmbiguousVersion Kind = "ambiguous_version"
	KindDecode           Kind = "decode_error"
	KindReconstruct      Kind = "reconstruct_error"
	KindUnsupported      Kind = "unsupported_construct"
	KindContainer        Kind = "container"
	KindCancelled        Kind = "cancelled"
)

// Failure is a classified error with its location. Offset and Block are -1
// when unknown.
type Failure struct {
	Kind    Kind   `json:"kind" cbor:"kind"`
	Func    string `json:"func,omitempty" cbor:"func,omitempty"`
	Offset  int    `json:"offset" cbor:"offset"`
	Block   int    `json:"block" cbor:"block"`
	Message string `json:"message" cbor:"message"`

	err error
}

func (f *Failure) Error() string {
	if f.Func != "" {
		return fmt.Sprintf("%s: %s: %s", f.Kind, f.Func, f.Message)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error { return f.err }

// classify maps a stage error onto the failure taxonomy.
func classify(err error) *Failure {
	f := &Failure{Offset: -1, Block: -1, Message: err.Error(), err: err}
	var (
		de *bytecode.DecodeError
		ue *reconstruct.UnsupportedError
		re *reconstruct.ReconstructError
	)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		f.Kind = KindCancelled
	case errors.Is(err, detect.ErrAmbiguousVersion):
		f.Kind = KindAmbiguousVersion
	case errors.Is(err, detect.ErrUnknownVersion):
		f.Kind = KindUnknownVersion
	case errors.As(err, &de):
		f.Kind = KindDecode
		f.Offset = de.Offset
	case errors.As(err, &ue):
		f.Kind = KindUnsupported
		f.Func = ue.Func
		f.Offset = ue.Offset
	case errors.As(err, &re):
		f.Kind = KindReconstruct
		f.Func = re.Func
		f.Block = re.Block
	default:
		f.Kind = KindReconstruct
	}
	return f
}

// FuncResult is the outcome for one function.
type FuncResult struct {
	Index      int      `json:"index" cbor:"index"`
	Name       string   `json:"name" cbor:"name"`
	Status     Status   `json:"status" cbor:"status"`
	Confidence float64  `json:"confidence" cbor:"confidence"`
	Source     string   `json:"source,omitempty" cbor:"source,omitempty"`
	Failure    *Failure `json:"failure,omitempty" cbor:"failure,omitempty"`

	Tree *ast.Func `json:"-" cbor:"-"`
}

// Result is the outcome for one compiled unit. The caller owns it.
type Result struct {
	Name       string        `json:"name" cbor:"name"`
	Version    string        `json:"version,omitempty" cbor:"version,omitempty"`
	Method     detect.Method `json:"method,omitempty" cbor:"method,omitempty"`
	Status     Status        `json:"status" cbor:"status"`
	Failure    *Failure      `json:"failure,omitempty" cbor:"failure,omitempty"`
	Funcs      []FuncResult  `json:"funcs" cbor:"funcs"`
	Source     string        `json:"source,omitempty" cbor:"source,omitempty"`
	Candidates []string      `json:"candidates,omitempty" cbor:"candidates,omitempty"`
	Diags      []bcfmt.Diag  `json:"diags,omitempty" cbor:"diags,omitempty"`

	Unit *bytecode.Unit    `json:"-" cbor:"-"`
	Ver  *registry.Version `json:"-" cbor:"-"`
}

// Err aggregates the unit failure and every function failure, or returns nil.
func (r *Result) Err() error {
	var err *multierror.Error
	if r.Failure != nil {
		err = multierror.Append(err, r.Failure)
	}
	for i := range r.Funcs {
		if f := r.Funcs[i].Failure; f != nil {
			err = multierror.Append(err, f)
		}
	}
	return err.ErrorOrNil()
}

// Confidence averages function confidence weighted by instruction count.
func (r *Result) Confidence() float64 {
	total, good := 0, 0.0
	for _, f := range r.Funcs {
		if f.Tree == nil {
			continue
		}
		total += f.Tree.Total
		good += f.Confidence * float64(f.Tree.Total)
	}
	if total == 0 {
		if r.Status == StatusFailed {
			return 0
		}
		return 1
	}
	return good / float64(total)
}

func (r *Result) fail(f *Failure) *Result {
	r.Failure = f
	r.Status = StatusFailed
	return r
}

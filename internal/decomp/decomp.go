// Package decomp runs detection, decoding, reconstruction and emission over
// compiled scripts.
//
// Failures inside one function are recorded on that function and the rest
// of the unit still decompiles. Version and container failures stop the
// unit. Units are independent and DecompileAll runs them on a bounded
// worker pool; cancellation is checked between stages.
package decomp

import (
	"context"
	"fmt"
	"runtime"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"gdsdecomp/internal/ast"
	"gdsdecomp/internal/bcfmt"
	"gdsdecomp/internal/bytecode"
	"gdsdecomp/internal/detect"
	"gdsdecomp/internal/emit"
	"gdsdecomp/internal/reconstruct"
	"gdsdecomp/internal/registry"
	"gdsdecomp/internal/script"
)

// Options configures every stage.
type Options struct {
	Detect      detect.Options
	Decode      bcfmt.Options // Mode strict fails the unit on the first function failure
	Reconstruct reconstruct.Options
	Workers     int // 0 = GOMAXPROCS
}

// DefaultOptions returns best-effort decoding with full structuring.
func DefaultOptions() Options {
	return Options{
		Decode:      bcfmt.Options{Mode: bcfmt.ModeBestEffort},
		Reconstruct: reconstruct.DefaultOptions(),
	}
}

// Decompiler is safe for concurrent use; it holds no per-unit state.
type Decompiler struct {
	Registry *registry.Registry
	Options  Options
	Logger   zerolog.Logger
}

// New returns a Decompiler over reg.
func New(reg *registry.Registry, opts Options, logger zerolog.Logger) *Decompiler {
	return &Decompiler{Registry: reg, Options: opts, Logger: logger}
}

// Input is one compiled unit to decompile.
type Input struct {
	Name string
	Data []byte
}

func (d *Decompiler) workers() int {
	if d.Options.Workers > 0 {
		return d.Options.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// DecompileAll decompiles inputs on a worker pool, one unit per worker.
// Results are in input order.
func (d *Decompiler) DecompileAll(ctx context.Context, inputs []Input) []*Result {
	results := make([]*Result, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers())
	for i, in := range inputs {
		g.Go(func() error {
			results[i] = d.DecompileUnit(gctx, in.Name, in.Data)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// DecompileUnit runs the full pipeline on one compiled script.
func (d *Decompiler) DecompileUnit(ctx context.Context, name string, data []byte) *Result {
	log := d.Logger.With().Str("unit", name).Logger()
	r := &Result{Name: name, Status: StatusOk}
	if err := ctx.Err(); err != nil {
		return r.fail(classify(err))
	}

	raw, err := script.Parse(data, d.Options.Decode.EffectiveMaxBytes())
	if err != nil {
		f := classify(err)
		f.Kind = KindContainer
		log.Warn().Err(err).Msg("bad container")
		return r.fail(f)
	}
	if err := ctx.Err(); err != nil {
		return r.fail(classify(err))
	}

	dopts := d.Options.Detect
	dopts.Logger = log
	det, err := detect.Detect(raw, d.Registry, dopts)
	if det != nil {
		for _, c := range det.Candidates {
			r.Candidates = append(r.Candidates, c.Version.Tag)
		}
	}
	if err != nil {
		log.Warn().Err(err).Str("tag", raw.Tag).Msg("version not resolved")
		return r.fail(classify(err))
	}
	ver := det.Version
	r.Version, r.Method, r.Ver = ver.Tag, det.Method, ver
	if err := ctx.Err(); err != nil {
		return r.fail(classify(err))
	}

	u, err := bytecode.Decode(raw.Payload, ver, d.Options.Decode)
	r.Unit = u
	r.Diags = append(r.Diags, u.Diags.Items()...)
	if err != nil {
		f := classify(err)
		if d.strict() || len(u.Functions) == 0 {
			return r.fail(f)
		}
		r.Failure = f
		r.Status = StatusIncomplete
		log.Warn().Err(err).Int("funcs", len(u.Functions)).Msg("unit truncated, keeping decoded prefix")
	}
	for _, fu := range bytecode.Unsupported(bytecode.FeatureUses(u), ver) {
		if fu.Func >= 0 {
			continue // reported per function
		}
		f := &Failure{Kind: KindUnsupported, Offset: fu.Offset, Block: -1,
			Message: fu.What + " needs feature " + string(fu.Feature)}
		if d.strict() {
			return r.fail(f)
		}
		log.Warn().Int("offset", fu.Offset).Str("feature", string(fu.Feature)).Msg(fu.What + " not in this version")
		r.Diags = append(r.Diags, bcfmt.Diag{Offset: uint64(fu.Offset), Kind: bcfmt.DiagUnsupported, Msg: f.Message})
		if r.Failure == nil {
			r.Failure = f
		}
		r.Status = StatusIncomplete
	}

	trees := make([]*ast.Func, len(u.Functions))
	for i, fn := range u.Functions {
		if err := ctx.Err(); err != nil {
			return r.fail(classify(err))
		}
		fr := d.function(u, fn, ver, &log)
		if fr.Failure != nil && d.strict() {
			r.Funcs = append(r.Funcs, fr)
			return r.fail(fr.Failure)
		}
		if fr.Tree != nil && !fr.Tree.Structured() {
			r.Diags = append(r.Diags, bcfmt.Diag{Offset: uint64(fn.CodeOffset), Kind: bcfmt.DiagRawFallback,
				Msg: fr.Name + ": unstructured blocks emitted raw"})
			r.Diags = append(r.Diags, unreachable(fr)...)
		}
		trees[i] = fr.Tree
		r.Funcs = append(r.Funcs, fr)
		if fr.Status != StatusOk {
			r.Status = StatusIncomplete
		}
	}
	if u.Incomplete {
		r.Status = StatusIncomplete
	}

	r.Source = emit.Unit(u, ver, trees)
	log.Debug().Str("version", ver.Tag).Str("method", string(det.Method)).Str("status", string(r.Status)).
		Int("funcs", len(r.Funcs)).Float64("confidence", r.Confidence()).Msg("decompiled")
	return r
}

func (d *Decompiler) strict() bool { return d.Options.Decode.Mode == bcfmt.ModeStrict }

// unreachable reports dead blocks kept as raw output. They usually mean the
// version was misdetected.
func unreachable(fr FuncResult) []bcfmt.Diag {
	var out []bcfmt.Diag
	ast.Walk(fr.Tree.Body, func(n ast.Node) bool {
		rb, ok := n.(*ast.RawBlock)
		if !ok || rb.Reachable {
			return true
		}
		off := 0
		if len(rb.Span) > 0 {
			off = fr.Tree.Fn.Instructions[rb.Span[0]].Offset
		}
		out = append(out, bcfmt.Diag{Offset: uint64(off), Kind: bcfmt.DiagUnreachable,
			Msg: fmt.Sprintf("%s: bb%d unreachable", fr.Name, rb.Block)})
		return true
	})
	return out
}

// function reconstructs and emits one function.
func (d *Decompiler) function(u *bytecode.Unit, fn *bytecode.Function, ver *registry.Version, log *zerolog.Logger) FuncResult {
	fr := FuncResult{Index: fn.Index, Name: u.FuncName(fn)}
	fail := func(err error) FuncResult {
		fr.Status = StatusFailed
		fr.Failure = classify(err)
		fr.Failure.Func = fr.Name
		log.Warn().Err(err).Str("func", fr.Name).Msg("function failed")
		return fr
	}
	if fn.Err != nil {
		return fail(fn.Err)
	}

	opts := d.Options.Reconstruct
	opts.Logger = *log
	tree, err := reconstruct.Reconstruct(u, fn, ver, opts)
	if err != nil {
		return fail(err)
	}
	fr.Tree = tree
	fr.Confidence = tree.Confidence()
	fr.Source = emit.Function(tree, ver)
	fr.Status = StatusOk
	if !tree.Structured() {
		fr.Status = StatusIncomplete
	}
	return fr
}

// Package reconstruct recovers structured statements from a function's
// control-flow graph.
package reconstruct

import (
	"errors"
	"slices"
	"sort"

	"gdsdecomp/internal/ast"
	"gdsdecomp/internal/bytecode"
	"gdsdecomp/internal/cfg"
	"gdsdecomp/internal/registry"
)

// builder holds the state of one function's structuring pass.
type builder struct {
	u    *bytecode.Unit
	fn   *bytecode.Function
	ver  *registry.Version
	opts Options
	name string

	g       *cfg.Graph
	loops   map[int]*cfg.Loop // by header block
	entered map[int]bool      // loop headers already structured
	done    []bool
	depth   int
	err     error
}

// loopCtx names the break and continue targets of the innermost loop.
type loopCtx struct {
	brk  int // exit block, cfg.None when the loop never exits normally
	cont int // header (while) or latch (for)
	loop *cfg.Loop
}

// Reconstruct builds the statement tree of fn. Constructs the version
// does not support fail with *UnsupportedError; broken control flow fails
// with *ReconstructError. Regions that resist structuring become RawBlocks.
func Reconstruct(u *bytecode.Unit, fn *bytecode.Function, ver *registry.Version, opts Options) (*ast.Func, error) {
	name := u.FuncName(fn)
	if bad := bytecode.Unsupported(bytecode.FunctionFeatureUses(fn), ver); len(bad) > 0 {
		fu := bad[0]
		return nil, &UnsupportedError{Func: name, Feature: fu.Feature, Offset: fu.Offset, What: fu.What}
	}

	g, err := cfg.Build(name, fn)
	if err != nil {
		var be *cfg.BlockError
		if errors.As(err, &be) {
			return nil, &ReconstructError{Func: name, Block: be.Block, Msg: be.Msg}
		}
		return nil, err
	}
	if len(g.Blocks) > opts.maxBlocks() {
		return nil, &ReconstructError{Func: name, Block: opts.maxBlocks(), Msg: "block budget exceeded"}
	}

	r := &builder{
		u: u, fn: fn, ver: ver, opts: opts, name: name,
		g:       g,
		loops:   make(map[int]*cfg.Loop),
		entered: make(map[int]bool),
		done:    make([]bool, len(g.Blocks)),
	}
	for _, l := range g.Loops() {
		r.loops[l.Header] = l
	}

	body := &ast.Sequence{}
	if len(g.Blocks) > 0 && opts.Structure {
		body = r.seq(0, cfg.Exit, nil, false)
		if r.err != nil {
			return nil, r.err
		}
	}
	var rest []ast.Node
	for b := range g.Blocks {
		if !r.done[b] {
			reason := "not structured"
			if !g.Blocks[b].Reachable {
				reason = "unreachable"
			}
			rest = append(rest, r.raw(b, reason))
		}
	}
	pruneLabels(body, gotoTargets(append([]ast.Node{body}, rest...)))
	if opts.Structure {
		markImplicitReturn(body)
		if ver.Has(registry.FeatureMatch) {
			lowerMatches(body, ver.Has(registry.FeatureWildcard), opts.minMatchArms())
		}
	}
	body.Body = append(body.Body, rest...)

	f := &ast.Func{Name: name, Fn: fn, Unit: u, Body: body, Total: len(fn.Instructions)}
	raw := make(map[int]bool)
	ast.Walk(body, func(n ast.Node) bool {
		rb, ok := n.(*ast.RawBlock)
		if !ok {
			return true
		}
		f.Fallbacks++
		for _, i := range rb.Span {
			raw[i] = true
		}
		if rb.Reason == ast.ReasonGoto && rb.Block >= 0 {
			blk := &g.Blocks[rb.Block]
			for i := blk.Start; i < blk.End; i++ {
				raw[i] = true
			}
		}
		return true
	})
	f.Raw = len(raw)
	opts.Logger.Debug().Str("func", name).Int("blocks", len(g.Blocks)).Int("fallbacks", f.Fallbacks).
		Int("raw", f.Raw).Float64("confidence", f.Confidence()).Msg("reconstructed")
	return f, nil
}

// gotoTargets collects the blocks any RawBlock under nodes may continue at.
func gotoTargets(nodes []ast.Node) map[int]bool {
	out := make(map[int]bool)
	for _, n := range nodes {
		ast.Walk(n, func(n ast.Node) bool {
			if rb, ok := n.(*ast.RawBlock); ok {
				for _, s := range rb.Succs {
					if s >= 0 {
						out[s] = true
					}
				}
			}
			return true
		})
	}
	return out
}

// pruneLabels drops every Label whose block is not in keep.
func pruneLabels(n ast.Node, keep map[int]bool) {
	ast.Walk(n, func(n ast.Node) bool {
		s, ok := n.(*ast.Sequence)
		if !ok {
			return true
		}
		out := s.Body[:0]
		for _, c := range s.Body {
			if l, ok := c.(*ast.Label); ok && !keep[l.Block] {
				continue
			}
			out = append(out, c)
		}
		s.Body = out
		return true
	})
}

// raw emits block b unstructured.
func (r *builder) raw(b int, reason string) *ast.RawBlock {
	r.done[b] = true
	blk := &r.g.Blocks[b]
	rb := &ast.RawBlock{Block: b, Reason: reason, Reachable: blk.Reachable}
	for i := blk.Start; i < blk.End; i++ {
		rb.Span = append(rb.Span, i)
	}
	for _, s := range blk.Succs {
		rb.Succs = append(rb.Succs, s.BlockID)
	}
	r.opts.Logger.Debug().Str("func", r.name).Int("block", b).Str("reason", reason).Msg("raw block")
	return rb
}

// onlyEntry reports whether every forward predecessor of t is from.
func (r *builder) onlyEntry(from, t int) bool {
	for _, p := range r.g.Blocks[t].Preds {
		if p == from || !r.g.Blocks[p].Reachable || r.g.Dominates(t, p) {
			continue
		}
		return false
	}
	return true
}

// seq structures the region starting at cur until control reaches stop.
// entering skips the stop and loop checks for cur itself (a loop body
// starting at its own header).
func (r *builder) seq(cur, stop int, lc *loopCtx, entering bool) *ast.Sequence {
	s := &ast.Sequence{}
	r.depth++
	defer func() { r.depth-- }()
	if r.depth > r.opts.maxDepth() {
		r.fail(cur, "nesting depth exceeded")
		return s
	}

	for first := entering; r.err == nil; first = false {
		if !first {
			switch {
			case cur == stop || cur == cfg.Exit || cur == cfg.None:
				return s
			case lc != nil && cur == lc.brk:
				s.Body = append(s.Body, &ast.Break{})
				return s
			case lc != nil && cur == lc.cont:
				s.Body = append(s.Body, &ast.Continue{})
				return s
			}
			if r.done[cur] {
				s.Body = append(s.Body, &ast.RawBlock{Block: cur, Reason: ast.ReasonGoto, Succs: []int{cur}, Reachable: true})
				return s
			}
			if r.loops[cur] != nil && !r.entered[cur] {
				cur = r.whileLoop(s, cur)
				continue
			}
		}

		r.done[cur] = true
		blk := &r.g.Blocks[cur]
		res, err := r.simulate(cur)
		if err != nil {
			s.Body = append(s.Body, r.raw(cur, err.Error()))
			cur = r.rawNext(cur)
			continue
		}
		s.Body = append(s.Body, &ast.Label{Block: cur})
		s.Body = append(s.Body, res.stmts...)
		s.Own(res.extra...)

		switch blk.Last(r.g).Spec.Flow {
		case registry.FlowNone:
			cur = blk.Succs[0].BlockID
		case registry.FlowReturn:
			return s
		case registry.FlowJump:
			t := blk.Succs[0].BlockID
			switch {
			case t == stop:
				s.Own(res.term)
				return s
			case lc != nil && t == lc.brk:
				s.Body = append(s.Body, &ast.Break{Base: ast.Base{Span: []int{res.term}}})
				return s
			case lc != nil && t == lc.cont:
				s.Body = append(s.Body, &ast.Continue{Base: ast.Base{Span: []int{res.term}}})
				return s
			case t == cfg.Exit:
				s.Body = append(s.Body, &ast.Return{Base: ast.Base{Span: []int{res.term}}})
				return s
			case !r.done[t] && r.onlyEntry(cur, t):
				s.Own(res.term)
				cur = t
			default:
				s.Body = append(s.Body, &ast.RawBlock{Base: ast.Base{Span: []int{res.term}},
					Block: cur, Reason: ast.ReasonGoto, Succs: []int{t}, Reachable: true})
				return s
			}
		case registry.FlowBranchFalse, registry.FlowBranchTrue:
			cur = r.ifElse(s, cur, res, stop, lc)
		case registry.FlowIterBegin:
			cur = r.forLoop(s, cur, res)
		default:
			s.Body = append(s.Body, &ast.RawBlock{Base: ast.Base{Span: []int{res.term}},
				Block: cur, Reason: "iterator advance outside a loop", Succs: succIDs(blk), Reachable: true})
			cur = r.rawNext(cur)
		}
	}
	return s
}

// rawNext picks where structuring resumes after an unstructured block.
func (r *builder) rawNext(b int) int {
	blk := &r.g.Blocks[b]
	for _, s := range blk.Succs {
		if s.Kind == cfg.EdgeFallthrough && s.BlockID >= 0 && !r.done[s.BlockID] {
			return s.BlockID
		}
	}
	if len(blk.Succs) == 1 {
		if t := blk.Succs[0].BlockID; t >= 0 && !r.done[t] && r.onlyEntry(b, t) {
			return t
		}
	}
	return cfg.None
}

func succIDs(blk *cfg.Block) []int {
	out := make([]int, 0, len(blk.Succs))
	for _, s := range blk.Succs {
		out = append(out, s.BlockID)
	}
	return out
}

func (r *builder) fail(b int, msg string) {
	if r.err == nil {
		r.err = &ReconstructError{Func: r.name, Block: b, Msg: msg}
	}
}

// ifElse structures a conditional block. Arms converge at the immediate
// post-dominator when it lies in the current loop; otherwise each arm runs
// to the enclosing stop, and an arm that ends in a jump out becomes a
// single-arm if with the other arm inline.
func (r *builder) ifElse(s *ast.Sequence, cur int, res blockResult, stop int, lc *loopCtx) int {
	blk := &r.g.Blocks[cur]
	ts, _ := blk.Succ("T")
	fs, _ := blk.Succ("F")
	t, f := ts.BlockID, fs.BlockID

	join := r.g.Ipdom[cur]
	if join < 0 || (lc != nil && lc.loop != nil && !lc.loop.Contains(join)) || r.done[join] {
		join = cfg.None
	}
	end := join
	if join == cfg.None {
		end = stop
	}

	node := &ast.If{Base: ast.Base{Span: spanOf(res.term, res.top)}, Cond: res.top.e}
	s.Body = append(s.Body, node)
	switch {
	case t == end:
		node.Cond = negate(node.Cond)
		node.Then = r.seq(f, end, lc, false)
		return end
	case f == end:
		node.Then = r.seq(t, end, lc, false)
		return end
	}

	node.Then = r.seq(t, end, lc, false)
	if join == cfg.None && terminates(node.Then) {
		return f
	}
	node.Else = r.seq(f, end, lc, false)
	return end
}

// whileLoop structures the natural loop headed by h and returns the block
// control continues at.
func (r *builder) whileLoop(s *ast.Sequence, h int) int {
	l := r.loops[h]
	r.entered[h] = true
	exits := r.loopExits(l)
	if len(exits) > 1 {
		return r.rawLoop(s, l, "loop with several exits", exits)
	}
	exit := cfg.None
	if len(exits) == 1 {
		exit = exits[0]
	}
	lc := &loopCtx{brk: exit, cont: h, loop: l}

	hb := &r.g.Blocks[h]
	flow := hb.Last(r.g).Spec.Flow
	if flow == registry.FlowBranchFalse || flow == registry.FlowBranchTrue {
		res, err := r.simulate(h)
		ts, _ := hb.Succ("T")
		fs, _ := hb.Succ("F")
		if err == nil && len(res.stmts) == 0 && len(res.extra) == 0 && (ts.BlockID == exit || fs.BlockID == exit) {
			r.done[h] = true
			w := &ast.While{Base: ast.Base{Span: spanOf(res.term, res.top)}, Cond: res.top.e}
			body := ts.BlockID
			if ts.BlockID == exit {
				w.Cond = negate(w.Cond)
				body = fs.BlockID
			}
			w.Body = r.seq(body, h, lc, false)
			s.Body = append(s.Body, &ast.Label{Block: h}, w)
			return exit
		}
	}

	w := &ast.While{}
	w.Body = r.seq(h, h, lc, true)
	s.Body = append(s.Body, w)
	return exit
}

// forLoop structures ITER_BEGIN at the end of block b. The body runs from
// the fallthrough successor to the latch ending in the matching ITER_NEXT.
func (r *builder) forLoop(s *ast.Sequence, b int, res blockResult) int {
	blk := &r.g.Blocks[b]
	begin := &r.g.Insts[res.term]
	ts, _ := blk.Succ("T")
	fs, _ := blk.Succ("F")
	body, exit := ts.BlockID, fs.BlockID
	iter := r.arg(begin, registry.OperandLocal)
	elem, _ := begin.Arg(registry.OperandLocal, 1)
	typ, _ := begin.Arg(registry.OperandType, 0)

	latch := r.findLatch(body, iter, int(elem))
	if latch < 0 || body < 0 || r.done[latch] {
		s.Body = append(s.Body, &ast.RawBlock{Base: ast.Base{Span: spanOf(res.term, res.top)},
			Block: b, Reason: "for-in without iterator advance", Succs: []int{body, exit}, Reachable: true})
		return body
	}
	l := r.loops[body]
	if l != nil {
		exits := r.loopExits(l)
		for _, e := range exits {
			if e != exit {
				return r.rawLoop(s, l, "loop with several exits", exits)
			}
		}
	}
	r.entered[body] = true
	lc := &loopCtx{brk: exit, cont: latch, loop: l}

	f := &ast.For{Base: ast.Base{Span: spanOf(res.term, res.top)}, Var: int(elem), Iter: res.top.e, Type: typ}
	if body == latch {
		f.Body = &ast.Sequence{}
	} else {
		f.Body = r.seq(body, latch, lc, false)
	}
	r.done[latch] = true
	lres, err := r.simulate(latch)
	if err != nil {
		f.Body.Body = append(f.Body.Body, r.raw(latch, err.Error()))
	} else {
		f.Body.Body = append(f.Body.Body, &ast.Label{Block: latch})
		f.Body.Body = append(f.Body.Body, lres.stmts...)
		f.Body.Own(lres.extra...)
		f.Own(lres.term)
	}
	s.Body = append(s.Body, f)
	return exit
}

// findLatch returns the block ending in ITER_NEXT for the given slots that
// jumps back to body, or -1.
func (r *builder) findLatch(body, iter, elem int) int {
	if body < 0 {
		return -1
	}
	start := r.g.Insts[r.g.Blocks[body].Start].Offset
	for i := range r.g.Blocks {
		last := r.g.Blocks[i].Last(r.g)
		if last.Op != registry.OpIterNext {
			continue
		}
		it, _ := last.Arg(registry.OperandLocal, 0)
		el, _ := last.Arg(registry.OperandLocal, 1)
		t, _ := last.Target()
		if int(it) == iter && int(el) == elem && t == start {
			return i
		}
	}
	return -1
}

// rawLoop emits every unstructured block of l raw and resumes at the first exit.
func (r *builder) rawLoop(s *ast.Sequence, l *cfg.Loop, reason string, exits []int) int {
	for _, b := range l.Body {
		if !r.done[b] {
			s.Body = append(s.Body, r.raw(b, reason))
		}
	}
	for _, e := range exits {
		if !r.done[e] {
			return e
		}
	}
	return cfg.None
}

// normalExits lists the loop's exit blocks, ignoring the function exit.
func normalExits(l *cfg.Loop) []int {
	var out []int
	for _, e := range l.Exits {
		if e >= 0 {
			out = append(out, e)
		}
	}
	sort.Ints(out)
	return out
}

// loopExits lists the exits of l that need a break target. An exit block
// entered only from the loop is folded into the body when it leaves the
// function (a return arm) or jumps straight to a remaining exit (the break
// stub a conditional break compiles to).
func (r *builder) loopExits(l *cfg.Loop) []int {
	exits := normalExits(l)
	if len(exits) < 2 {
		return exits
	}
	inner := func(e int) bool {
		for _, p := range r.g.Blocks[e].Preds {
			if !l.Contains(p) {
				return false
			}
		}
		return true
	}
	var kept, stubs []int
	for _, e := range exits {
		blk := &r.g.Blocks[e]
		switch {
		case !inner(e):
			kept = append(kept, e)
		case blk.IsTerm, len(blk.Succs) == 1 && blk.Succs[0].BlockID == cfg.Exit:
		case len(blk.Succs) == 1 && l.Contains(blk.Succs[0].BlockID):
			kept = append(kept, e)
		case len(blk.Succs) == 1:
			stubs = append(stubs, e)
		default:
			kept = append(kept, e)
		}
	}
	for _, e := range stubs {
		if !slices.Contains(kept, r.g.Blocks[e].Succs[0].BlockID) {
			kept = append(kept, e)
		}
	}
	sort.Ints(kept)
	return kept
}

// last returns the final statement of s, skipping labels.
func last(s *ast.Sequence) ast.Node {
	if s == nil {
		return nil
	}
	for i := len(s.Body) - 1; i >= 0; i-- {
		if _, ok := s.Body[i].(*ast.Label); !ok {
			return s.Body[i]
		}
	}
	return nil
}

// terminates reports whether control never falls off the end of s.
func terminates(s *ast.Sequence) bool {
	switch x := last(s).(type) {
	case *ast.Return, *ast.Break, *ast.Continue:
		return true
	case *ast.RawBlock:
		return x.Reason == ast.ReasonGoto
	case *ast.If:
		return x.Else != nil && terminates(x.Then) && terminates(x.Else)
	}
	return false
}

func negate(e ast.Expr) ast.Expr {
	if u, ok := e.(*ast.Unary); ok && u.Op == registry.OpNot {
		return u.X
	}
	return &ast.Unary{Op: registry.OpNot, X: e}
}

// markImplicitReturn flags the compiler's trailing bare return.
func markImplicitReturn(s *ast.Sequence) {
	if ret, ok := last(s).(*ast.Return); ok && ret.Value == nil {
		ret.Implicit = true
	}
}

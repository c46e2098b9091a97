// Package emit renders reconstructed functions as GDScript source.
//
// Output is tab-indented. Names missing from the binary are positional
// (arg0, local0, func_0). Regions the reconstructor could not structure are
// kept as commented instruction listings under a "# RAW" header, and a
// structured block a listing jumps to is marked with a "# bbN:" comment.
package emit

import (
	"fmt"
	"sort"
	"strings"

	"gdsdecomp/internal/ast"
	"gdsdecomp/internal/bytecode"
	"gdsdecomp/internal/disasm"
	"gdsdecomp/internal/registry"
)

type printer struct {
	b        strings.Builder
	u        *bytecode.Unit
	fn       *bytecode.Function
	ver      *registry.Version
	ann      disasm.Annotator
	declared map[int]bool
}

func newPrinter(u *bytecode.Unit, fn *bytecode.Function, ver *registry.Version) *printer {
	return &printer{
		u:        u,
		fn:       fn,
		ver:      ver,
		ann:      disasm.OperandAnnotator(u, fn, ver),
		declared: make(map[int]bool),
	}
}

// Function renders one reconstructed function.
func Function(f *ast.Func, ver *registry.Version) string {
	p := newPrinter(f.Unit, f.Fn, ver)
	if !f.Structured() {
		fmt.Fprintf(&p.b, "# confidence %.2f: %d of %d instructions not structured\n", f.Confidence(), f.Raw, f.Total)
	}
	p.b.WriteString("func " + f.Name + "(" + p.params() + "):\n")
	for _, slot := range p.plan(f.Body) {
		p.line(1, "var "+p.slot(slot))
	}
	p.block(f.Body, 1)
	return p.b.String()
}

// Unit renders a whole script. funcs is indexed like u.Functions; a nil
// entry is emitted as a commented listing over a stub body.
func Unit(u *bytecode.Unit, ver *registry.Version, funcs []*ast.Func) string {
	var parts []string
	annotated := ver.Has(registry.FeatureAnnotations)
	keyword := func(k string) string {
		if annotated {
			return "@" + k
		}
		return k
	}

	var head strings.Builder
	if u.Tool() {
		head.WriteString(keyword("tool") + "\n")
	}
	if s, ok := u.Ident(u.Extends); ok {
		head.WriteString("extends " + extendsName(s) + "\n")
	}
	if s, ok := u.Ident(u.ClassName); ok {
		head.WriteString("class_name " + s + "\n")
	}
	if head.Len() > 0 {
		parts = append(parts, head.String())
	}

	var decls strings.Builder
	for _, id := range u.Signals {
		if s, ok := u.Ident(id); ok {
			decls.WriteString("signal " + s + "\n")
		}
	}
	for _, m := range u.Members {
		s, ok := u.Ident(m.Ident)
		if !ok {
			continue
		}
		if m.Export() {
			decls.WriteString(keyword("export") + " ")
		}
		if m.OnReady() {
			decls.WriteString(keyword("onready") + " ")
		}
		decls.WriteString("var " + s + "\n")
	}
	if decls.Len() > 0 {
		parts = append(parts, decls.String())
	}

	for i, fn := range u.Functions {
		if i < len(funcs) && funcs[i] != nil {
			parts = append(parts, Function(funcs[i], ver))
			continue
		}
		parts = append(parts, stub(u, fn, ver))
	}
	return strings.Join(parts, "\n")
}

// stub keeps an undecompiled function visible as its listing.
func stub(u *bytecode.Unit, fn *bytecode.Function, ver *registry.Version) string {
	p := newPrinter(u, fn, ver)
	name := u.FuncName(fn)
	p.line(0, "# func "+name+": not decompiled")
	listing := disasm.Format(fn, disasm.Options{}, p.ann)
	for _, l := range strings.Split(strings.TrimRight(listing, "\n"), "\n") {
		if l != "" {
			p.line(0, "#   "+l)
		}
	}
	p.line(0, "func "+name+"("+p.params()+"):")
	p.line(1, "pass")
	return p.b.String()
}

func extendsName(s string) string {
	if strings.ContainsAny(s, "/.") {
		return quote(s)
	}
	return s
}

func (p *printer) params() string {
	names := make([]string, p.fn.ArgCount)
	for i := range names {
		names[i] = p.slot(i)
	}
	return strings.Join(names, ", ")
}

func (p *printer) slot(i int) string {
	if s := disasm.SlotName(p.u, p.fn, i); s != "" {
		return s
	}
	if i < p.fn.ArgCount {
		return fmt.Sprintf("arg%d", i)
	}
	return fmt.Sprintf("local%d", i-p.fn.ArgCount)
}

// plan decides where locals are declared. A local whose first store sits
// at function level is declared there with `var`; one first stored inside
// a nested block is hoisted to the top. Loop variables are declared by
// their for statement.
func (p *printer) plan(body *ast.Sequence) []int {
	top := make(map[ast.Node]bool, len(body.Body))
	for _, n := range body.Body {
		top[n] = true
	}
	loopVars := make(map[int]bool)
	firstTop := make(map[int]bool)
	var order []int
	ast.Walk(body, func(n ast.Node) bool {
		switch x := n.(type) {
		case *ast.For:
			loopVars[x.Var] = true
		case *ast.Assign:
			l, ok := x.Target.(*ast.Local)
			if !ok || l.Slot < p.fn.ArgCount {
				break
			}
			if _, seen := firstTop[l.Slot]; !seen {
				firstTop[l.Slot] = top[n]
				order = append(order, l.Slot)
			}
		}
		return true
	})

	var hoist []int
	for _, s := range order {
		switch {
		case loopVars[s]:
			p.declared[s] = true
		case !firstTop[s]:
			p.declared[s] = true
			hoist = append(hoist, s)
		}
	}
	sort.Ints(hoist)
	return hoist
}

func (p *printer) line(depth int, s string) {
	p.b.WriteString(strings.Repeat("\t", depth))
	p.b.WriteString(s)
	p.b.WriteByte('\n')
}

// block renders s at depth, falling back to pass when nothing executable
// was written.
func (p *printer) block(s *ast.Sequence, depth int) {
	code := 0
	if s != nil {
		for _, n := range s.Body {
			if p.stmt(n, depth) {
				code++
			}
		}
	}
	if code == 0 {
		p.line(depth, "pass")
	}
}

// stmt renders n and reports whether it produced a statement rather than
// only comments.
func (p *printer) stmt(n ast.Node, depth int) bool {
	switch x := n.(type) {
	case *ast.Sequence:
		code := false
		for _, c := range x.Body {
			code = p.stmt(c, depth) || code
		}
		return code
	case *ast.Assign:
		target := p.expr(x.Target, precPrimary)
		if l, ok := x.Target.(*ast.Local); ok && l.Slot >= p.fn.ArgCount && !p.declared[l.Slot] {
			p.declared[l.Slot] = true
			target = "var " + target
		}
		p.line(depth, target+" = "+p.expr(x.Value, precAs))
	case *ast.ExprStmt:
		p.line(depth, p.expr(x.X, precAs))
	case *ast.Return:
		switch {
		case x.Implicit:
			return false
		case x.Value == nil:
			p.line(depth, "return")
		default:
			p.line(depth, "return "+p.expr(x.Value, precAs))
		}
	case *ast.If:
		p.ifStmt(x, depth, "if")
	case *ast.While:
		cond := "true"
		if x.Cond != nil {
			cond = p.expr(x.Cond, precAs)
		}
		p.line(depth, "while "+cond+":")
		p.block(x.Body, depth+1)
	case *ast.For:
		v := p.slot(x.Var)
		if t, ok := typeName(x.Type); ok && x.Type != 0 && p.ver.Has(registry.FeatureTypedForIn) {
			v += ": " + t
		}
		p.line(depth, "for "+v+" in "+p.expr(x.Iter, precAs)+":")
		p.block(x.Body, depth+1)
	case *ast.Match:
		p.line(depth, "match "+p.expr(x.Subject, precAs)+":")
		for _, arm := range x.Arms {
			p.line(depth+1, p.expr(arm.Pattern, precAs)+":")
			p.block(arm.Body, depth+2)
		}
		if x.Default != nil {
			p.line(depth+1, "_:")
			p.block(x.Default, depth+2)
		}
	case *ast.Break:
		p.line(depth, "break")
	case *ast.Continue:
		p.line(depth, "continue")
	case *ast.Pass:
		p.line(depth, "pass")
	case *ast.Breakpoint:
		p.line(depth, "breakpoint")
	case *ast.Assert:
		p.line(depth, "assert("+p.expr(x.Cond, precAs)+")")
	case *ast.RawBlock:
		p.raw(x, depth)
		return false
	case *ast.Label:
		p.line(depth, fmt.Sprintf("# bb%d:", x.Block))
		return false
	default:
		p.line(depth, fmt.Sprintf("# unknown node %T", n))
		return false
	}
	return true
}

func (p *printer) ifStmt(n *ast.If, depth int, kw string) {
	p.line(depth, kw+" "+p.expr(n.Cond, precAs)+":")
	p.block(n.Then, depth+1)
	if n.Else == nil {
		return
	}
	if len(n.Else.Body) == 1 {
		if next, ok := n.Else.Body[0].(*ast.If); ok {
			p.ifStmt(next, depth, "elif")
			return
		}
	}
	p.line(depth, "else:")
	p.block(n.Else, depth+1)
}

func (p *printer) raw(rb *ast.RawBlock, depth int) {
	p.line(depth, fmt.Sprintf("# RAW bb%d (low confidence): %s", rb.Block, rb.Reason))
	for _, i := range rb.Span {
		if i >= 0 && i < len(p.fn.Instructions) {
			p.line(depth, "#   "+disasm.Line(&p.fn.Instructions[i], p.ann))
		}
	}
	if len(rb.Succs) > 0 {
		p.line(depth, "#   goto "+targets(rb.Succs))
	}
}

func targets(ids []int) string {
	out := make([]string, len(ids))
	for i, id := range ids {
		if id < 0 {
			out[i] = "<exit>"
		} else {
			out[i] = fmt.Sprintf("bb%d", id)
		}
	}
	return strings.Join(out, ", ")
}

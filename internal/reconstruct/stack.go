package reconstruct

import (
	"fmt"

	"gdsdecomp/internal/ast"
	"gdsdecomp/internal/bytecode"
	"gdsdecomp/internal/registry"
)

// value is an expression on the simulated stack with the instructions
// that produced it.
type value struct {
	e    ast.Expr
	span []int
}

// blockResult is the statement-level reading of one basic block.
type blockResult struct {
	stmts []ast.Node
	top   value // operand consumed by a branching terminator
	term  int   // index of the branching terminator, -1 if none
	extra []int // instructions owned by no statement
}

// simFailure explains why a block cannot be read as statements.
type simFailure struct {
	at  int
	msg string
}

func (f *simFailure) Error() string { return fmt.Sprintf("instruction %d: %s", f.at, f.msg) }

type stack []value

func (s *stack) push(e ast.Expr, span []int) { *s = append(*s, value{e: e, span: span}) }

// pop removes n values, returned in push order.
func (s *stack) pop(n int) ([]value, bool) {
	if n > len(*s) {
		return nil, false
	}
	out := make([]value, n)
	copy(out, (*s)[len(*s)-n:])
	*s = (*s)[:len(*s)-n]
	return out, true
}

func spanOf(idx int, vs ...value) []int {
	var out []int
	for _, v := range vs {
		out = append(out, v.span...)
	}
	return append(out, idx)
}

func exprs(vs []value) []ast.Expr {
	out := make([]ast.Expr, len(vs))
	for i, v := range vs {
		out[i] = v.e
	}
	return out
}

var binaryOps = map[registry.Mnemonic]bool{
	registry.OpAdd: true, registry.OpSub: true, registry.OpMul: true, registry.OpDiv: true,
	registry.OpMod: true, registry.OpShl: true, registry.OpShr: true, registry.OpBitAnd: true,
	registry.OpBitOr: true, registry.OpBitXor: true, registry.OpEq: true, registry.OpNe: true,
	registry.OpLt: true, registry.OpLe: true, registry.OpGt: true, registry.OpGe: true,
	registry.OpAnd: true, registry.OpOr: true, registry.OpIn: true, registry.OpIs: true,
	registry.OpAs: true,
}

// simulate reads block b on an expression stack. Statements must leave the
// stack empty; a branching terminator may consume one value.
func (r *builder) simulate(b int) (blockResult, error) {
	blk := &r.g.Blocks[b]
	res := blockResult{term: -1}
	var st stack

	stmt := func(i int, n ast.Node) error {
		if len(st) != 0 {
			return &simFailure{at: i, msg: fmt.Sprintf("%d values live across a statement", len(st))}
		}
		res.stmts = append(res.stmts, n)
		return nil
	}

	for i := blk.Start; i < blk.End; i++ {
		in := &r.g.Insts[i]
		pops := in.Pops()
		vs, ok := st.pop(pops)
		if !ok {
			return res, &simFailure{at: i, msg: fmt.Sprintf("%s pops %d, stack holds %d", in.Op, pops, len(st))}
		}

		switch flow := in.Spec.Flow; {
		case flow == registry.FlowReturn:
			ret := &ast.Return{Base: ast.Base{Span: spanOf(i, vs...)}}
			if len(vs) == 1 {
				ret.Value = vs[0].e
			}
			if err := stmt(i, ret); err != nil {
				return res, err
			}
			continue
		case flow.IsBranch():
			res.term = i
			if len(vs) == 1 {
				res.top = vs[0]
			}
			if len(st) != 0 {
				return res, &simFailure{at: i, msg: fmt.Sprintf("%d values left at block end", len(st))}
			}
			continue
		}

		var err error
		switch op := in.Op; {
		case op == registry.OpNop:
			res.extra = append(res.extra, i)
		case op == registry.OpLoadConst:
			c, _ := r.fn.Constants.Get(r.arg(in, registry.OperandConst))
			st.push(&ast.Const{Value: c}, spanOf(i))
		case op == registry.OpLoadNil:
			st.push(&ast.Const{Value: bytecode.NilConst()}, spanOf(i))
		case op == registry.OpLoadLocal:
			st.push(&ast.Local{Slot: r.arg(in, registry.OperandLocal)}, spanOf(i))
		case op == registry.OpLoadMember:
			st.push(&ast.Member{Name: r.ident(in)}, spanOf(i))
		case op == registry.OpLoadGlobal:
			st.push(&ast.Global{Name: r.ident(in)}, spanOf(i))
		case op == registry.OpLoadSelf:
			st.push(&ast.Self{}, spanOf(i))
		case op == registry.OpGetAttr:
			st.push(&ast.Attr{X: vs[0].e, Name: r.ident(in)}, spanOf(i, vs...))
		case op == registry.OpGetIndex:
			st.push(&ast.Index{X: vs[0].e, Key: vs[1].e}, spanOf(i, vs...))
		case binaryOps[op]:
			st.push(&ast.Binary{Op: op, L: vs[0].e, R: vs[1].e}, spanOf(i, vs...))
		case op == registry.OpNeg || op == registry.OpNot || op == registry.OpBitNot:
			st.push(&ast.Unary{Op: op, X: vs[0].e}, spanOf(i, vs...))
		case op == registry.OpCallBuiltin:
			name := fmt.Sprintf("builtin_%d", r.arg(in, registry.OperandBuiltin))
			if bi, ok := r.ver.Builtin(r.arg(in, registry.OperandBuiltin)); ok {
				name = bi.Name
			}
			st.push(&ast.Call{Kind: ast.CallBuiltin, Name: name, Args: exprs(vs)}, spanOf(i, vs...))
		case op == registry.OpCallMethod:
			st.push(&ast.Call{Kind: ast.CallMethod, Recv: vs[0].e, Name: r.ident(in), Args: exprs(vs[1:])}, spanOf(i, vs...))
		case op == registry.OpCallSelf:
			st.push(&ast.Call{Kind: ast.CallSelf, Name: r.ident(in), Args: exprs(vs)}, spanOf(i, vs...))
		case op == registry.OpCallValue:
			st.push(&ast.Call{Kind: ast.CallValue, Recv: vs[0].e, Args: exprs(vs[1:])}, spanOf(i, vs...))
		case op == registry.OpBuildArray:
			st.push(&ast.Array{Elems: exprs(vs)}, spanOf(i, vs...))
		case op == registry.OpBuildDict:
			d := &ast.Dict{}
			for j := 0; j+1 < len(vs); j += 2 {
				d.Keys = append(d.Keys, vs[j].e)
				d.Values = append(d.Values, vs[j+1].e)
			}
			st.push(d, spanOf(i, vs...))
		case op == registry.OpMakeLambda:
			c, _ := r.fn.Constants.Get(r.arg(in, registry.OperandConst))
			if c.Kind != bytecode.ConstSubScript {
				return res, &simFailure{at: i, msg: fmt.Sprintf("lambda constant is %s", c.Kind)}
			}
			st.push(&ast.Lambda{Func: c.Ref, Name: r.funcName(c.Ref)}, spanOf(i))
		case op == registry.OpPreload:
			c, _ := r.fn.Constants.Get(r.arg(in, registry.OperandConst))
			st.push(&ast.Preload{Path: c.Str}, spanOf(i))
		case op == registry.OpYield:
			st.push(&ast.Yield{Args: exprs(vs)}, spanOf(i, vs...))
		case op == registry.OpAwait:
			st.push(&ast.Await{X: vs[0].e}, spanOf(i, vs...))

		case op == registry.OpStoreLocal:
			err = stmt(i, &ast.Assign{Base: ast.Base{Span: spanOf(i, vs...)},
				Target: &ast.Local{Slot: r.arg(in, registry.OperandLocal)}, Value: vs[0].e})
		case op == registry.OpStoreMember:
			err = stmt(i, &ast.Assign{Base: ast.Base{Span: spanOf(i, vs...)},
				Target: &ast.Member{Name: r.ident(in)}, Value: vs[0].e})
		case op == registry.OpSetAttr:
			err = stmt(i, &ast.Assign{Base: ast.Base{Span: spanOf(i, vs...)},
				Target: &ast.Attr{X: vs[0].e, Name: r.ident(in)}, Value: vs[1].e})
		case op == registry.OpSetIndex:
			err = stmt(i, &ast.Assign{Base: ast.Base{Span: spanOf(i, vs...)},
				Target: &ast.Index{X: vs[0].e, Key: vs[1].e}, Value: vs[2].e})
		case op == registry.OpPop:
			err = stmt(i, &ast.ExprStmt{Base: ast.Base{Span: spanOf(i, vs...)}, X: vs[0].e})
		case op == registry.OpAssert:
			err = stmt(i, &ast.Assert{Base: ast.Base{Span: spanOf(i, vs...)}, Cond: vs[0].e})
		case op == registry.OpBreakpoint:
			err = stmt(i, &ast.Breakpoint{Base: ast.Base{Span: spanOf(i)}})
		default:
			return res, &simFailure{at: i, msg: fmt.Sprintf("no statement form for %s", op)}
		}
		if err != nil {
			return res, err
		}
	}
	if len(st) != 0 {
		return res, &simFailure{at: blk.End - 1, msg: fmt.Sprintf("%d values left at block end", len(st))}
	}
	return res, nil
}

func (r *builder) arg(in *bytecode.Instruction, k registry.OperandKind) int {
	v, _ := in.Arg(k, 0)
	return int(v)
}

func (r *builder) ident(in *bytecode.Instruction) string {
	id, _ := in.Arg(registry.OperandIdent, 0)
	if s, ok := r.u.Ident(id); ok {
		return s
	}
	return fmt.Sprintf("ident_%d", id)
}

func (r *builder) funcName(i int) string {
	if i >= 0 && i < len(r.u.Functions) {
		return r.u.FuncName(r.u.Functions[i])
	}
	return fmt.Sprintf("func_%d", i)
}

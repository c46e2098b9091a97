// Package ast defines the structured statement tree recovered from bytecode.
//
// Every statement node records the instruction indices it owns directly in
// Span; child nodes own their own instructions. Walking a function's tree
// and unioning spans yields the instruction set the tree accounts for.
package ast

import (
	"sort"

	"gdsdecomp/internal/bytecode"
	"gdsdecomp/internal/registry"
)

// Expr is an expression.
type Expr interface{ expr() }

// Const is a constant pool value.
type Const struct{ Value bytecode.Constant }

// Local reads a local slot.
type Local struct{ Slot int }

// Member reads a script member variable.
type Member struct{ Name string }

// Global reads a global or class name.
type Global struct{ Name string }

// Self is the script instance.
type Self struct{}

// Attr is X.Name.
type Attr struct {
	X    Expr
	Name string
}

// Index is X[Key].
type Index struct{ X, Key Expr }

// Binary is L Op R.
type Binary struct {
	Op   registry.Mnemonic
	L, R Expr
}

// Unary is Op X.
type Unary struct {
	Op registry.Mnemonic
	X  Expr
}

// CallKind distinguishes call forms.
type CallKind uint8

const (
	CallBuiltin CallKind = iota
	CallMethod           // Recv.Name(Args)
	CallSelf             // Name(Args) on the script itself
	CallValue            // Recv(Args) on a callable value
)

// Call is a function or method call.
type Call struct {
	Kind CallKind
	Recv Expr
	Name string
	Args []Expr
}

// Array is an array literal.
type Array struct{ Elems []Expr }

// Dict is a dictionary literal.
type Dict struct{ Keys, Values []Expr }

// Lambda references a nested function of the unit.
type Lambda struct {
	Func int
	Name string
}

// Preload loads a resource at compile time.
type Preload struct{ Path string }

// Yield suspends the function.
type Yield struct{ Args []Expr }

// Await waits on a signal or coroutine.
type Await struct{ X Expr }

func (*Const) expr()   {}
func (*Local) expr()   {}
func (*Member) expr()  {}
func (*Global) expr()  {}
func (*Self) expr()    {}
func (*Attr) expr()    {}
func (*Index) expr()   {}
func (*Binary) expr()  {}
func (*Unary) expr()   {}
func (*Call) expr()    {}
func (*Array) expr()   {}
func (*Dict) expr()    {}
func (*Lambda) expr()  {}
func (*Preload) expr() {}
func (*Yield) expr()   {}
func (*Await) expr()   {}

// Pure reports whether evaluating e twice has no observable effect.
func Pure(e Expr) bool {
	switch x := e.(type) {
	case *Const, *Local, *Member, *Global, *Self:
		return true
	case *Attr:
		return Pure(x.X)
	case *Index:
		return Pure(x.X) && Pure(x.Key)
	}
	return false
}

// Equal reports structural equality of two expressions.
func Equal(a, b Expr) bool {
	switch x := a.(type) {
	case *Const:
		y, ok := b.(*Const)
		return ok && x.Value == y.Value
	case *Local:
		y, ok := b.(*Local)
		return ok && x.Slot == y.Slot
	case *Member:
		y, ok := b.(*Member)
		return ok && x.Name == y.Name
	case *Global:
		y, ok := b.(*Global)
		return ok && x.Name == y.Name
	case *Self:
		_, ok := b.(*Self)
		return ok
	case *Attr:
		y, ok := b.(*Attr)
		return ok && x.Name == y.Name && Equal(x.X, y.X)
	case *Index:
		y, ok := b.(*Index)
		return ok && Equal(x.X, y.X) && Equal(x.Key, y.Key)
	case *Binary:
		y, ok := b.(*Binary)
		return ok && x.Op == y.Op && Equal(x.L, y.L) && Equal(x.R, y.R)
	case *Unary:
		y, ok := b.(*Unary)
		return ok && x.Op == y.Op && Equal(x.X, y.X)
	case *Call:
		y, ok := b.(*Call)
		if !ok || x.Kind != y.Kind || x.Name != y.Name || !equalOpt(x.Recv, y.Recv) {
			return false
		}
		return equalList(x.Args, y.Args)
	case *Array:
		y, ok := b.(*Array)
		return ok && equalList(x.Elems, y.Elems)
	case *Dict:
		y, ok := b.(*Dict)
		return ok && equalList(x.Keys, y.Keys) && equalList(x.Values, y.Values)
	case *Lambda:
		y, ok := b.(*Lambda)
		return ok && x.Func == y.Func
	case *Preload:
		y, ok := b.(*Preload)
		return ok && x.Path == y.Path
	case *Yield:
		y, ok := b.(*Yield)
		return ok && equalList(x.Args, y.Args)
	case *Await:
		y, ok := b.(*Await)
		return ok && Equal(x.X, y.X)
	}
	return false
}

func equalOpt(a, b Expr) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return Equal(a, b)
}

func equalList(a, b []Expr) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

// Node is a statement.
type Node interface {
	Owned() []int
	node()
}

// Base carries the instruction indices a node owns directly.
type Base struct {
	Span []int
}

// Owned returns the instruction indices owned by the node itself.
func (b *Base) Owned() []int { return b.Span }
func (*Base) node()          {}

// Own appends instruction indices to the node's span.
func (b *Base) Own(idx ...int) { b.Span = append(b.Span, idx...) }

// Sequence is an ordered statement list.
type Sequence struct {
	Base
	Body []Node
}

// Assign stores Value into Target (Local, Member, Attr or Index).
type Assign struct {
	Base
	Target Expr
	Value  Expr
}

// ExprStmt evaluates X for its effects.
type ExprStmt struct {
	Base
	X Expr
}

// Return leaves the function. Implicit marks the compiler-appended
// trailing return.
type Return struct {
	Base
	Value    Expr
	Implicit bool
}

// If is a two-way conditional. Else may be nil.
type If struct {
	Base
	Cond Expr
	Then *Sequence
	Else *Sequence
}

// While loops while Cond holds; a nil Cond is `while true`.
type While struct {
	Base
	Cond Expr
	Body *Sequence
}

// For iterates Iter, storing each element in slot Var.
type For struct {
	Base
	Var  int
	Iter Expr
	Type uint32 // element type id, 0 = untyped
	Body *Sequence
}

// MatchArm is one pattern of a Match.
type MatchArm struct {
	Pattern Expr
	Body    *Sequence
}

// Match dispatches on Subject. Default is the wildcard arm, nil if absent.
type Match struct {
	Base
	Subject Expr
	Arms    []MatchArm
	Default *Sequence
}

// Break leaves the innermost loop.
type Break struct{ Base }

// Continue starts the next iteration.
type Continue struct{ Base }

// Assert checks Cond at runtime.
type Assert struct {
	Base
	Cond Expr
}

// Breakpoint stops in the debugger.
type Breakpoint struct{ Base }

// Pass is an empty statement.
type Pass struct{ Base }

// ReasonGoto is the RawBlock reason for a jump the structured tree cannot
// express. Its span is the jump alone, or empty when control only arrives
// at an already structured block.
const ReasonGoto = "goto"

// RawBlock is a region that could not be structured. It owns its
// instructions and lists the blocks control may continue at.
type RawBlock struct {
	Base
	Block     int
	Reason    string
	Succs     []int // successor block ids, -1 for function exit
	Reachable bool
}

// Label marks where structured code for Block begins. It is kept only for
// blocks a RawBlock names as a successor.
type Label struct {
	Base
	Block int
}

// Children returns the direct child statements of n.
func Children(n Node) []Node {
	switch x := n.(type) {
	case *Sequence:
		return x.Body
	case *If:
		return seqs(x.Then, x.Else)
	case *While:
		return seqs(x.Body)
	case *For:
		return seqs(x.Body)
	case *Match:
		var out []Node
		for _, a := range x.Arms {
			out = append(out, seqs(a.Body)...)
		}
		return append(out, seqs(x.Default)...)
	}
	return nil
}

func seqs(ss ...*Sequence) []Node {
	var out []Node
	for _, s := range ss {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Walk visits n and its descendants depth-first. If fn returns false the
// children of that node are skipped.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for _, c := range Children(n) {
		Walk(c, fn)
	}
}

// Covered returns the sorted instruction indices owned anywhere in the tree.
// Indices owned twice appear twice.
func Covered(n Node) []int {
	var out []int
	Walk(n, func(n Node) bool {
		out = append(out, n.Owned()...)
		return true
	})
	sort.Ints(out)
	return out
}

// Func is a reconstructed function.
type Func struct {
	Name      string
	Fn        *bytecode.Function
	Unit      *bytecode.Unit
	Body      *Sequence
	Raw       int // instructions in RawBlocks or in blocks a goto leaves or enters
	Fallbacks int // RawBlock nodes, gotos included
	Total     int // instructions in the function
}

// Structured reports whether the tree has no RawBlock at all.
func (f *Func) Structured() bool { return f.Fallbacks == 0 }

// Confidence is the fraction of instructions recovered as structured code.
func (f *Func) Confidence() float64 {
	if f.Total == 0 {
		return 1
	}
	return float64(f.Total-f.Raw) / float64(f.Total)
}

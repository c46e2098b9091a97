package bytecode

import (
	"errors"
	"fmt"

	"gdsdecomp/internal/registry"
	"gdsdecomp/internal/script"
)

// Label names a code position for jump operands.
type Label string

// Name is an operand given by name: an identifier for ident operands,
// a builtin function for builtin operands.
type Name string

// Assembler builds units instruction by instruction for a given version.
// Errors are sticky and reported by Unit.
type Assembler struct {
	ver    *registry.Version
	unit   *Unit
	idents map[string]uint32
	funcs  []*FuncBuilder
	err    error
}

// NewAssembler starts an empty unit.
func NewAssembler(ver *registry.Version) *Assembler {
	return &Assembler{
		ver:    ver,
		unit:   &Unit{Extends: NoIdent, ClassName: NoIdent},
		idents: make(map[string]uint32),
	}
}

// Version returns the target version.
func (a *Assembler) Version() *registry.Version { return a.ver }

func (a *Assembler) fail(err error) {
	if a.err == nil {
		a.err = err
	}
}

// Ident interns name in the identifier table.
func (a *Assembler) Ident(name string) uint32 {
	if id, ok := a.idents[name]; ok {
		return id
	}
	id := uint32(len(a.unit.Identifiers))
	a.unit.Identifiers = append(a.unit.Identifiers, name)
	a.idents[name] = id
	return id
}

func (a *Assembler) Extends(name string) *Assembler {
	a.unit.Extends = a.Ident(name)
	return a
}

func (a *Assembler) ClassName(name string) *Assembler {
	a.unit.ClassName = a.Ident(name)
	return a
}

func (a *Assembler) Tool() *Assembler {
	a.unit.Flags |= UnitTool
	return a
}

func (a *Assembler) Signal(name string) *Assembler {
	a.unit.Signals = append(a.unit.Signals, a.Ident(name))
	return a
}

func (a *Assembler) Member(name string, flags uint8) *Assembler {
	a.unit.Members = append(a.unit.Members, Member{Ident: a.Ident(name), Flags: flags})
	return a
}

// Func starts a function. An empty name makes it anonymous.
func (a *Assembler) Func(name string, args, locals int) *FuncBuilder {
	fn := &Function{
		Index:      len(a.funcs),
		Name:       NoIdent,
		ArgCount:   args,
		LocalCount: locals,
	}
	if name != "" {
		fn.Name = a.Ident(name)
	}
	b := &FuncBuilder{a: a, fn: fn, labels: make(map[Label]int)}
	a.funcs = append(a.funcs, b)
	return b
}

// Unit resolves labels and returns the assembled unit.
func (a *Assembler) Unit() (*Unit, error) {
	if a.err != nil {
		return nil, a.err
	}
	a.unit.Functions = a.unit.Functions[:0]
	for _, b := range a.funcs {
		if err := b.finish(); err != nil {
			return nil, fmt.Errorf("assemble: function %d: %w", b.fn.Index, err)
		}
		a.unit.Functions = append(a.unit.Functions, b.fn)
	}
	return a.unit, nil
}

// Payload assembles and encodes the unit.
func (a *Assembler) Payload() ([]byte, error) {
	u, err := a.Unit()
	if err != nil {
		return nil, err
	}
	return Encode(u, a.ver)
}

// Script assembles the unit and wraps it in a container.
func (a *Assembler) Script(compress bool) ([]byte, error) {
	p, err := a.Payload()
	if err != nil {
		return nil, err
	}
	return script.Build(a.ver.Tag, uint32(a.ver.Format), p, compress)
}

type pendingOp struct {
	op   registry.Mnemonic
	args []any
	line int
}

// FuncBuilder accumulates one function's constants and code.
type FuncBuilder struct {
	a      *Assembler
	fn     *Function
	ops    []pendingOp
	labels map[Label]int // label -> index in ops
	line   int
	raw    []byte
}

// Index returns the function's position in the unit.
func (b *FuncBuilder) Index() int { return b.fn.Index }

// Const appends c to the pool and returns its index.
func (b *FuncBuilder) Const(c Constant) uint32 {
	b.fn.Constants = append(b.fn.Constants, c)
	return uint32(len(b.fn.Constants) - 1)
}

// Name gives local slot a debug name.
func (b *FuncBuilder) Name(slot int, name string) *FuncBuilder {
	b.fn.Names = append(b.fn.Names, NamedSlot{Slot: uint16(slot), Ident: b.a.Ident(name)})
	return b
}

// Stack sets the declared stack size.
func (b *FuncBuilder) Stack(n int) *FuncBuilder {
	b.fn.StackSize = n
	return b
}

// Line sets the source line for the following instructions.
func (b *FuncBuilder) Line(n int) *FuncBuilder {
	b.line = n
	return b
}

// Label marks the position of the next instruction.
func (b *FuncBuilder) Label(l Label) *FuncBuilder {
	if _, dup := b.labels[l]; dup {
		b.a.fail(fmt.Errorf("assemble: duplicate label %q", l))
	}
	b.labels[l] = len(b.ops)
	return b
}

// Op appends an instruction. Operands are int, uint32, Name or, for jump
// operands, Label.
func (b *FuncBuilder) Op(op registry.Mnemonic, args ...any) *FuncBuilder {
	b.ops = append(b.ops, pendingOp{op: op, args: args, line: b.line})
	return b
}

// Builtin appends a CALL_BUILTIN of the named function.
func (b *FuncBuilder) Builtin(name string, argc int) *FuncBuilder {
	i, ok := b.a.ver.BuiltinIndex(name)
	if !ok {
		b.a.fail(fmt.Errorf("assemble: builtin %q not defined in %s", name, b.a.ver.Tag))
		return b
	}
	return b.Op(registry.OpCallBuiltin, i, argc)
}

// Raw replaces the function's code with literal bytes.
func (b *FuncBuilder) Raw(code []byte) *FuncBuilder {
	b.raw = code
	return b
}

func (b *FuncBuilder) finish() error {
	fn := b.fn
	ver := b.a.ver
	if b.raw != nil {
		fn.Code = b.raw
		fn.Instructions = nil
		return nil
	}

	offsets := make([]int, len(b.ops)+1)
	specs := make([]*registry.OpcodeSpec, len(b.ops))
	for i, p := range b.ops {
		spec, ok := ver.OpcodeByName(p.op)
		if !ok {
			return fmt.Errorf("%s not defined in %s", p.op, ver.Tag)
		}
		specs[i] = spec
		offsets[i+1] = offsets[i] + spec.Size(ver.Widths)
	}

	fn.Instructions = make([]Instruction, 0, len(b.ops))
	fn.Lines = nil
	lastLine := 0
	for i, p := range b.ops {
		spec := specs[i]
		if len(p.args) != len(spec.Operands) {
			return fmt.Errorf("%s takes %d operands, have %d", p.op, len(spec.Operands), len(p.args))
		}
		in := Instruction{
			Index:  i,
			Offset: offsets[i],
			Opcode: spec.Code,
			Op:     spec.Name,
			Size:   offsets[i+1] - offsets[i],
			Spec:   spec,
			Line:   p.line,
		}
		if len(spec.Operands) > 0 {
			in.Operands = make([]Operand, len(spec.Operands))
		}
		pos := offsets[i] + 1
		for j, k := range spec.Operands {
			v, err := b.operand(p.args[j], k, offsets)
			if err != nil {
				return fmt.Errorf("%s operand %d: %w", p.op, j, err)
			}
			in.Operands[j] = Operand{Kind: k, Value: v, Offset: pos}
			pos += ver.Widths.Of(k)
		}
		if p.line != 0 && p.line != lastLine {
			fn.Lines = append(fn.Lines, LineEntry{Offset: uint32(in.Offset), Line: uint32(p.line)})
			lastLine = p.line
		}
		fn.Instructions = append(fn.Instructions, in)
	}

	code := make([]byte, 0, offsets[len(b.ops)])
	for i := range fn.Instructions {
		in := &fn.Instructions[i]
		code = append(code, in.Opcode)
		for _, o := range in.Operands {
			w := ver.Widths.Of(o.Kind)
			for k := 0; k < w; k++ {
				code = append(code, byte(o.Value>>(8*k)))
			}
		}
	}
	fn.Code = code
	if fn.StackSize == 0 {
		fn.StackSize = maxDepth(fn.Instructions)
	}
	return nil
}

var errBadOperand = errors.New("operand must be int, uint32, Name or Label")

func (b *FuncBuilder) operand(arg any, kind registry.OperandKind, offsets []int) (uint32, error) {
	switch v := arg.(type) {
	case Label:
		if kind != registry.OperandJump {
			return 0, fmt.Errorf("label %q used for %s operand", v, kind)
		}
		idx, ok := b.labels[v]
		if !ok {
			return 0, fmt.Errorf("undefined label %q", v)
		}
		return uint32(offsets[idx]), nil
	case Name:
		switch kind {
		case registry.OperandIdent:
			return b.a.Ident(string(v)), nil
		case registry.OperandBuiltin:
			i, ok := b.a.ver.BuiltinIndex(string(v))
			if !ok {
				return 0, fmt.Errorf("builtin %q not defined in %s", v, b.a.ver.Tag)
			}
			return uint32(i), nil
		}
		return 0, fmt.Errorf("name %q used for %s operand", v, kind)
	case int:
		if v < 0 {
			return 0, fmt.Errorf("negative operand %d", v)
		}
		return uint32(v), nil
	case uint32:
		return v, nil
	}
	return 0, errBadOperand
}

// maxDepth is a straight-line estimate of the stack high-water mark.
func maxDepth(ins []Instruction) int {
	depth, high := 0, 0
	for i := range ins {
		depth -= ins[i].Pops()
		if depth < 0 {
			depth = 0
		}
		depth += ins[i].Spec.Push
		high = max(high, depth)
	}
	return high
}

// Constant constructors.

func NilConst() Constant { return Constant{Kind: ConstNil} }
func BoolConst(v bool) Constant { return Constant{Kind: ConstBool, Bool: v} }
func IntConst(v int64) Constant { return Constant{Kind: ConstInt, Int: v, Wide: v < -1<<31 || v > 1<<31-1} }
func FloatConst(v float64) Constant { return Constant{Kind: ConstFloat, Float: v} }
func StringConst(s string) Constant { return Constant{Kind: ConstString, Str: s} }
func NodePathConst(s string) Constant { return Constant{Kind: ConstNodePath, Str: s} }
func ResourceConst(path string) Constant { return Constant{Kind: ConstResource, Str: path} }
func SubScriptConst(fn int) Constant { return Constant{Kind: ConstSubScript, Ref: fn} }

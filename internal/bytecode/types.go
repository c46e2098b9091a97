// Package bytecode decodes and encodes compiled script payloads.
package bytecode

import (
	"fmt"

	"gdsdecomp/internal/bcfmt"
	"gdsdecomp/internal/registry"
)

// NoIdent marks an absent identifier reference (anonymous function, no extends).
const NoIdent uint32 = 0xFFFFFFFF

// Operand is one decoded instruction operand.
type Operand struct {
	Kind   registry.OperandKind
	Value  uint32
	Offset int // byte offset in function code
}

// Instruction is one decoded opcode with its operands.
type Instruction struct {
	Index    int // position in the function's instruction list
	Offset   int // byte offset in function code
	Opcode   byte
	Op       registry.Mnemonic
	Operands []Operand
	Size     int
	Line     int // source line, 0 if unknown
	Spec     *registry.OpcodeSpec
}

// Arg returns the value of the n-th operand of the given kind.
func (in *Instruction) Arg(kind registry.OperandKind, n int) (uint32, bool) {
	for _, o := range in.Operands {
		if o.Kind != kind {
			continue
		}
		if n == 0 {
			return o.Value, true
		}
		n--
	}
	return 0, false
}

// Count returns the count operand, or 0.
func (in *Instruction) Count() int {
	v, _ := in.Arg(registry.OperandCount, 0)
	return int(v)
}

// Target returns the jump target, if the instruction has one.
func (in *Instruction) Target() (int, bool) {
	v, ok := in.Arg(registry.OperandJump, 0)
	return int(v), ok
}

// Pops returns the number of stack values the instruction consumes.
func (in *Instruction) Pops() int { return in.Spec.Pops(in.Count()) }

// StackDelta returns the net stack effect.
func (in *Instruction) StackDelta() int { return in.Spec.StackDelta(in.Count()) }

// End returns the offset of the byte after the instruction.
func (in *Instruction) End() int { return in.Offset + in.Size }

func (in *Instruction) String() string {
	s := string(in.Op)
	for _, o := range in.Operands {
		s += fmt.Sprintf(" %d", o.Value)
	}
	return s
}

// ConstKind classifies a constant pool entry.
type ConstKind uint8

const (
	ConstNil ConstKind = iota
	ConstBool
	ConstInt
	ConstFloat
	ConstString
	ConstNodePath
	ConstResource  // resource path reference
	ConstSubScript // nested sub-script, Ref = function index in the unit
)

var constKindNames = [...]string{
	ConstNil:       "nil",
	ConstBool:      "bool",
	ConstInt:       "int",
	ConstFloat:     "float",
	ConstString:    "string",
	ConstNodePath:  "node_path",
	ConstResource:  "resource",
	ConstSubScript: "subscript",
}

func (k ConstKind) String() string {
	if int(k) < len(constKindNames) {
		return constKindNames[k]
	}
	return fmt.Sprintf("const(%d)", uint8(k))
}

// Object constant sub-kinds.
const (
	objectResource  uint32 = 0
	objectSubScript uint32 = 1
)

// Constant is one constant pool entry.
type Constant struct {
	Kind  ConstKind
	Bool  bool
	Int   int64
	Float float64
	Str   string // string, node path or resource path
	Ref   int    // function index for ConstSubScript
	Wide  bool   // encoded with the 64-bit flag
}

func (c Constant) String() string {
	switch c.Kind {
	case ConstNil:
		return "null"
	case ConstBool:
		return fmt.Sprint(c.Bool)
	case ConstInt:
		return fmt.Sprint(c.Int)
	case ConstFloat:
		return fmt.Sprint(c.Float)
	case ConstString:
		return fmt.Sprintf("%q", c.Str)
	case ConstNodePath:
		return fmt.Sprintf("^%q", c.Str)
	case ConstResource:
		return fmt.Sprintf("res %q", c.Str)
	case ConstSubScript:
		return fmt.Sprintf("func#%d", c.Ref)
	}
	return c.Kind.String()
}

// ConstantPool maps constant operands to values.
type ConstantPool []Constant

// Get returns constant i.
func (p ConstantPool) Get(i int) (Constant, bool) {
	if i < 0 || i >= len(p) {
		return Constant{}, false
	}
	return p[i], true
}

// NamedSlot is a debug name for a local slot.
type NamedSlot struct {
	Slot  uint16
	Ident uint32
}

// LineEntry maps a code offset to a source line.
type LineEntry struct {
	Offset uint32
	Line   uint32
}

// Function is one compiled function of a unit.
type Function struct {
	Index      int
	Name       uint32 // identifier index, NoIdent if anonymous
	ArgCount   int
	LocalCount int // includes arguments
	StackSize  int
	Names      []NamedSlot
	Constants  ConstantPool
	Code       []byte
	CodeOffset int // payload offset of Code[0]
	Lines      []LineEntry

	Instructions []Instruction
	Err          error // *DecodeError when the function failed to decode
}

// At returns the instruction starting at code offset off.
func (f *Function) At(off int) (*Instruction, bool) {
	lo, hi := 0, len(f.Instructions)
	for lo < hi {
		mid := (lo + hi) / 2
		switch o := f.Instructions[mid].Offset; {
		case o == off:
			return &f.Instructions[mid], true
		case o < off:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return nil, false
}

// Member flag bits.
const (
	MemberExport  uint8 = 1 << 0
	MemberOnReady uint8 = 1 << 1
)

// Member is a script-level variable declaration.
type Member struct {
	Ident  uint32
	Flags  uint8
	Offset int // payload offset of the record; set by Decode
}

func (m Member) Export() bool  { return m.Flags&MemberExport != 0 }
func (m Member) OnReady() bool { return m.Flags&MemberOnReady != 0 }

// Unit flag bits.
const (
	UnitTool uint32 = 1 << 0
)

// Unit is a decoded compiled script.
type Unit struct {
	Identifiers []string
	Extends     uint32
	ClassName   uint32
	Flags       uint32
	Signals     []uint32
	Members     []Member
	Functions   []*Function

	// Payload offsets of the declarations, set by Decode.
	ClassNameOffset int
	SignalOffsets   []int

	Incomplete bool // decoding stopped early; contents are a prefix
	Diags      bcfmt.Diags
}

// Tool reports whether the unit runs in the editor.
func (u *Unit) Tool() bool { return u.Flags&UnitTool != 0 }

// Ident returns identifier i, or "" when i is out of range or NoIdent.
func (u *Unit) Ident(i uint32) (string, bool) {
	if i == NoIdent || int64(i) >= int64(len(u.Identifiers)) {
		return "", false
	}
	return u.Identifiers[i], true
}

// FuncName returns the function's identifier or a positional placeholder.
func (u *Unit) FuncName(f *Function) string {
	if s, ok := u.Ident(f.Name); ok {
		return s
	}
	return fmt.Sprintf("func_%d", f.Index)
}

// DecodeError reports bytes that could not be decoded.
type DecodeError struct {
	Offset int // payload offset where the failing read began
	Func   int // function index, -1 for unit-level data
	Msg    string
	Err    error
}

func (e *DecodeError) Error() string {
	where := "unit"
	if e.Func >= 0 {
		where = fmt.Sprintf("function %d", e.Func)
	}
	if e.Err != nil {
		return fmt.Sprintf("decode: %s at offset 0x%x: %s: %v", where, e.Offset, e.Msg, e.Err)
	}
	return fmt.Sprintf("decode: %s at offset 0x%x: %s", where, e.Offset, e.Msg)
}

func (e *DecodeError) Unwrap() error { return e.Err }

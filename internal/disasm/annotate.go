package disasm

import (
	"fmt"
	"strings"

	"gdsdecomp/internal/bytecode"
	"gdsdecomp/internal/registry"
)

// Annotator returns an optional inline comment for an instruction.
// Empty string means no annotation.
type Annotator func(in *bytecode.Instruction) string

// OperandAnnotator resolves constant, identifier, builtin, local and jump
// operands of fn to readable values.
func OperandAnnotator(u *bytecode.Unit, fn *bytecode.Function, ver *registry.Version) Annotator {
	return func(in *bytecode.Instruction) string {
		var parts []string
		for _, o := range in.Operands {
			if s := describe(u, fn, ver, o); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	}
}

func describe(u *bytecode.Unit, fn *bytecode.Function, ver *registry.Version, o bytecode.Operand) string {
	switch o.Kind {
	case registry.OperandConst:
		c, ok := fn.Constants.Get(int(o.Value))
		if !ok {
			return fmt.Sprintf("const[%d] out of range", o.Value)
		}
		if c.Kind == bytecode.ConstSubScript && c.Ref >= 0 && c.Ref < len(u.Functions) {
			return "func " + u.FuncName(u.Functions[c.Ref])
		}
		return c.String()
	case registry.OperandIdent:
		if s, ok := u.Ident(o.Value); ok {
			return s
		}
	case registry.OperandBuiltin:
		if b, ok := ver.Builtin(int(o.Value)); ok {
			return b.Name + "()"
		}
	case registry.OperandLocal:
		if name := SlotName(u, fn, int(o.Value)); name != "" {
			return name
		}
	case registry.OperandJump:
		if o.Value == uint32(len(fn.Code)) {
			return "-> end"
		}
		if t, ok := fn.At(int(o.Value)); ok {
			return fmt.Sprintf("-> #%d", t.Index)
		}
	case registry.OperandType:
		if o.Value != 0 {
			return fmt.Sprintf("type %d", o.Value)
		}
	}
	return ""
}

// SlotName returns the debug name of a local slot, or "".
func SlotName(u *bytecode.Unit, fn *bytecode.Function, slot int) string {
	for _, n := range fn.Names {
		if int(n.Slot) == slot {
			if s, ok := u.Ident(n.Ident); ok {
				return s
			}
		}
	}
	return ""
}

// LineAnnotator reports the source line of instructions that start a new line.
func LineAnnotator(fn *bytecode.Function) Annotator {
	starts := make(map[int]bool, len(fn.Lines))
	for _, l := range fn.Lines {
		starts[int(l.Offset)] = true
	}
	return func(in *bytecode.Instruction) string {
		if in.Line == 0 || !starts[in.Offset] {
			return ""
		}
		return fmt.Sprintf("line %d", in.Line)
	}
}

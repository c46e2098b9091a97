package bytecode

import (
	"fmt"

	"golang.org/x/text/encoding/unicode/utf32"

	"gdsdecomp/internal/bcfmt"
	"gdsdecomp/internal/registry"
)

// Encode writes u as a payload for ver. Functions that decoded cleanly are
// re-encoded from their instructions; failed or instruction-less functions
// keep their raw code.
func Encode(u *Unit, ver *registry.Version) ([]byte, error) {
	w := bcfmt.NewWriter()

	w.WriteUint32(uint32(len(u.Identifiers)))
	for i, s := range u.Identifiers {
		raw, units, err := encodeIdent(s, ver.Identifiers.Encoding)
		if err != nil {
			return nil, fmt.Errorf("encode: identifier %d: %w", i, err)
		}
		for j := range raw {
			raw[j] ^= ver.Identifiers.XOR
		}
		w.WriteUint32(uint32(units))
		w.WriteBytes(raw)
	}

	w.WriteUint32(u.Extends)
	w.WriteUint32(u.ClassName)
	w.WriteUint32(u.Flags)

	w.WriteUint32(uint32(len(u.Signals)))
	for _, s := range u.Signals {
		w.WriteUint32(s)
	}
	w.WriteUint32(uint32(len(u.Members)))
	for _, m := range u.Members {
		w.WriteUint32(m.Ident)
		w.WriteByte(m.Flags)
	}

	w.WriteUint32(uint32(len(u.Functions)))
	for _, fn := range u.Functions {
		if err := encodeFunction(w, fn, ver); err != nil {
			return nil, fmt.Errorf("encode: function %d: %w", fn.Index, err)
		}
	}
	return w.Bytes(), nil
}

func encodeIdent(s string, enc registry.IdentEncoding) ([]byte, int, error) {
	if enc == registry.IdentUTF8 {
		return []byte(s), len(s), nil
	}
	out, err := utf32.UTF32(utf32.LittleEndian, utf32.IgnoreBOM).NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, 0, err
	}
	return out, len(out) / 4, nil
}

func encodeFunction(w *bcfmt.Writer, fn *Function, ver *registry.Version) error {
	w.WriteUint32(fn.Name)
	for _, n := range []int{fn.ArgCount, fn.LocalCount, fn.StackSize} {
		if n < 0 || n > 0xFFFF {
			return fmt.Errorf("count %d does not fit in 16 bits", n)
		}
		w.WriteUint16(uint16(n))
	}

	w.WriteUint32(uint32(len(fn.Names)))
	for _, ns := range fn.Names {
		w.WriteUint16(ns.Slot)
		w.WriteUint32(ns.Ident)
	}

	w.WriteUint32(uint32(len(fn.Constants)))
	for i, c := range fn.Constants {
		if err := encodeConstant(w, c, ver.Constants); err != nil {
			return fmt.Errorf("constant %d: %w", i, err)
		}
	}

	code := fn.Code
	if fn.Err == nil && fn.Instructions != nil {
		cw := bcfmt.NewWriter()
		for i := range fn.Instructions {
			if err := EncodeInstruction(cw, &fn.Instructions[i], ver); err != nil {
				return fmt.Errorf("instruction %d: %w", i, err)
			}
		}
		code = cw.Bytes()
	}
	w.WriteUint32(uint32(len(code)))
	w.WriteBytes(code)

	w.WriteUint32(uint32(len(fn.Lines)))
	for _, l := range fn.Lines {
		w.WriteUint32(l.Offset)
		w.WriteUint32(l.Line)
	}
	return nil
}

func encodeConstant(w *bcfmt.Writer, c Constant, rules registry.ConstantRules) error {
	hdr := func(typ uint16) {
		h := uint32(typ)
		if c.Wide {
			h |= constFlag64
		}
		w.WriteUint32(h)
	}
	if c.Wide && !rules.Flag64 {
		return fmt.Errorf("64-bit constants not supported")
	}
	switch c.Kind {
	case ConstNil:
		hdr(rules.Nil)
	case ConstBool:
		hdr(rules.Bool)
		if c.Bool {
			w.WriteUint32(1)
		} else {
			w.WriteUint32(0)
		}
	case ConstInt:
		hdr(rules.Int)
		if c.Wide {
			w.WriteInt64(c.Int)
		} else {
			if c.Int < -1<<31 || c.Int > 1<<31-1 {
				return fmt.Errorf("int %d needs the 64-bit flag", c.Int)
			}
			w.WriteInt32(int32(c.Int))
		}
	case ConstFloat:
		hdr(rules.Float)
		if c.Wide {
			w.WriteFloat64(c.Float)
		} else {
			w.WriteFloat32(float32(c.Float))
		}
	case ConstString:
		hdr(rules.String)
		w.WritePadded([]byte(c.Str))
	case ConstNodePath:
		hdr(rules.NodePath)
		w.WritePadded([]byte(c.Str))
	case ConstResource:
		hdr(rules.Object)
		w.WriteUint32(objectResource)
		w.WritePadded([]byte(c.Str))
	case ConstSubScript:
		hdr(rules.Object)
		w.WriteUint32(objectSubScript)
		w.WriteUint32(uint32(c.Ref))
	default:
		return fmt.Errorf("unknown constant kind %s", c.Kind)
	}
	return nil
}

// EncodeInstruction appends one instruction's bytes to w. The opcode byte is
// looked up by mnemonic so instructions built by hand need only Op and Operands.
func EncodeInstruction(w *bcfmt.Writer, in *Instruction, ver *registry.Version) error {
	spec, ok := ver.OpcodeByName(in.Op)
	if !ok {
		return fmt.Errorf("%s not defined in %s", in.Op, ver.Tag)
	}
	if len(in.Operands) != len(spec.Operands) {
		return fmt.Errorf("%s takes %d operands, have %d", in.Op, len(spec.Operands), len(in.Operands))
	}
	w.WriteByte(spec.Code)
	for i, k := range spec.Operands {
		if err := w.WriteUint(ver.Widths.Of(k), in.Operands[i].Value); err != nil {
			return fmt.Errorf("%s %s operand: %w", in.Op, k, err)
		}
	}
	return nil
}

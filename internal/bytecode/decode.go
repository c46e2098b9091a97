package bytecode

import (
	"errors"
	"fmt"

	"golang.org/x/text/encoding/unicode/utf32"

	"gdsdecomp/internal/bcfmt"
	"gdsdecomp/internal/registry"
)

// ErrBudget is wrapped by decode errors raised when the instruction budget runs out.
var ErrBudget = errors.New("instruction budget exhausted")

// Minimum encoded sizes used to bound preallocation from untrusted counts.
const (
	minIdentSize    = 4
	minSignalSize   = 4
	minMemberSize   = 5
	minFunctionSize = 4 + 6 + 4 + 4 + 4 + 4
	minSlotSize     = 6
	minConstSize    = 4
	minLineSize     = 8
)

const constFlag64 uint32 = 1 << 16

// Decode parses a payload under ver.
//
// The returned unit is never nil. Failures inside one function's code are
// recorded in Function.Err and decoding continues with the next function
// (unless opts.Mode is strict). Failures in unit-level data stop decoding;
// the unit then holds the decoded prefix, Incomplete is set and the
// *DecodeError is returned.
func Decode(payload []byte, ver *registry.Version, opts bcfmt.Options) (*Unit, error) {
	d := &decoder{
		s:      bcfmt.NewStream(payload),
		ver:    ver,
		opts:   opts,
		budget: opts.EffectiveMaxSteps(),
		u:      &Unit{Extends: NoIdent, ClassName: NoIdent},
	}
	if err := d.unit(); err != nil {
		d.u.Incomplete = true
		return d.u, err
	}
	return d.u, nil
}

type decoder struct {
	s      *bcfmt.Stream
	ver    *registry.Version
	opts   bcfmt.Options
	budget int
	u      *Unit
	refs   []subRef
}

// subRef is a sub-script constant whose function index is checked once all functions are known.
type subRef struct {
	fn     *Function
	offset int
	ref    int
}

// unitErr wraps a unit-level read failure.
func (d *decoder) unitErr(msg string, err error) *DecodeError {
	off := d.s.Offset()
	var re *bcfmt.ReadError
	if errors.As(err, &re) {
		off = re.Offset
	}
	return &DecodeError{Offset: off, Func: -1, Msg: msg, Err: err}
}

func (d *decoder) unit() error {
	if err := d.identifiers(); err != nil {
		return err
	}

	var err error
	hdrOff := d.s.Offset()
	if d.u.Extends, err = d.s.ReadUint32(); err != nil {
		return d.unitErr("extends", err)
	}
	if d.u.ClassName, err = d.s.ReadUint32(); err != nil {
		return d.unitErr("class_name", err)
	}
	if d.u.Flags, err = d.s.ReadUint32(); err != nil {
		return d.unitErr("unit flags", err)
	}
	if !d.validIdent(d.u.Extends, true) {
		return &DecodeError{Offset: hdrOff, Func: -1, Msg: fmt.Sprintf("extends identifier %d out of range", d.u.Extends)}
	}
	d.u.ClassNameOffset = hdrOff + 4
	if !d.validIdent(d.u.ClassName, true) {
		return &DecodeError{Offset: hdrOff + 4, Func: -1, Msg: fmt.Sprintf("class_name identifier %d out of range", d.u.ClassName)}
	}

	n, err := d.s.ReadUint32()
	if err != nil {
		return d.unitErr("signal count", err)
	}
	capN, _ := d.s.ClampCount(n, minSignalSize)
	d.u.Signals = make([]uint32, 0, capN)
	d.u.SignalOffsets = make([]int, 0, capN)
	for i := uint32(0); i < n; i++ {
		off := d.s.Offset()
		id, err := d.s.ReadUint32()
		if err != nil {
			return d.unitErr(fmt.Sprintf("signal %d", i), err)
		}
		if !d.validIdent(id, false) {
			return &DecodeError{Offset: off, Func: -1, Msg: fmt.Sprintf("signal identifier %d out of range", id)}
		}
		d.u.Signals = append(d.u.Signals, id)
		d.u.SignalOffsets = append(d.u.SignalOffsets, off)
	}

	if n, err = d.s.ReadUint32(); err != nil {
		return d.unitErr("member count", err)
	}
	capN, _ = d.s.ClampCount(n, minMemberSize)
	d.u.Members = make([]Member, 0, capN)
	for i := uint32(0); i < n; i++ {
		off := d.s.Offset()
		id, err := d.s.ReadUint32()
		if err != nil {
			return d.unitErr(fmt.Sprintf("member %d", i), err)
		}
		flags, err := d.s.ReadUint8()
		if err != nil {
			return d.unitErr(fmt.Sprintf("member %d flags", i), err)
		}
		if !d.validIdent(id, false) {
			return &DecodeError{Offset: off, Func: -1, Msg: fmt.Sprintf("member identifier %d out of range", id)}
		}
		d.u.Members = append(d.u.Members, Member{Ident: id, Flags: flags, Offset: off})
	}

	if n, err = d.s.ReadUint32(); err != nil {
		return d.unitErr("function count", err)
	}
	capN, clamped := d.s.ClampCount(n, minFunctionSize)
	if clamped {
		d.u.Diags.Addf(uint64(d.s.Offset()-4), bcfmt.DiagClamped, "function count %d exceeds remaining bytes", n)
	}
	d.u.Functions = make([]*Function, 0, capN)
	for i := uint32(0); i < n; i++ {
		fn, err := d.function(int(i))
		if fn != nil {
			d.u.Functions = append(d.u.Functions, fn)
		}
		if err != nil {
			return err
		}
		if fn.Err != nil && d.opts.Mode == bcfmt.ModeStrict {
			return fn.Err
		}
	}

	for _, r := range d.refs {
		if r.ref >= len(d.u.Functions) && r.fn.Err == nil {
			r.fn.Err = &DecodeError{Offset: r.offset, Func: r.fn.Index,
				Msg: fmt.Sprintf("sub-script constant refers to function %d of %d", r.ref, len(d.u.Functions))}
			if d.opts.Mode == bcfmt.ModeStrict {
				return r.fn.Err
			}
		}
	}

	if d.s.Remaining() > 0 {
		d.u.Diags.Addf(uint64(d.s.Offset()), bcfmt.DiagInvalid, "%d trailing bytes after last function", d.s.Remaining())
	}
	return nil
}

func (d *decoder) validIdent(id uint32, optional bool) bool {
	if id == NoIdent {
		return optional
	}
	return int64(id) < int64(len(d.u.Identifiers))
}

func (d *decoder) identifiers() error {
	n, err := d.s.ReadUint32()
	if err != nil {
		return d.unitErr("identifier count", err)
	}
	capN, _ := d.s.ClampCount(n, minIdentSize)
	d.u.Identifiers = make([]string, 0, capN)

	rules := d.ver.Identifiers
	unit := 1
	if rules.Encoding == registry.IdentUTF32 {
		unit = 4
	}
	for i := uint32(0); i < n; i++ {
		start := d.s.Offset()
		units, err := d.s.ReadUint32()
		if err != nil {
			return d.unitErr(fmt.Sprintf("identifier %d length", i), err)
		}
		if int64(units)*int64(unit) > int64(d.s.Remaining()) {
			return &DecodeError{Offset: start, Func: -1,
				Msg: fmt.Sprintf("identifier %d length %d exceeds remaining bytes", i, units),
				Err: bcfmt.ErrStreamEOF}
		}
		raw, err := d.s.ReadBytes(int(units) * unit)
		if err != nil {
			return d.unitErr(fmt.Sprintf("identifier %d", i), err)
		}
		for j := range raw {
			raw[j] ^= rules.XOR
		}
		s, err := decodeIdent(raw, rules.Encoding)
		if err != nil {
			return &DecodeError{Offset: start + 4, Func: -1, Msg: fmt.Sprintf("identifier %d", i), Err: err}
		}
		d.u.Identifiers = append(d.u.Identifiers, s)
	}
	return nil
}

func decodeIdent(raw []byte, enc registry.IdentEncoding) (string, error) {
	if enc == registry.IdentUTF8 {
		return string(raw), nil
	}
	out, err := utf32.UTF32(utf32.LittleEndian, utf32.IgnoreBOM).NewDecoder().Bytes(raw)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// function reads one function record. A non-nil error is a unit-level failure;
// validation failures are stored in fn.Err and leave the stream aligned.
func (d *decoder) function(index int) (*Function, error) {
	fn := &Function{Index: index}
	fail := func(off int, format string, args ...any) {
		if fn.Err == nil {
			fn.Err = &DecodeError{Offset: off, Func: index, Msg: fmt.Sprintf(format, args...)}
		}
	}
	where := func(field string) string { return fmt.Sprintf("function %d %s", index, field) }

	start := d.s.Offset()
	name, err := d.s.ReadUint32()
	if err != nil {
		return nil, d.unitErr(where("name"), err)
	}
	fn.Name = name
	if !d.validIdent(name, true) {
		fail(start, "name identifier %d out of range", name)
	}

	var counts [3]uint16
	for i := range counts {
		if counts[i], err = d.s.ReadUint16(); err != nil {
			return fn, d.unitErr(where("header"), err)
		}
	}
	fn.ArgCount, fn.LocalCount, fn.StackSize = int(counts[0]), int(counts[1]), int(counts[2])
	if fn.ArgCount > fn.LocalCount {
		fail(start+4, "argument count %d exceeds local count %d", fn.ArgCount, fn.LocalCount)
	}

	n, err := d.s.ReadUint32()
	if err != nil {
		return fn, d.unitErr(where("named slot count"), err)
	}
	capN, _ := d.s.ClampCount(n, minSlotSize)
	fn.Names = make([]NamedSlot, 0, capN)
	for i := uint32(0); i < n; i++ {
		off := d.s.Offset()
		slot, err := d.s.ReadUint16()
		if err != nil {
			return fn, d.unitErr(where("named slot"), err)
		}
		id, err := d.s.ReadUint32()
		if err != nil {
			return fn, d.unitErr(where("named slot"), err)
		}
		if int(slot) >= fn.LocalCount {
			fail(off, "named slot %d out of range (%d locals)", slot, fn.LocalCount)
		}
		if !d.validIdent(id, false) {
			fail(off+2, "slot name identifier %d out of range", id)
		}
		fn.Names = append(fn.Names, NamedSlot{Slot: slot, Ident: id})
	}

	if n, err = d.s.ReadUint32(); err != nil {
		return fn, d.unitErr(where("constant count"), err)
	}
	capN, _ = d.s.ClampCount(n, minConstSize)
	fn.Constants = make(ConstantPool, 0, capN)
	for i := uint32(0); i < n; i++ {
		c, err := d.constant(fn, fail)
		if err != nil {
			return fn, err
		}
		fn.Constants = append(fn.Constants, c)
	}

	codeLen, err := d.s.ReadUint32()
	if err != nil {
		return fn, d.unitErr(where("code length"), err)
	}
	if int64(codeLen) > int64(d.s.Remaining()) {
		return fn, d.truncatedCode(fn, codeLen)
	}
	code, err := d.s.Sub(int(codeLen))
	if err != nil {
		return fn, d.unitErr(where("code"), err)
	}
	fn.CodeOffset = code.Base()
	fn.Code, _ = code.ReadBytes(int(codeLen))
	code.SetPosition(0)

	if n, err = d.s.ReadUint32(); err != nil {
		return fn, d.unitErr(where("line count"), err)
	}
	capN, _ = d.s.ClampCount(n, minLineSize)
	fn.Lines = make([]LineEntry, 0, capN)
	for i := uint32(0); i < n; i++ {
		off, err := d.s.ReadUint32()
		if err != nil {
			return fn, d.unitErr(where("line entry"), err)
		}
		line, err := d.s.ReadUint32()
		if err != nil {
			return fn, d.unitErr(where("line entry"), err)
		}
		fn.Lines = append(fn.Lines, LineEntry{Offset: off, Line: line})
	}

	// Code is decoded last so operand bounds see the full pool and local count.
	if err := d.code(fn, code); err != nil {
		if errors.Is(err, ErrBudget) {
			return fn, err
		}
		if fn.Err == nil {
			fn.Err = err
		}
	}
	attachLines(fn)
	return fn, nil
}

// truncatedCode decodes what is left of a function whose code runs past the
// payload end. The returned unit-level error points at the read that ran
// out, which is an operand when the cut falls inside an instruction.
func (d *decoder) truncatedCode(fn *Function, codeLen uint32) error {
	avail := d.s.Remaining()
	code, _ := d.s.Sub(avail)
	fn.CodeOffset = code.Base()
	fn.Code, _ = code.ReadBytes(avail)
	code.SetPosition(0)

	err := d.code(fn, code)
	var de *DecodeError
	if err == nil || !errors.Is(err, bcfmt.ErrStreamEOF) || !errors.As(err, &de) {
		de = &DecodeError{Offset: fn.CodeOffset + avail, Msg: "truncated code", Err: bcfmt.ErrStreamEOF}
	}
	de.Func = fn.Index
	de.Msg = fmt.Sprintf("function %d code length %d exceeds remaining %d bytes: %s", fn.Index, codeLen, avail, de.Msg)
	if fn.Err == nil {
		fn.Err = de
	}
	return de
}

func (d *decoder) constant(fn *Function, fail func(int, string, ...any)) (Constant, error) {
	rules := d.ver.Constants
	start := d.s.Offset()
	hdr, err := d.s.ReadUint32()
	if err != nil {
		return Constant{}, d.unitErr("constant header", err)
	}
	typ := uint16(hdr & 0xFFFF)
	wide := hdr&constFlag64 != 0
	if hdr&^(0xFFFF|constFlag64) != 0 {
		return Constant{}, &DecodeError{Offset: start, Func: -1, Msg: fmt.Sprintf("constant header 0x%x has unknown flag bits", hdr)}
	}
	if wide && !rules.Flag64 {
		fail(start, "64-bit constant flag not supported by %s", d.ver.Tag)
	}

	c := Constant{Wide: wide}
	switch typ {
	case rules.Nil:
		c.Kind = ConstNil
	case rules.Bool:
		c.Kind = ConstBool
		v, err := d.s.ReadUint32()
		if err != nil {
			return c, d.unitErr("bool constant", err)
		}
		if v > 1 {
			fail(start+4, "bool constant value %d", v)
		}
		c.Bool = v != 0
	case rules.Int:
		c.Kind = ConstInt
		if wide {
			v, err := d.s.ReadInt64()
			if err != nil {
				return c, d.unitErr("int constant", err)
			}
			c.Int = v
		} else {
			v, err := d.s.ReadInt32()
			if err != nil {
				return c, d.unitErr("int constant", err)
			}
			c.Int = int64(v)
		}
	case rules.Float:
		c.Kind = ConstFloat
		if wide {
			v, err := d.s.ReadFloat64()
			if err != nil {
				return c, d.unitErr("float constant", err)
			}
			c.Float = v
		} else {
			v, err := d.s.ReadFloat32()
			if err != nil {
				return c, d.unitErr("float constant", err)
			}
			c.Float = float64(v)
		}
	case rules.String, rules.NodePath:
		c.Kind = ConstString
		if typ == rules.NodePath {
			c.Kind = ConstNodePath
		}
		b, err := d.s.ReadPadded(d.s.Remaining())
		if err != nil {
			return c, d.unitErr("string constant", err)
		}
		c.Str = string(b)
	case rules.Object:
		sub, err := d.s.ReadUint32()
		if err != nil {
			return c, d.unitErr("object constant", err)
		}
		switch sub {
		case objectResource:
			c.Kind = ConstResource
			b, err := d.s.ReadPadded(d.s.Remaining())
			if err != nil {
				return c, d.unitErr("resource constant", err)
			}
			c.Str = string(b)
		case objectSubScript:
			c.Kind = ConstSubScript
			off := d.s.Offset()
			ref, err := d.s.ReadUint32()
			if err != nil {
				return c, d.unitErr("sub-script constant", err)
			}
			c.Ref = int(ref)
			d.refs = append(d.refs, subRef{fn: fn, offset: off, ref: int(ref)})
		default:
			return c, &DecodeError{Offset: start + 4, Func: -1, Msg: fmt.Sprintf("unknown object constant sub-kind %d", sub)}
		}
	default:
		return c, &DecodeError{Offset: start, Func: -1, Msg: fmt.Sprintf("unknown constant type %d", typ)}
	}
	return c, nil
}

// code decodes the instruction stream of fn.
func (d *decoder) code(fn *Function, s *bcfmt.Stream) error {
	ver := d.ver
	for s.Remaining() > 0 {
		if d.budget <= 0 {
			return &DecodeError{Offset: s.Offset(), Func: -1, Msg: "decoding stopped", Err: ErrBudget}
		}
		d.budget--

		in, err := decodeInstruction(s, ver)
		if err != nil {
			if de, ok := err.(*DecodeError); ok {
				de.Func = fn.Index
			}
			return err
		}
		in.Index = len(fn.Instructions)
		if err := checkOperands(&in, fn, d.u, ver); err != nil {
			return err
		}
		fn.Instructions = append(fn.Instructions, in)
	}
	return checkJumps(fn)
}

// decodeInstruction reads one instruction at the stream position.
// Offsets in the result are relative to the stream start.
func decodeInstruction(s *bcfmt.Stream, ver *registry.Version) (Instruction, error) {
	off := s.Position()
	op, err := s.ReadByte()
	if err != nil {
		return Instruction{}, readErr(err, "opcode")
	}
	spec, ok := ver.Spec(op)
	if !ok {
		s.SetPosition(off)
		return Instruction{}, &DecodeError{Offset: s.Base() + off, Func: -1,
			Msg: fmt.Sprintf("opcode 0x%02x not defined in %s", op, ver.Tag)}
	}
	in := Instruction{
		Offset: off,
		Opcode: op,
		Op:     spec.Name,
		Spec:   spec,
	}
	if len(spec.Operands) > 0 {
		in.Operands = make([]Operand, len(spec.Operands))
	}
	for i, k := range spec.Operands {
		oOff := s.Position()
		v, err := s.ReadUint(ver.Widths.Of(k))
		if err != nil {
			return in, readErr(err, fmt.Sprintf("%s operand %d", spec.Name, i))
		}
		in.Operands[i] = Operand{Kind: k, Value: v, Offset: oOff}
	}
	in.Size = s.Position() - off
	return in, nil
}

func readErr(err error, msg string) error {
	var re *bcfmt.ReadError
	if errors.As(err, &re) {
		return &DecodeError{Offset: re.Offset, Func: -1, Msg: "truncated " + msg, Err: err}
	}
	return &DecodeError{Func: -1, Msg: msg, Err: err}
}

// checkOperands rejects operand indices that do not resolve. Out-of-range is
// never clamped.
func checkOperands(in *Instruction, fn *Function, u *Unit, ver *registry.Version) error {
	for _, o := range in.Operands {
		var limit int
		switch o.Kind {
		case registry.OperandConst:
			limit = len(fn.Constants)
		case registry.OperandLocal:
			limit = fn.LocalCount
		case registry.OperandIdent:
			limit = len(u.Identifiers)
		case registry.OperandBuiltin:
			limit = len(ver.Builtins)
		default:
			continue
		}
		if int64(o.Value) >= int64(limit) {
			return &DecodeError{Offset: fn.CodeOffset + o.Offset, Func: fn.Index,
				Msg: fmt.Sprintf("%s %s operand %d out of range (limit %d)", in.Op, o.Kind, o.Value, limit)}
		}
	}
	return nil
}

// checkJumps requires every jump target to be an instruction boundary or the code end.
func checkJumps(fn *Function) error {
	for i := range fn.Instructions {
		in := &fn.Instructions[i]
		for _, o := range in.Operands {
			if o.Kind != registry.OperandJump {
				continue
			}
			t := int(o.Value)
			if t == len(fn.Code) {
				continue
			}
			if _, ok := fn.At(t); !ok {
				return &DecodeError{Offset: fn.CodeOffset + o.Offset, Func: fn.Index,
					Msg: fmt.Sprintf("%s target 0x%x is not an instruction boundary", in.Op, t)}
			}
		}
	}
	return nil
}

// attachLines assigns each instruction the line of the last entry at or before it.
func attachLines(fn *Function) {
	if len(fn.Lines) == 0 {
		return
	}
	j := -1
	for i := range fn.Instructions {
		in := &fn.Instructions[i]
		for j+1 < len(fn.Lines) && int(fn.Lines[j+1].Offset) <= in.Offset {
			j++
		}
		if j >= 0 {
			in.Line = int(fn.Lines[j].Line)
		}
	}
}

package bytecode

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gdsdecomp/internal/bcfmt"
	"gdsdecomp/internal/registry"
	"gdsdecomp/internal/script"
)

func version(t *testing.T, tag string) *registry.Version {
	t.Helper()
	v, ok := registry.Default().ByTag(tag)
	require.True(t, ok, tag)
	return v
}

// sampleUnit exercises every operand kind and every constant kind the version supports.
func sampleUnit(t *testing.T, ver *registry.Version) *Assembler {
	t.Helper()
	a := NewAssembler(ver).Extends("Node")
	a.Member("speed", 0)

	f := a.Func("_ready", 1, 3)
	f.Name(0, "delta")
	kInt := f.Const(IntConst(7))
	kStr := f.Const(StringConst("hi"))
	kRet := f.Const(FloatConst(1.5))
	f.Const(BoolConst(true))
	f.Const(NilConst())
	f.Const(NodePathConst("Sprite/Anim"))
	f.Const(ResourceConst("res://enemy.tscn"))
	f.Const(SubScriptConst(1))
	if ver.Constants.Flag64 {
		f.Const(IntConst(1 << 40))
	}

	f.Line(3).
		Op(registry.OpLoadConst, kInt).
		Op(registry.OpStoreLocal, 1).
		Line(4).
		Op(registry.OpLoadLocal, 0).
		Op(registry.OpJumpIfFalse, Label("else")).
		Op(registry.OpLoadConst, kStr).
		Builtin("print", 1).
		Op(registry.OpPop).
		Op(registry.OpJump, Label("end")).
		Label("else").
		Line(6).
		Op(registry.OpLoadMember, Name("speed")).
		Op(registry.OpGetAttr, Name("x")).
		Op(registry.OpBuildArray, 1).
		Op(registry.OpIterBegin, 2, 1, Label("end"), 0).
		Label("loop").
		Op(registry.OpLoadLocal, 1).
		Op(registry.OpPop).
		Op(registry.OpIterNext, 2, 1, Label("loop")).
		Label("end").
		Line(8).
		Op(registry.OpLoadConst, kRet).
		Op(registry.OpReturn)

	a.Func("helper", 0, 0).Op(registry.OpReturnVoid)
	return a
}

func TestRoundTrip_AllVersions(t *testing.T) {
	for _, ver := range registry.Default().Versions() {
		t.Run(ver.Commit, func(t *testing.T) {
			payload, err := sampleUnit(t, ver).Payload()
			require.NoError(t, err)

			u, err := Decode(payload, ver, bcfmt.Options{Mode: bcfmt.ModeStrict})
			require.NoError(t, err)
			require.False(t, u.Incomplete)
			require.Len(t, u.Functions, 2)
			for _, fn := range u.Functions {
				require.NoError(t, fn.Err)
			}

			again, err := Encode(u, ver)
			require.NoError(t, err)
			assert.Equal(t, payload, again, "encode(decode(b)) == b")

			f := u.Functions[0]
			assert.Equal(t, "_ready", u.FuncName(f))
			assert.Len(t, f.Instructions, 17)
			assert.Equal(t, registry.OpReturn, f.Instructions[16].Op)
			assert.Equal(t, 8, f.Instructions[16].Line)
			assert.Equal(t, 4, f.Instructions[3].Line)

			target, ok := f.Instructions[3].Target()
			require.True(t, ok)
			in, ok := f.At(target)
			require.True(t, ok)
			assert.Equal(t, registry.OpLoadMember, in.Op)
		})
	}
}

func TestDecode_Deterministic(t *testing.T) {
	ver := version(t, "V_5565f55")
	payload, err := sampleUnit(t, ver).Payload()
	require.NoError(t, err)

	a, err := Decode(payload, ver, bcfmt.Options{})
	require.NoError(t, err)
	b, err := Decode(payload, ver, bcfmt.Options{})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDecode_ReturnConst(t *testing.T) {
	ver := version(t, "V_703004f")
	a := NewAssembler(ver)
	f := a.Func("get", 0, 0)
	k := f.Const(IntConst(42))
	f.Op(registry.OpLoadConst, k).Op(registry.OpReturn)
	payload, err := a.Payload()
	require.NoError(t, err)

	u, err := Decode(payload, ver, bcfmt.Options{})
	require.NoError(t, err)
	fn := u.Functions[0]
	require.Len(t, fn.Instructions, 2)
	assert.Equal(t, []byte{1, 0, 47}, fn.Code)
	assert.Equal(t, registry.OpLoadConst, fn.Instructions[0].Op)
	assert.Equal(t, 1, fn.Instructions[0].StackDelta())
	assert.Equal(t, int64(42), fn.Constants[0].Int)
}

// rawFunc builds a unit whose only function has literal code.
func rawFunc(t *testing.T, ver *registry.Version, code []byte, consts ...Constant) []byte {
	t.Helper()
	a := NewAssembler(ver)
	f := a.Func("", 0, 1)
	for _, c := range consts {
		f.Const(c)
	}
	f.Raw(code)
	a.Func("", 0, 0).Op(registry.OpReturnVoid)
	payload, err := a.Payload()
	require.NoError(t, err)
	return payload
}

func TestDecode_TruncatedOperand(t *testing.T) {
	ver := version(t, "V_703004f")
	payload := rawFunc(t, ver, []byte{1}) // LOAD_CONST with its operand missing

	u, err := Decode(payload, ver, bcfmt.Options{})
	require.NoError(t, err, "function errors stay in the function")
	fn := u.Functions[0]
	assert.Equal(t, 50, fn.CodeOffset)

	var de *DecodeError
	require.True(t, errors.As(fn.Err, &de))
	assert.Equal(t, fn.CodeOffset+1, de.Offset)
	assert.Equal(t, 0, de.Func)
	assert.True(t, errors.Is(fn.Err, bcfmt.ErrStreamEOF))

	require.NoError(t, u.Functions[1].Err, "next function still decodes")
	assert.Len(t, u.Functions[1].Instructions, 1)
}

func TestDecode_TruncatedUnit(t *testing.T) {
	ver := version(t, "V_703004f")
	payload, err := sampleUnit(t, ver).Payload()
	require.NoError(t, err)

	cut := payload[:len(payload)-3]
	u, err := Decode(cut, ver, bcfmt.Options{})
	require.Error(t, err)
	assert.True(t, u.Incomplete)
	require.Len(t, u.Functions, 2, "decoded prefix kept")

	var de *DecodeError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, -1, de.Func)
	assert.Equal(t, len(payload)-4, de.Offset, "line count of the last function")
}

func TestDecode_TruncatedInsideCode(t *testing.T) {
	ver := version(t, "V_703004f")
	a := NewAssembler(ver)
	f := a.Func("get", 0, 0)
	f.Op(registry.OpLoadConst, f.Const(IntConst(42))).Op(registry.OpReturn)
	payload, err := a.Payload()
	require.NoError(t, err)
	full, err := Decode(payload, ver, bcfmt.Options{})
	require.NoError(t, err)
	code := full.Functions[0].CodeOffset

	t.Run("mid operand", func(t *testing.T) {
		got, err := Decode(payload[:code+1], ver, bcfmt.Options{})
		var de *DecodeError
		require.True(t, errors.As(err, &de), "got %v", err)
		assert.Equal(t, code+1, de.Offset, "operand of LOAD_CONST")
		assert.True(t, errors.Is(err, bcfmt.ErrStreamEOF))
		assert.True(t, got.Incomplete)
		require.Len(t, got.Functions, 1)
		assert.Equal(t, err, got.Functions[0].Err)
	})

	t.Run("instruction boundary", func(t *testing.T) {
		cut := code + 1 + ver.Widths.Of(registry.OperandConst)
		got, err := Decode(payload[:cut], ver, bcfmt.Options{})
		var de *DecodeError
		require.True(t, errors.As(err, &de), "got %v", err)
		assert.Equal(t, cut, de.Offset)
		require.Len(t, got.Functions, 1)
		assert.Len(t, got.Functions[0].Instructions, 1)
	})
}

func TestDecode_DeclarationOffsets(t *testing.T) {
	ver := version(t, "V_c24c739")
	a := NewAssembler(ver).ClassName("Player").Signal("hit").Member("hp", MemberOnReady)
	a.Func("f", 0, 0).Op(registry.OpReturnVoid)
	payload, err := a.Payload()
	require.NoError(t, err)

	u, err := Decode(payload, ver, bcfmt.Options{})
	require.NoError(t, err)
	at := func(off int) uint32 { return binary.LittleEndian.Uint32(payload[off:]) }
	assert.Equal(t, u.ClassName, at(u.ClassNameOffset))
	require.Len(t, u.SignalOffsets, 1)
	assert.Equal(t, u.Signals[0], at(u.SignalOffsets[0]))
	assert.Equal(t, u.Members[0].Ident, at(u.Members[0].Offset))

	offsets := map[registry.Feature]int{}
	for _, fu := range FeatureUses(u) {
		if fu.Func < 0 {
			offsets[fu.Feature] = fu.Offset
		}
	}
	assert.Equal(t, map[registry.Feature]int{
		registry.FeatureClassName: u.ClassNameOffset,
		registry.FeatureSignal:    u.SignalOffsets[0],
		registry.FeatureOnready:   u.Members[0].Offset,
	}, offsets)
}

func TestDecode_OperandOutOfRange(t *testing.T) {
	ver := version(t, "V_703004f")
	payload := rawFunc(t, ver, []byte{1, 5, 47}) // LOAD_CONST 5 with an empty pool

	u, err := Decode(payload, ver, bcfmt.Options{})
	require.NoError(t, err)
	var de *DecodeError
	require.True(t, errors.As(u.Functions[0].Err, &de))
	assert.Equal(t, u.Functions[0].CodeOffset+1, de.Offset)
	assert.Contains(t, de.Msg, "out of range")

	_, err = Decode(payload, ver, bcfmt.Options{Mode: bcfmt.ModeStrict})
	assert.True(t, errors.As(err, &de), "strict mode fails the unit")
}

func TestDecode_JumpIntoInstruction(t *testing.T) {
	ver := version(t, "V_703004f")
	jump, _ := ver.OpcodeByName(registry.OpJump)
	// JUMP 1 lands inside its own 2-byte operand.
	code := []byte{jump.Code, 1, 0, 48}
	u, err := Decode(rawFunc(t, ver, code), ver, bcfmt.Options{})
	require.NoError(t, err)

	var de *DecodeError
	require.True(t, errors.As(u.Functions[0].Err, &de))
	assert.Equal(t, u.Functions[0].CodeOffset+1, de.Offset)
	assert.Contains(t, de.Msg, "boundary")
}

func TestDecode_UnknownOpcode(t *testing.T) {
	ver := version(t, "V_703004f")
	u, err := Decode(rawFunc(t, ver, []byte{48, 200}), ver, bcfmt.Options{})
	require.NoError(t, err)

	var de *DecodeError
	require.True(t, errors.As(u.Functions[0].Err, &de))
	assert.Equal(t, u.Functions[0].CodeOffset+1, de.Offset)
	assert.Len(t, u.Functions[0].Instructions, 1, "prefix kept")
}

func TestDecode_UnknownConstantType(t *testing.T) {
	ver := version(t, "V_703004f")
	w := bcfmt.NewWriter()
	for _, v := range []uint32{0, NoIdent, NoIdent, 0, 0, 0, 1, NoIdent} {
		w.WriteUint32(v)
	}
	w.WriteBytes([]byte{0, 0, 0, 0, 0, 0})
	w.WriteUint32(0) // named slots
	w.WriteUint32(1) // constants
	w.WriteUint32(99)

	u, err := Decode(w.Bytes(), ver, bcfmt.Options{})
	var de *DecodeError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, 46, de.Offset)
	assert.True(t, u.Incomplete)
}

func TestDecode_UTF32Identifiers(t *testing.T) {
	ver := version(t, "V_77dcf97")
	a := NewAssembler(ver).Extends("Node2D").ClassName("Spieler")
	f := a.Func("grüß_dich", 0, 0)
	f.Op(registry.OpLoadGlobal, Name("日本")).Op(registry.OpReturn)
	payload, err := a.Payload()
	require.NoError(t, err)

	u, err := Decode(payload, ver, bcfmt.Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Node2D", "Spieler", "grüß_dich", "日本"}, u.Identifiers)
	assert.Equal(t, "grüß_dich", u.FuncName(u.Functions[0]))
}

func TestDecode_Budget(t *testing.T) {
	ver := version(t, "V_703004f")
	payload, err := sampleUnit(t, ver).Payload()
	require.NoError(t, err)

	u, err := Decode(payload, ver, bcfmt.Options{MaxSteps: 5})
	require.ErrorIs(t, err, ErrBudget)
	assert.True(t, u.Incomplete)
}

func TestDecode_SubScriptRef(t *testing.T) {
	ver := version(t, "V_703004f")
	a := NewAssembler(ver)
	f := a.Func("", 0, 0)
	k := f.Const(SubScriptConst(9))
	f.Op(registry.OpLoadConst, k).Op(registry.OpReturn)
	payload, err := a.Payload()
	require.NoError(t, err)

	u, err := Decode(payload, ver, bcfmt.Options{})
	require.NoError(t, err)
	assert.Error(t, u.Functions[0].Err)
}

func TestScriptContainer_Zstd(t *testing.T) {
	ver := version(t, "V_77dcf97")
	data, err := sampleUnit(t, ver).Script(true)
	require.NoError(t, err)

	raw, err := script.Parse(data, 0)
	require.NoError(t, err)
	assert.True(t, raw.Compressed)
	assert.Equal(t, ver.Tag, raw.Tag)

	u, err := Decode(raw.Payload, ver, bcfmt.Options{})
	require.NoError(t, err)
	assert.Len(t, u.Functions, 2)
}

func TestAssembler_Errors(t *testing.T) {
	ver := version(t, "V_703004f")

	a := NewAssembler(ver)
	a.Func("f", 0, 0).Op(registry.OpJump, Label("nowhere"))
	_, err := a.Unit()
	assert.ErrorContains(t, err, "undefined label")

	a = NewAssembler(ver)
	a.Func("f", 0, 0).Op(registry.OpAwait)
	_, err = a.Unit()
	assert.ErrorContains(t, err, "not defined")

	a = NewAssembler(ver)
	a.Func("f", 0, 0).Op(registry.OpLoadConst)
	_, err = a.Unit()
	assert.ErrorContains(t, err, "takes 1 operands")

	a = NewAssembler(ver)
	a.Func("f", 0, 0).Builtin("no_such_fn", 0)
	_, err = a.Unit()
	assert.ErrorContains(t, err, "no_such_fn")
}

func TestListing(t *testing.T) {
	src := `
version = "V_703004f"
extends = "Node"
signals = ["hit"]

[[member]]
name = "hp"
export = true

[[func]]
name = "_ready"
args = 1
locals = 2
names = ["delta"]
constants = [10, "hello", { node_path = "UI/Label" }]
code = """
.line 2
    LOAD_LOCAL 0
    JUMP_IF_FALSE @skip     ; guard
    LOAD_CONST 1
    CALL_BUILTIN print 1
    POP
skip:
    RETURN_VOID
"""
`
	l, err := ParseListing([]byte(src))
	require.NoError(t, err)
	a, err := AssembleListing(l, registry.Default())
	require.NoError(t, err)

	u, err := a.Unit()
	require.NoError(t, err)
	assert.True(t, u.Members[0].Export())
	fn := u.Functions[0]
	require.Len(t, fn.Instructions, 6)
	assert.Equal(t, ConstNodePath, fn.Constants[2].Kind)
	assert.Equal(t, 2, fn.Instructions[0].Line)
	b, _ := fn.Instructions[3].Arg(registry.OperandBuiltin, 0)
	assert.Equal(t, "print", a.Version().Builtins[b].Name)

	_, err = ParseListing([]byte(`version = "V_703004f"` + "\nbogus = 1\n"))
	assert.ErrorContains(t, err, "bogus")
}

package emit

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gdsdecomp/internal/ast"
	"gdsdecomp/internal/bytecode"
	"gdsdecomp/internal/reconstruct"
	"gdsdecomp/internal/registry"
)

func version(t *testing.T, tag string) *registry.Version {
	t.Helper()
	ver, ok := registry.Default().ByTag(tag)
	require.True(t, ok, tag)
	return ver
}

func decompile(t *testing.T, a *bytecode.Assembler, opts reconstruct.Options) (*bytecode.Unit, []*ast.Func) {
	t.Helper()
	u, err := a.Unit()
	require.NoError(t, err)
	var out []*ast.Func
	for _, fn := range u.Functions {
		f, err := reconstruct.Reconstruct(u, fn, a.Version(), opts)
		require.NoError(t, err)
		out = append(out, f)
	}
	return u, out
}

func TestIfElseHoistsLocal(t *testing.T) {
	a := bytecode.NewAssembler(version(t, "V_c24c739"))
	f := a.Func("f", 1, 4)
	f.Op(registry.OpLoadLocal, 0).Op(registry.OpJumpIfFalse, bytecode.Label("else"))
	f.Op(registry.OpLoadNil).Op(registry.OpStoreLocal, 1).Op(registry.OpJump, bytecode.Label("end"))
	f.Label("else").Op(registry.OpLoadSelf).Op(registry.OpStoreLocal, 1)
	f.Label("end").Op(registry.OpLoadLocal, 1).Op(registry.OpReturn)

	_, funcs := decompile(t, a, reconstruct.DefaultOptions())
	want := "func f(arg0):\n" +
		"\tvar local0\n" +
		"\tif arg0:\n" +
		"\t\tlocal0 = null\n" +
		"\telse:\n" +
		"\t\tlocal0 = self\n" +
		"\treturn local0\n"
	assert.Equal(t, want, Function(funcs[0], a.Version()))
}

func TestInlineDeclaration(t *testing.T) {
	a := bytecode.NewAssembler(version(t, "V_c24c739"))
	f := a.Func("f", 0, 1)
	seven := f.Const(bytecode.IntConst(7))
	f.Op(registry.OpLoadConst, seven).Op(registry.OpStoreLocal, 0)
	f.Op(registry.OpLoadLocal, 0).Op(registry.OpLoadConst, seven).Op(registry.OpAdd).Op(registry.OpStoreLocal, 0)
	f.Op(registry.OpReturnVoid)

	_, funcs := decompile(t, a, reconstruct.DefaultOptions())
	want := "func f():\n" +
		"\tvar local0 = 7\n" +
		"\tlocal0 = local0 + 7\n"
	assert.Equal(t, want, Function(funcs[0], a.Version()))
}

func TestEmptyFunctionIsPass(t *testing.T) {
	a := bytecode.NewAssembler(version(t, "V_703004f"))
	a.Func("noop", 0, 0)
	_, funcs := decompile(t, a, reconstruct.DefaultOptions())
	assert.Equal(t, "func noop():\n\tpass\n", Function(funcs[0], a.Version()))
}

func TestTypedFor(t *testing.T) {
	a := bytecode.NewAssembler(version(t, "V_77dcf97"))
	f := a.Func("f", 1, 3).Name(2, "item")
	f.Op(registry.OpLoadLocal, 0).Op(registry.OpIterBegin, 1, 2, bytecode.Label("end"), 2)
	f.Label("body").Op(registry.OpLoadLocal, 2).Builtin("print", 1).Op(registry.OpPop)
	f.Op(registry.OpIterNext, 1, 2, bytecode.Label("body"))
	f.Label("end").Op(registry.OpReturnVoid)

	_, funcs := decompile(t, a, reconstruct.DefaultOptions())
	want := "func f(arg0):\n" +
		"\tfor item: int in arg0:\n" +
		"\t\tprint(item)\n"
	assert.Equal(t, want, Function(funcs[0], a.Version()))
}

func TestRawBlocks(t *testing.T) {
	a := bytecode.NewAssembler(version(t, "V_c24c739"))
	f := a.Func("f", 1, 1)
	f.Op(registry.OpLoadLocal, 0).Op(registry.OpJumpIfFalse, bytecode.Label("end"))
	f.Op(registry.OpLoadNil).Op(registry.OpPop)
	f.Label("end").Op(registry.OpReturnVoid)

	opts := reconstruct.DefaultOptions()
	opts.Structure = false
	_, funcs := decompile(t, a, opts)
	out := Function(funcs[0], a.Version())

	assert.True(t, strings.HasPrefix(out, "# confidence 0.00: 5 of 5 instructions not structured\n"), out)
	assert.Contains(t, out, "\t# RAW bb0 (low confidence): not structured\n")
	assert.Contains(t, out, "\t#   LOAD_LOCAL 0\n")
	assert.Contains(t, out, "\t#   goto bb")
	assert.Contains(t, out, "\t# RAW bb2 (low confidence): not structured\n")
	assert.True(t, strings.HasSuffix(out, "\tpass\n"), out)
	assert.NotContains(t, out, "\tif ")
}

// manual wraps a hand-built body for a one-argument function.
func manual(body ...ast.Node) *ast.Func {
	fn := &bytecode.Function{ArgCount: 1, LocalCount: 2}
	u := &bytecode.Unit{Extends: bytecode.NoIdent, ClassName: bytecode.NoIdent, Functions: []*bytecode.Function{fn}}
	return &ast.Func{Name: "f", Fn: fn, Unit: u, Body: &ast.Sequence{Body: body}}
}

func str(s string) *ast.Const { return &ast.Const{Value: bytecode.StringConst(s)} }
func num(v int64) *ast.Const { return &ast.Const{Value: bytecode.IntConst(v)} }
func seq(n ...ast.Node) *ast.Sequence { return &ast.Sequence{Body: n} }

func TestMatch(t *testing.T) {
	arg := &ast.Local{Slot: 0}
	f := manual(&ast.Match{
		Subject: arg,
		Arms: []ast.MatchArm{
			{Pattern: num(1), Body: seq(&ast.Return{Value: str("one")})},
			{Pattern: str("x"), Body: seq()},
		},
		Default: seq(&ast.Return{Value: str("other")}),
	})
	want := "func f(arg0):\n" +
		"\tmatch arg0:\n" +
		"\t\t1:\n" +
		"\t\t\treturn \"one\"\n" +
		"\t\t\"x\":\n" +
		"\t\t\tpass\n" +
		"\t\t_:\n" +
		"\t\t\treturn \"other\"\n"
	assert.Equal(t, want, Function(f, version(t, "V_c24c739")))
}

func TestElifChain(t *testing.T) {
	arg := &ast.Local{Slot: 0}
	eq := func(v int64) ast.Expr { return &ast.Binary{Op: registry.OpEq, L: arg, R: num(v)} }
	f := manual(&ast.If{
		Cond: eq(1),
		Then: seq(&ast.Break{}),
		Else: seq(&ast.If{
			Cond: eq(2),
			Then: seq(&ast.Continue{}),
			Else: seq(&ast.Assert{Cond: arg}),
		}),
	})
	want := "func f(arg0):\n" +
		"\tif arg0 == 1:\n" +
		"\t\tbreak\n" +
		"\telif arg0 == 2:\n" +
		"\t\tcontinue\n" +
		"\telse:\n" +
		"\t\tassert(arg0)\n"
	assert.Equal(t, want, Function(f, version(t, "V_c24c739")))
}

func TestWhileTrueAndGoto(t *testing.T) {
	f := manual(&ast.While{Body: seq(
		&ast.ExprStmt{X: &ast.Call{Kind: ast.CallSelf, Name: "tick"}},
		&ast.RawBlock{Block: 4, Reason: "goto", Succs: []int{-1}, Reachable: true},
	)})
	want := "func f(arg0):\n" +
		"\twhile true:\n" +
		"\t\ttick()\n" +
		"\t\t# RAW bb4 (low confidence): goto\n" +
		"\t\t#   goto <exit>\n"
	assert.Equal(t, want, Function(f, version(t, "V_c24c739")))
}

func TestGotoTargetsAreLabelled(t *testing.T) {
	a := bytecode.NewAssembler(version(t, "V_c24c739"))
	f := a.Func("f", 1, 4)
	f.Op(registry.OpLoadLocal, 0).Op(registry.OpJumpIfFalse, bytecode.Label("b"))
	f.Label("a").Op(registry.OpLoadSelf).Op(registry.OpPop)
	f.Op(registry.OpLoadLocal, 1).Op(registry.OpJumpIfFalse, bytecode.Label("end"))
	f.Label("b").Op(registry.OpLoadSelf).Op(registry.OpPop)
	f.Op(registry.OpLoadLocal, 2).Op(registry.OpJumpIfFalse, bytecode.Label("a"))
	f.Label("end").Op(registry.OpReturnVoid)

	_, funcs := decompile(t, a, reconstruct.DefaultOptions())
	out := Function(funcs[0], a.Version())
	assert.True(t, strings.HasPrefix(out, "# confidence "), out)
	assert.Contains(t, out, "# RAW bb1 (low confidence): goto\n")
	assert.Contains(t, out, "#   goto bb1\n")
	assert.Contains(t, out, "# bb1:\n")
	assert.Contains(t, out, "# bb2:\n")
	assert.NotContains(t, out, "# bb0:")
	assert.NotContains(t, out, "goto end")
}

func TestPrecedence(t *testing.T) {
	fn := &bytecode.Function{ArgCount: 3}
	p := newPrinter(&bytecode.Unit{}, fn, version(t, "V_77dcf97"))
	a, b, c := &ast.Local{Slot: 0}, &ast.Local{Slot: 1}, &ast.Local{Slot: 2}
	bin := func(op registry.Mnemonic, l, r ast.Expr) ast.Expr { return &ast.Binary{Op: op, L: l, R: r} }

	tests := []struct {
		e    ast.Expr
		want string
	}{
		{bin(registry.OpMul, bin(registry.OpAdd, a, b), c), "(arg0 + arg1) * arg2"},
		{bin(registry.OpAdd, a, bin(registry.OpMul, b, c)), "arg0 + arg1 * arg2"},
		{bin(registry.OpSub, bin(registry.OpSub, a, b), c), "arg0 - arg1 - arg2"},
		{bin(registry.OpSub, a, bin(registry.OpSub, b, c)), "arg0 - (arg1 - arg2)"},
		{&ast.Unary{Op: registry.OpNot, X: bin(registry.OpAnd, a, b)}, "not (arg0 and arg1)"},
		{bin(registry.OpAnd, a, &ast.Unary{Op: registry.OpNot, X: b}), "arg0 and not arg1"},
		{&ast.Unary{Op: registry.OpNeg, X: num(-1)}, "-(-1)"},
		{&ast.Attr{X: bin(registry.OpAdd, a, b), Name: "x"}, "(arg0 + arg1).x"},
		{bin(registry.OpIs, &ast.Unary{Op: registry.OpNeg, X: a}, &ast.Global{Name: "int"}), "(-arg0) is int"},
		{&ast.Index{X: &ast.Self{}, Key: bin(registry.OpAdd, a, b)}, "self[arg0 + arg1]"},
		{&ast.Call{Kind: ast.CallMethod, Recv: &ast.Member{Name: "node"}, Name: "get", Args: []ast.Expr{a, b}}, "node.get(arg0, arg1)"},
		{&ast.Dict{Keys: []ast.Expr{str("k")}, Values: []ast.Expr{&ast.Array{Elems: []ast.Expr{a, num(2)}}}}, `{"k": [arg0, 2]}`},
		{&ast.Await{X: &ast.Call{Kind: ast.CallSelf, Name: "load_async"}}, "await load_async()"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, p.expr(tc.e, precAs))
	}
}

func TestConstants(t *testing.T) {
	fn := &bytecode.Function{}
	u := &bytecode.Unit{Identifiers: []string{"helper"}, Functions: []*bytecode.Function{{Name: 0}}}
	modern := newPrinter(u, fn, version(t, "V_77dcf97"))
	old := newPrinter(u, fn, version(t, "V_8b912d1"))

	tests := []struct {
		c    bytecode.Constant
		want string
	}{
		{bytecode.NilConst(), "null"},
		{bytecode.BoolConst(true), "true"},
		{bytecode.IntConst(-12), "-12"},
		{bytecode.FloatConst(1), "1.0"},
		{bytecode.FloatConst(2.5), "2.5"},
		{bytecode.FloatConst(-3), "-3.0"},
		{bytecode.FloatConst(1e21), "1.0e+21"},
		{bytecode.FloatConst(math.Inf(1)), "INF"},
		{bytecode.FloatConst(math.NaN()), "NAN"},
		{bytecode.StringConst("a\"b\\\n\x01"), `"a\"b\\\n\u0001"`},
		{bytecode.NodePathConst("Player/Sprite"), `NodePath("Player/Sprite")`},
		{bytecode.ResourceConst("res://icon.png"), `preload("res://icon.png")`},
		{bytecode.SubScriptConst(0), "helper"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, modern.constant(tc.c), tc.want)
	}
	assert.Equal(t, "(1.0 / 0.0)", old.constant(bytecode.FloatConst(math.Inf(1))))
	assert.Equal(t, "(-1.0 / 0.0)", old.constant(bytecode.FloatConst(math.Inf(-1))))
}

func TestCallValueSyntax(t *testing.T) {
	fn := &bytecode.Function{ArgCount: 1}
	call := &ast.Call{Kind: ast.CallValue, Recv: &ast.Local{Slot: 0}, Args: []ast.Expr{num(1)}}
	assert.Equal(t, "arg0.call(1)", newPrinter(&bytecode.Unit{}, fn, version(t, "V_77dcf97")).expr(call, precAs))
	assert.Equal(t, "arg0.call_func(1)", newPrinter(&bytecode.Unit{}, fn, version(t, "V_8b912d1")).expr(call, precAs))
}

func declUnit(t *testing.T, tag string) (*bytecode.Assembler, *bytecode.Unit, []*ast.Func) {
	t.Helper()
	a := bytecode.NewAssembler(version(t, tag))
	a.Tool().Extends("Node").ClassName("Player").Signal("died")
	a.Member("speed", bytecode.MemberExport).Member("label", bytecode.MemberOnReady)
	a.Func("_ready", 0, 0)
	u, funcs := decompile(t, a, reconstruct.DefaultOptions())
	return a, u, funcs
}

func TestUnitAnnotations(t *testing.T) {
	a, u, funcs := declUnit(t, "V_77dcf97")
	want := "@tool\n" +
		"extends Node\n" +
		"class_name Player\n" +
		"\n" +
		"signal died\n" +
		"@export var speed\n" +
		"@onready var label\n" +
		"\n" +
		"func _ready():\n" +
		"\tpass\n"
	assert.Equal(t, want, Unit(u, a.Version(), funcs))
}

func TestUnitKeywords(t *testing.T) {
	a, u, funcs := declUnit(t, "V_a3f1ee5")
	out := Unit(u, a.Version(), funcs)
	assert.True(t, strings.HasPrefix(out, "tool\nextends Node\nclass_name Player\n"), out)
	assert.Contains(t, out, "\nexport var speed\n")
	assert.Contains(t, out, "\nonready var label\n")
	assert.NotContains(t, out, "@")
}

func TestUnitStub(t *testing.T) {
	a := bytecode.NewAssembler(version(t, "V_703004f"))
	a.Extends("res://base.gd")
	f := a.Func("answer", 0, 0)
	f.Op(registry.OpLoadConst, f.Const(bytecode.IntConst(42))).Op(registry.OpReturn)
	u, err := a.Unit()
	require.NoError(t, err)

	out := Unit(u, a.Version(), []*ast.Func{nil})
	assert.True(t, strings.HasPrefix(out, "extends \"res://base.gd\"\n\n"), out)
	assert.Contains(t, out, "# func answer: not decompiled\n")
	assert.Contains(t, out, "LOAD_CONST 0  ; 42\n")
	assert.True(t, strings.HasSuffix(out, "func answer():\n\tpass\n"), out)
}

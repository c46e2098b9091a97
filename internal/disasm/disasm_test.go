package disasm

import (
	"fmt"
	"strings"
	"testing"

	"gdsdecomp/internal/bytecode"
	"gdsdecomp/internal/registry"
)

func sampleUnit(t *testing.T) (*bytecode.Unit, *registry.Version) {
	t.Helper()
	ver, ok := registry.Default().ByTag("V_77dcf97")
	if !ok {
		t.Fatal("version V_77dcf97 missing")
	}
	a := bytecode.NewAssembler(ver)
	f := a.Func("_ready", 0, 2)
	f.Name(1, "speed")
	c := f.Const(bytecode.IntConst(42))
	lam := f.Const(bytecode.SubScriptConst(1))
	f.Line(3).Op(registry.OpLoadConst, c).Op(registry.OpStoreLocal, 1)
	f.Line(4).Op(registry.OpLoadLocal, 1).Builtin("print", 1).Op(registry.OpPop)
	f.Op(registry.OpLoadSelf).Op(registry.OpCallMethod, bytecode.Name("helper"), 0).Op(registry.OpPop)
	f.Op(registry.OpCallSelf, bytecode.Name("helper"), 0).Op(registry.OpPop)
	f.Op(registry.OpMakeLambda, lam).Op(registry.OpPop)
	f.Op(registry.OpJump, bytecode.Label("end"))
	f.Label("end").Op(registry.OpReturnVoid)
	a.Func("helper", 0, 0).Op(registry.OpReturnVoid)

	u, err := a.Unit()
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	return u, ver
}

func TestFormat(t *testing.T) {
	u, ver := sampleUnit(t)
	fn := u.Functions[0]
	text := Format(fn, Options{}, OperandAnnotator(u, fn, ver))

	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	if len(lines) != len(fn.Instructions) {
		t.Fatalf("got %d lines, want %d", len(lines), len(fn.Instructions))
	}
	for _, want := range []string{
		"0x00000000  LOAD_CONST 0  ; 42",
		"STORE_LOCAL 1  ; speed",
		"; print()",
		"CALL_METHOD",
		"; helper",
		"; func helper",
		"; -> #13",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("missing %q in:\n%s", want, text)
		}
	}
	if !strings.HasSuffix(lines[5], "LOAD_SELF") {
		t.Errorf("LOAD_SELF line = %q, want no annotation", lines[5])
	}
}

func TestFormatBytes(t *testing.T) {
	u, _ := sampleUnit(t)
	fn := u.Functions[0]
	text := Format(fn, Options{Bytes: true})
	want := fmt.Sprintf("0x00000000  %02x 00 00 00 00", fn.Code[0])
	if !strings.HasPrefix(text, want) {
		t.Errorf("first line = %q, want prefix %q", strings.SplitN(text, "\n", 2)[0], want)
	}
}

func TestFormatMaxSteps(t *testing.T) {
	u, _ := sampleUnit(t)
	text := Format(u.Functions[0], Options{MaxSteps: 2})
	if n := strings.Count(text, "\n"); n != 3 {
		t.Fatalf("got %d lines, want 3", n)
	}
	if !strings.Contains(text, "; ... 12 more instructions") {
		t.Errorf("missing truncation note:\n%s", text)
	}
}

func TestFormatDeterministic(t *testing.T) {
	u, ver := sampleUnit(t)
	out1 := FormatUnit(u, ver, Options{})
	out2 := FormatUnit(u, ver, Options{})
	if out1 != out2 {
		t.Error("non-deterministic output")
	}
	if !strings.Contains(out1, "helper:  ; args=0") {
		t.Errorf("missing function header:\n%s", out1)
	}
}

func TestLineAnnotator(t *testing.T) {
	u, _ := sampleUnit(t)
	fn := u.Functions[0]
	ann := LineAnnotator(fn)
	if got := Line(&fn.Instructions[0], ann); got != "LOAD_CONST 0  ; line 3" {
		t.Errorf("line 0 = %q", got)
	}
	if got := ann(&fn.Instructions[1]); got != "" {
		t.Errorf("continuation annotated: %q", got)
	}
	if got := ann(&fn.Instructions[2]); got != "line 4" {
		t.Errorf("line 2 = %q, want line 4", got)
	}
}

func TestCallEdges(t *testing.T) {
	u, ver := sampleUnit(t)
	edges := CallEdges(u, u.Functions[0], ver)
	want := []struct {
		kind, target string
		local        bool
	}{
		{KindBuiltin, "print", false},
		{KindMethod, "helper", false},
		{KindSelf, "helper", true},
		{KindLambda, "helper", true},
	}
	if len(edges) != len(want) {
		t.Fatalf("got %d edges, want %d: %+v", len(edges), len(want), edges)
	}
	for i, w := range want {
		e := edges[i]
		if e.Kind != w.kind || e.TargetName != w.target || e.Local != w.local {
			t.Errorf("edge %d = %+v, want %s %s local=%v", i, e, w.kind, w.target, w.local)
		}
	}
	if edges[0].Argc != 1 {
		t.Errorf("print argc = %d, want 1", edges[0].Argc)
	}
}

func TestRecords(t *testing.T) {
	u, ver := sampleUnit(t)
	funcs := FuncRecords("player.gdc", u)
	if len(funcs) != 2 || funcs[0].Name != "_ready" || funcs[0].Instructions != 14 {
		t.Fatalf("records = %+v", funcs)
	}
	edges := CallEdgeRecords("player.gdc", u, ver)
	if len(edges) != 4 || edges[0].FromFunc != "_ready" {
		t.Fatalf("edges = %+v", edges)
	}
}

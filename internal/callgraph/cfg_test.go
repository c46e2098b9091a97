package callgraph

import (
	"strings"
	"testing"

	"github.com/zboralski/lattice/render"

	"gdsdecomp/internal/bytecode"
	"gdsdecomp/internal/registry"
)

// sampleUnit assembles:
//
//	B0: LOAD_LOCAL 0; JUMP_IF_FALSE else   ; T -> B1, F -> B2
//	B1: CALL_SELF helper; POP; JUMP end    ; -> B3
//	B2: LOAD_CONST; CALL_BUILTIN print; POP
//	B3: RETURN_VOID
func sampleUnit(t *testing.T) (*bytecode.Unit, *registry.Version) {
	t.Helper()
	ver, ok := registry.Default().ByTag("V_c24c739")
	if !ok {
		t.Fatal("version V_c24c739 missing")
	}
	a := bytecode.NewAssembler(ver)
	f := a.Func("main", 1, 1)
	msg := f.Const(bytecode.StringConst("no"))
	f.Op(registry.OpLoadLocal, 0).Op(registry.OpJumpIfFalse, bytecode.Label("else"))
	f.Op(registry.OpCallSelf, bytecode.Name("helper"), 0).Op(registry.OpPop).Op(registry.OpJump, bytecode.Label("end"))
	f.Label("else").Op(registry.OpLoadConst, msg).Builtin("print", 1).Op(registry.OpPop)
	f.Label("end").Op(registry.OpReturnVoid)
	a.Func("helper", 0, 0).Op(registry.OpReturnVoid)

	u, err := a.Unit()
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	return u, ver
}

func TestBuildCFG_DOTOutput(t *testing.T) {
	u, ver := sampleUnit(t)
	funcs, err := Collect(u, ver)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(funcs) != 2 {
		t.Fatalf("expected 2 functions, got %d", len(funcs))
	}

	cg := BuildCFG(funcs)
	f := cg.Funcs[0]
	if f.Name != "main" {
		t.Errorf("func name = %q", f.Name)
	}
	if len(f.Blocks) != 4 {
		t.Fatalf("expected 4 blocks, got %d", len(f.Blocks))
	}

	b0 := f.Blocks[0]
	if len(b0.Calls) != 0 {
		t.Errorf("B0 calls = %+v", b0.Calls)
	}
	if len(b0.Succs) != 2 || b0.Succs[0].Cond != "T" || b0.Succs[0].BlockID != 1 || b0.Succs[1].BlockID != 2 {
		t.Errorf("B0 succs = %+v", b0.Succs)
	}

	b1 := f.Blocks[1]
	if len(b1.Calls) != 1 || b1.Calls[0].Callee != "helper" {
		t.Errorf("B1 calls = %+v", b1.Calls)
	}

	b2 := f.Blocks[2]
	if len(b2.Calls) != 1 || b2.Calls[0].Callee != "print()" {
		t.Errorf("B2 calls = %+v", b2.Calls)
	}

	b3 := f.Blocks[3]
	if !b3.Term || len(b3.Succs) != 0 {
		t.Errorf("B3 = %+v, want terminal without successors", b3)
	}

	dot := render.DOTCFG(cg, "main")
	if dot == "" {
		t.Error("expected non-empty DOT output")
	}
}

func TestBuildCallGraph(t *testing.T) {
	u, ver := sampleUnit(t)
	funcs, err := Collect(u, ver)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	cg := BuildCallGraph(funcs)

	nodes := strings.Join(cg.Nodes, ",")
	if !strings.Contains(nodes, "main") || !strings.Contains(nodes, "helper") {
		t.Errorf("nodes = %v", cg.Nodes)
	}
	want := map[string]bool{"main->helper": false, "main->print()": false}
	for _, e := range cg.Edges {
		key := e.Caller + "->" + e.Callee
		if _, ok := want[key]; !ok {
			t.Errorf("unexpected edge %s", key)
		}
		want[key] = true
	}
	for k, seen := range want {
		if !seen {
			t.Errorf("missing edge %s", k)
		}
	}

	dot := render.DOT(cg, "calls")
	if !strings.Contains(dot, "digraph") {
		t.Errorf("unexpected DOT output:\n%s", dot)
	}
}

func TestCollectSkipsBrokenFunctions(t *testing.T) {
	ver, _ := registry.Default().ByTag("V_c24c739")
	a := bytecode.NewAssembler(ver)
	a.Func("bad", 0, 0).Op(registry.OpJump, bytecode.Label("end")).Label("end").Op(registry.OpReturnVoid)
	a.Func("good", 0, 0).Op(registry.OpReturnVoid)
	u, err := a.Unit()
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	in := &u.Functions[0].Instructions[0]
	for i := range in.Operands {
		if in.Operands[i].Kind == registry.OperandJump {
			in.Operands[i].Value = 1 // inside the jump's own operand
		}
	}

	funcs, err := Collect(u, ver)
	if err == nil || !strings.Contains(err.Error(), "bad") {
		t.Errorf("err = %v, want failure naming bad", err)
	}
	if len(funcs) != 1 || funcs[0].Name != "good" {
		t.Errorf("funcs = %+v", funcs)
	}
}

package render

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gdsdecomp/internal/bytecode"
	"gdsdecomp/internal/cfg"
	"gdsdecomp/internal/disasm"
	"gdsdecomp/internal/registry"
)

func sampleRecords() ([]disasm.FuncRecord, []disasm.CallEdgeRecord) {
	funcs := []disasm.FuncRecord{
		{Unit: "player.gdc", Name: "_ready"},
		{Unit: "player.gdc", Name: "jump"},
		{Unit: "player.gdc", Name: "orphan"},
		{Unit: "enemy.gdc", Name: "_ready", Error: "truncated"},
	}
	edges := []disasm.CallEdgeRecord{
		{Unit: "player.gdc", FromFunc: "_ready", Kind: disasm.KindSelf, Target: "jump", Local: true},
		{Unit: "player.gdc", FromFunc: "_ready", Kind: disasm.KindBuiltin, Target: "print"},
		{Unit: "player.gdc", FromFunc: "jump", Kind: disasm.KindBuiltin, Target: "print"},
		{Unit: "player.gdc", FromFunc: "jump", Kind: disasm.KindValue},
		{Unit: "enemy.gdc", FromFunc: "_ready", Kind: disasm.KindMethod, Target: "queue_free"},
	}
	return funcs, edges
}

func TestCallgraphDOT(t *testing.T) {
	funcs, edges := sampleRecords()
	dot := CallgraphDOT(funcs, edges, "calls", NASA, 0)

	assert.True(t, strings.HasPrefix(dot, "digraph callgraph {"))
	assert.Contains(t, dot, "subgraph cluster_0")
	assert.Contains(t, dot, "subgraph cluster_1")
	assert.Contains(t, dot, dotID("print()")+" [label=\"print()\", shape=plaintext")
	assert.Contains(t, dot, dotID("player.gdc::_ready")+" -> "+dotID("player.gdc::jump"))
	assert.Contains(t, dot, dotID("<call_value>"))
	assert.Equal(t, dot, CallgraphDOT(funcs, edges, "calls", NASA, 0))
}

func TestCallgraphDOTMaxNodes(t *testing.T) {
	funcs, edges := sampleRecords()
	dot := CallgraphDOT(funcs, edges, "", NASA, 1)
	assert.NotContains(t, dot, dotID("player.gdc::jump")+" [")
	assert.NotContains(t, dot, "queue_free")
}

func TestComputeStats(t *testing.T) {
	funcs, edges := sampleRecords()
	s := ComputeStats(funcs, edges)
	assert.Equal(t, 4, s.TotalFunctions)
	assert.Equal(t, 1, s.FailedFuncs)
	assert.Equal(t, 2, s.Units)
	assert.Equal(t, 5, s.TotalEdges)
	assert.Equal(t, 1, s.LocalEdges)
	assert.Equal(t, 2, s.KindCounts[disasm.KindBuiltin])
	require.NotEmpty(t, s.TopCallees)
	assert.Equal(t, NameCount{"print()", 2}, s.TopCallees[0])
	require.NotEmpty(t, s.TopCallers)
	assert.Equal(t, NameCount{"player.gdc::_ready", 2}, s.TopCallers[0])
}

func TestReachability(t *testing.T) {
	funcs, edges := sampleRecords()
	entries := FindEntryPoints(funcs, edges)
	assert.Equal(t, []string{"enemy.gdc::_ready", "player.gdc::_ready", "player.gdc::orphan"}, entries)

	reach := ReachableSet(entries, edges)
	assert.True(t, reach["player.gdc::jump"])
	assert.Len(t, reach, 4)

	dot := ReachabilityDOT(funcs, edges, reach, entries, "reach", NASA)
	assert.Contains(t, dot, dotID("player.gdc::_ready")+" -> "+dotID("player.gdc::jump"))
	assert.NotContains(t, dot, "print")
}

func TestCFGDOT(t *testing.T) {
	ver, ok := registry.Default().ByTag("V_c24c739")
	require.True(t, ok)
	a := bytecode.NewAssembler(ver)
	f := a.Func("loop", 1, 1)
	f.Label("top").Op(registry.OpLoadLocal, 0).Op(registry.OpJumpIfFalse, bytecode.Label("end"))
	f.Op(registry.OpJump, bytecode.Label("top"))
	f.Label("end").Op(registry.OpReturnVoid)
	u, err := a.Unit()
	require.NoError(t, err)
	g, err := cfg.Build("loop", u.Functions[0])
	require.NoError(t, err)

	dot := CFGDOT(g, NASA)
	assert.Contains(t, dot, "bb0 -> bb1")
	assert.Contains(t, dot, "bb1 -> bb0 [color=\""+NASA.EdgeBack+"\", style=dashed]")
	assert.Contains(t, dot, "JUMP_IF_FALSE")
	assert.Contains(t, dot, ">T</font>")

	assert.Empty(t, CFGDOT(&cfg.Graph{Name: "empty"}, NASA))
}

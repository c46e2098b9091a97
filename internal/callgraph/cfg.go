package callgraph

import (
	"github.com/zboralski/lattice"

	"gdsdecomp/internal/cfg"
	"gdsdecomp/internal/disasm"
)

// BuildCFG constructs a lattice.CFGGraph from collected functions.
func BuildCFG(funcs []FuncInfo) *lattice.CFGGraph {
	cg := &lattice.CFGGraph{}
	for _, f := range funcs {
		cg.Funcs = append(cg.Funcs, BuildFuncCFG(f))
	}
	return cg
}

// BuildFuncCFG maps one function's graph to a lattice.FuncCFG. Edges to the
// virtual exit are dropped; the block is marked terminal instead.
func BuildFuncCFG(f FuncInfo) *lattice.FuncCFG {
	byIndex := make(map[int]disasm.CallEdge, len(f.CallEdges))
	for _, e := range f.CallEdges {
		byIndex[e.Index] = e
	}

	lcfg := &lattice.FuncCFG{Name: f.Name}
	if f.Graph == nil {
		return lcfg
	}
	for i := range f.Graph.Blocks {
		db := &f.Graph.Blocks[i]
		lb := &lattice.BasicBlock{
			ID:    db.ID,
			Start: db.Start,
			End:   db.End,
			Term:  db.IsTerm,
		}
		for _, s := range db.Succs {
			if s.BlockID == cfg.Exit {
				lb.Term = true
				continue
			}
			lb.Succs = append(lb.Succs, lattice.Successor{
				BlockID: s.BlockID,
				Cond:    s.Cond,
			})
		}

		for idx := db.Start; idx < db.End && idx < len(f.Graph.Insts); idx++ {
			e, ok := byIndex[f.Graph.Insts[idx].Index]
			if !ok {
				continue
			}
			name := callee(e)
			if e.TargetName == "" {
				name = "<" + e.Kind + ">"
			}
			lb.Calls = append(lb.Calls, lattice.CallSite{
				Offset: idx,
				Callee: name,
			})
		}

		lcfg.Blocks = append(lcfg.Blocks, lb)
	}
	return lcfg
}

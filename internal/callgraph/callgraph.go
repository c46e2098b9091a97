// Package callgraph converts decoded units into lattice graphs for DOT export.
package callgraph

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/zboralski/lattice"

	"gdsdecomp/internal/bytecode"
	"gdsdecomp/internal/cfg"
	"gdsdecomp/internal/disasm"
	"gdsdecomp/internal/registry"
)

// FuncInfo holds the data needed to build call graph and CFG for one function.
type FuncInfo struct {
	Name      string
	Fn        *bytecode.Function
	Graph     *cfg.Graph
	CallEdges []disasm.CallEdge
}

// Collect builds the control-flow graph and call edges of every function
// in u. Functions that failed to decode, or whose graph cannot be built,
// are left out and reported in the returned error; the rest are returned.
func Collect(u *bytecode.Unit, ver *registry.Version) ([]FuncInfo, error) {
	var (
		out  []FuncInfo
		errs *multierror.Error
	)
	for _, fn := range u.Functions {
		name := u.FuncName(fn)
		if fn.Err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", name, fn.Err))
			continue
		}
		g, err := cfg.Build(name, fn)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		out = append(out, FuncInfo{Name: name, Fn: fn, Graph: g, CallEdges: disasm.CallEdges(u, fn, ver)})
	}
	return out, errs.ErrorOrNil()
}

// BuildCallGraph constructs a lattice.Graph from collected functions.
// Each function becomes a node. Each named call site becomes an edge;
// CALL_VALUE sites have no static target and are skipped.
func BuildCallGraph(funcs []FuncInfo) *lattice.Graph {
	g := &lattice.Graph{}
	for _, f := range funcs {
		g.Nodes = append(g.Nodes, f.Name)
		for _, e := range f.CallEdges {
			if e.TargetName == "" {
				continue
			}
			g.Edges = append(g.Edges, lattice.Edge{
				Caller: f.Name,
				Callee: callee(e),
			})
		}
	}
	g.Dedup()
	return g
}

// callee names the target of e. Targets outside the unit carry their kind
// so a builtin never merges with a same-named method.
func callee(e disasm.CallEdge) string {
	if e.Local {
		return e.TargetName
	}
	switch e.Kind {
	case disasm.KindBuiltin:
		return e.TargetName + "()"
	case disasm.KindPreload:
		return "preload " + e.TargetName
	}
	return "." + e.TargetName
}

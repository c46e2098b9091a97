package disasm

import (
	"gdsdecomp/internal/bytecode"
	"gdsdecomp/internal/registry"
)

// Call edge kinds.
const (
	KindBuiltin = "builtin"
	KindMethod  = "method"
	KindSelf    = "self"
	KindValue   = "value"
	KindLambda  = "lambda"
	KindPreload = "preload"
)

// CallEdge represents a call site extracted from a function.
type CallEdge struct {
	FromPC     int    `json:"from_pc"`
	Index      int    `json:"index"` // instruction index
	Kind       string `json:"kind"`
	TargetName string `json:"target_name,omitempty"`
	Argc       int    `json:"argc,omitempty"`
	Local      bool   `json:"local,omitempty"` // target is a function of the same unit
}

// CallEdges lists the call sites of fn. CALL_SELF and MAKE_LAMBDA targets
// resolve to unit functions when the unit defines them.
func CallEdges(u *bytecode.Unit, fn *bytecode.Function, ver *registry.Version) []CallEdge {
	local := make(map[string]bool, len(u.Functions))
	for _, f := range u.Functions {
		local[u.FuncName(f)] = true
	}

	var out []CallEdge
	for i := range fn.Instructions {
		in := &fn.Instructions[i]
		e := CallEdge{FromPC: in.Offset, Index: in.Index, Argc: in.Count()}
		switch in.Op {
		case registry.OpCallBuiltin:
			idx, _ := in.Arg(registry.OperandBuiltin, 0)
			b, ok := ver.Builtin(int(idx))
			if !ok {
				continue
			}
			e.Kind, e.TargetName = KindBuiltin, b.Name
		case registry.OpCallMethod, registry.OpCallSelf:
			id, _ := in.Arg(registry.OperandIdent, 0)
			name, _ := u.Ident(id)
			e.Kind, e.TargetName = KindMethod, name
			if in.Op == registry.OpCallSelf {
				e.Kind = KindSelf
				e.Local = local[name]
			}
		case registry.OpCallValue:
			e.Kind = KindValue
		case registry.OpMakeLambda, registry.OpPreload:
			ci, _ := in.Arg(registry.OperandConst, 0)
			c, ok := fn.Constants.Get(int(ci))
			if !ok {
				continue
			}
			e.Kind, e.Argc = KindPreload, 0
			e.TargetName = c.Str
			if c.Kind == bytecode.ConstSubScript && c.Ref >= 0 && c.Ref < len(u.Functions) {
				e.Kind = KindLambda
				e.TargetName = u.FuncName(u.Functions[c.Ref])
				e.Local = true
			}
		default:
			continue
		}
		out = append(out, e)
	}
	return out
}

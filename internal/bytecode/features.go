package bytecode

import (
	"fmt"

	"gdsdecomp/internal/registry"
)

// FeatureUse is a construct in a unit that is only legal when a version
// has the named feature.
type FeatureUse struct {
	Feature registry.Feature
	Func    int // function index, -1 for unit-level declarations
	Offset  int // payload offset
	What    string
}

// FeatureUses lists every feature-dependent construct in u.
func FeatureUses(u *Unit) []FeatureUse {
	var out []FeatureUse
	if u.ClassName != NoIdent {
		out = append(out, FeatureUse{Feature: registry.FeatureClassName, Func: -1, Offset: u.ClassNameOffset,
			What: "class_name declaration"})
	}
	for i := range u.Signals {
		fu := FeatureUse{Feature: registry.FeatureSignal, Func: -1, What: fmt.Sprintf("signal %d", i)}
		if i < len(u.SignalOffsets) {
			fu.Offset = u.SignalOffsets[i]
		}
		out = append(out, fu)
	}
	for i, m := range u.Members {
		if m.OnReady() {
			out = append(out, FeatureUse{Feature: registry.FeatureOnready, Func: -1, Offset: m.Offset,
				What: fmt.Sprintf("onready member %d", i)})
		}
	}
	for _, fn := range u.Functions {
		out = append(out, FunctionFeatureUses(fn)...)
	}
	return out
}

// FunctionFeatureUses lists the feature-dependent instructions of fn.
func FunctionFeatureUses(fn *Function) []FeatureUse {
	var out []FeatureUse
	for i := range fn.Instructions {
		in := &fn.Instructions[i]
		if req := in.Spec.Requires; req != "" {
			out = append(out, FeatureUse{Feature: req, Func: fn.Index, Offset: fn.CodeOffset + in.Offset, What: string(in.Op)})
		}
		if in.Op == registry.OpIterBegin {
			if t, _ := in.Arg(registry.OperandType, 0); t != 0 {
				out = append(out, FeatureUse{Feature: registry.FeatureTypedForIn, Func: fn.Index,
					Offset: fn.CodeOffset + in.Offset, What: fmt.Sprintf("typed for-in (type %d)", t)})
			}
		}
	}
	return out
}

// Unsupported filters uses down to those ver does not allow.
func Unsupported(uses []FeatureUse, ver *registry.Version) []FeatureUse {
	var out []FeatureUse
	for _, fu := range uses {
		if !ver.Has(fu.Feature) {
			out = append(out, fu)
		}
	}
	return out
}

package disasm

import (
	"fmt"

	"gdsdecomp/internal/bytecode"
	"gdsdecomp/internal/registry"
)

// FuncRecord is one line in functions.jsonl.
type FuncRecord struct {
	Unit         string `json:"unit"`
	Index        int    `json:"index"`
	Name         string `json:"name"`
	PC           string `json:"pc"` // payload offset of the code
	Size         int    `json:"size"`
	ParamCount   int    `json:"param_count,omitempty"`
	LocalCount   int    `json:"local_count,omitempty"`
	Constants    int    `json:"constants,omitempty"`
	Instructions int    `json:"instructions"`
	Error        string `json:"error,omitempty"`
}

// CallEdgeRecord is one line in call_edges.jsonl.
type CallEdgeRecord struct {
	Unit     string `json:"unit"`
	FromFunc string `json:"from_func"`
	FromPC   string `json:"from_pc"`
	Kind     string `json:"kind"`
	Target   string `json:"target,omitempty"`
	Argc     int    `json:"argc,omitempty"`
	Local    bool   `json:"local,omitempty"`
}

// FuncRecords summarizes every function of u.
func FuncRecords(unit string, u *bytecode.Unit) []FuncRecord {
	out := make([]FuncRecord, 0, len(u.Functions))
	for _, fn := range u.Functions {
		r := FuncRecord{
			Unit:         unit,
			Index:        fn.Index,
			Name:         u.FuncName(fn),
			PC:           fmt.Sprintf("0x%x", fn.CodeOffset),
			Size:         len(fn.Code),
			ParamCount:   fn.ArgCount,
			LocalCount:   fn.LocalCount,
			Constants:    len(fn.Constants),
			Instructions: len(fn.Instructions),
		}
		if fn.Err != nil {
			r.Error = fn.Err.Error()
		}
		out = append(out, r)
	}
	return out
}

// CallEdgeRecords flattens the call edges of every function of u.
func CallEdgeRecords(unit string, u *bytecode.Unit, ver *registry.Version) []CallEdgeRecord {
	var out []CallEdgeRecord
	for _, fn := range u.Functions {
		from := u.FuncName(fn)
		for _, e := range CallEdges(u, fn, ver) {
			out = append(out, CallEdgeRecord{
				Unit:     unit,
				FromFunc: from,
				FromPC:   fmt.Sprintf("0x%x", fn.CodeOffset+e.FromPC),
				Kind:     e.Kind,
				Target:   e.TargetName,
				Argc:     e.Argc,
				Local:    e.Local,
			})
		}
	}
	return out
}

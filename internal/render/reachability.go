package render

import (
	"fmt"
	"sort"
	"strings"

	"gdsdecomp/internal/disasm"
)

// callPair is a unit-local call between two qualified functions.
type callPair struct{ from, to string }

func localCalls(edges []disasm.CallEdgeRecord) []callPair {
	var out []callPair
	for _, e := range edges {
		if e.Local && e.Target != "" {
			out = append(out, callPair{qualify(e.Unit, e.FromFunc), qualify(e.Unit, e.Target)})
		}
	}
	return out
}

// FindEntryPoints returns the qualified names of functions no function of
// the same unit calls. Engine callbacks and public methods land here.
func FindEntryPoints(funcs []disasm.FuncRecord, edges []disasm.CallEdgeRecord) []string {
	called := make(map[string]bool)
	for _, c := range localCalls(edges) {
		called[c.to] = true
	}
	var roots []string
	for _, f := range funcs {
		if q := qualify(f.Unit, f.Name); !called[q] {
			roots = append(roots, q)
		}
	}
	sort.Strings(roots)
	return roots
}

// ReachableSet returns every qualified function reachable from roots over
// unit-local calls, roots included.
func ReachableSet(roots []string, edges []disasm.CallEdgeRecord) map[string]bool {
	callees := make(map[string][]string)
	for _, c := range localCalls(edges) {
		callees[c.from] = append(callees[c.from], c.to)
	}
	seen := make(map[string]bool, len(roots))
	work := make([]string, 0, len(roots))
	visit := func(name string) {
		if !seen[name] {
			seen[name] = true
			work = append(work, name)
		}
	}
	for _, r := range roots {
		visit(r)
	}
	for i := 0; i < len(work); i++ {
		for _, next := range callees[work[i]] {
			visit(next)
		}
	}
	return seen
}

// ReachabilityDOT renders the unit-local call graph. Entry points are
// highlighted and functions outside the reachable set are tinted.
func ReachabilityDOT(funcs []disasm.FuncRecord, edges []disasm.CallEdgeRecord, reachable map[string]bool, roots []string, title string, t Theme) string {
	isRoot := make(map[string]bool, len(roots))
	for _, r := range roots {
		isRoot[r] = true
	}

	weight := make(map[callPair]int)
	for _, c := range localCalls(edges) {
		weight[c]++
	}

	var b strings.Builder
	header(&b, "reachable", "LR", title, t)

	for _, f := range funcs {
		q := qualify(f.Unit, f.Name)
		label := truncLabel(q, 60)
		switch {
		case isRoot[q]:
			fmt.Fprintf(&b, "  %s [label=%q, penwidth=1.5, color=%q];\n", dotID(q), label, t.EntryBorder)
		case !reachable[q]:
			fmt.Fprintf(&b, "  %s [label=%q, fillcolor=%q];\n", dotID(q), label, t.UnreachableFill)
		default:
			fmt.Fprintf(&b, "  %s [label=%q];\n", dotID(q), label)
		}
	}
	b.WriteByte('\n')

	keys := make([]callPair, 0, len(weight))
	for k := range weight {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].from != keys[j].from {
			return keys[i].from < keys[j].from
		}
		return keys[i].to < keys[j].to
	})
	for _, k := range keys {
		attrs := fmt.Sprintf("color=%q", t.EdgeSelf)
		if n := weight[k]; n > 1 {
			attrs += fmt.Sprintf(", penwidth=%.1f", 0.5+float64(n)*0.1)
		}
		fmt.Fprintf(&b, "  %s -> %s [%s];\n", dotID(k.from), dotID(k.to), attrs)
	}

	b.WriteString("}\n")
	return b.String()
}

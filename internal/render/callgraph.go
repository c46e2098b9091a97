package render

import (
	"fmt"
	"sort"
	"strings"

	"gdsdecomp/internal/disasm"
)

// edgeColor returns the DOT color for a call kind.
func edgeColor(kind string, t Theme) string {
	switch kind {
	case disasm.KindBuiltin:
		return t.EdgeBuiltin
	case disasm.KindSelf:
		return t.EdgeSelf
	case disasm.KindLambda:
		return t.EdgeLambda
	case disasm.KindPreload:
		return t.EdgePreload
	case disasm.KindValue:
		return t.EdgeValue
	default:
		return t.EdgeMethod
	}
}

// edgeStyle returns dot style attributes for a call kind.
func edgeStyle(kind string) string {
	switch kind {
	case disasm.KindPreload, disasm.KindLambda:
		return "dotted"
	case disasm.KindValue:
		return "dashed"
	default:
		return "solid"
	}
}

// edgeTarget returns the graph node an edge points at and whether that node
// is a function of the caller's unit.
func edgeTarget(e disasm.CallEdgeRecord) (string, bool) {
	if e.Local {
		return qualify(e.Unit, e.Target), true
	}
	switch e.Kind {
	case disasm.KindBuiltin:
		return e.Target + "()", false
	case disasm.KindPreload:
		return "preload " + e.Target, false
	case disasm.KindValue:
		return "<call_value>", false
	}
	return "." + e.Target, false
}

// CallgraphDOT renders a callgraph from functions and call edges as DOT.
// Functions are clustered by unit. Targets outside the unit (builtins,
// methods on other objects, preloads) are shown as plaintext nodes.
// maxNodes limits the number of function nodes rendered (0 = all).
func CallgraphDOT(funcs []disasm.FuncRecord, edges []disasm.CallEdgeRecord, title string, t Theme, maxNodes int) string {
	type edgeKey struct {
		from, to, kind string
	}
	dedup := make(map[edgeKey]int)
	external := make(map[string]bool)
	for _, e := range edges {
		to, local := edgeTarget(e)
		dedup[edgeKey{qualify(e.Unit, e.FromFunc), to, e.Kind}]++
		if !local {
			external[to] = true
		}
	}

	rendered := funcs
	if maxNodes > 0 && len(rendered) > maxNodes {
		rendered = rendered[:maxNodes]
	}
	funcSet := make(map[string]bool, len(rendered))
	byUnit := make(map[string][]disasm.FuncRecord)
	var units []string
	for _, f := range rendered {
		funcSet[qualify(f.Unit, f.Name)] = true
		if _, ok := byUnit[f.Unit]; !ok {
			units = append(units, f.Unit)
		}
		byUnit[f.Unit] = append(byUnit[f.Unit], f)
	}

	var b strings.Builder
	header(&b, "callgraph", "LR", title, t)

	for i, unit := range units {
		fmt.Fprintf(&b, "  subgraph cluster_%d {\n", i)
		fmt.Fprintf(&b, "    label=<<font point-size=\"8\" color=\"%s\">%s</font>>;\n",
			t.ClusterLabel, dotEscape(unit))
		fmt.Fprintf(&b, "    style=dotted; color=%q; penwidth=0.3;\n", t.ClusterBorder)
		for _, f := range byUnit[unit] {
			attrs := ""
			if f.Error != "" {
				attrs = fmt.Sprintf(", fillcolor=%q", t.UnreachableFill)
			}
			fmt.Fprintf(&b, "    %s [label=%q%s];\n", dotID(qualify(f.Unit, f.Name)), truncLabel(f.Name, 50), attrs)
		}
		b.WriteString("  }\n")
	}
	b.WriteByte('\n')

	keys := make([]edgeKey, 0, len(dedup))
	for k := range dedup {
		if funcSet[k.from] && (funcSet[k.to] || external[k.to]) {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].from != keys[j].from {
			return keys[i].from < keys[j].from
		}
		if keys[i].to != keys[j].to {
			return keys[i].to < keys[j].to
		}
		return keys[i].kind < keys[j].kind
	})

	var ext []string
	seen := make(map[string]bool)
	for _, k := range keys {
		if external[k.to] && !seen[k.to] {
			seen[k.to] = true
			ext = append(ext, k.to)
		}
	}
	sort.Strings(ext)
	for _, name := range ext {
		fmt.Fprintf(&b, "  %s [label=%q, shape=plaintext, style=\"\", fillcolor=none, fontcolor=%q, fontsize=8];\n",
			dotID(name), truncLabel(name, 50), t.ExternalText)
	}
	b.WriteByte('\n')

	for _, k := range keys {
		count := dedup[k]
		color := edgeColor(k.kind, t)
		attrs := fmt.Sprintf("color=%q, style=%q", color, edgeStyle(k.kind))
		if count > 1 {
			attrs += fmt.Sprintf(", penwidth=%.1f", 0.5+float64(count)*0.1)
			if count > 2 {
				attrs += fmt.Sprintf(", label=<<font point-size=\"7\" color=\"%s\">%dx</font>>", color, count)
			}
		}
		fmt.Fprintf(&b, "  %s -> %s [%s];\n", dotID(k.from), dotID(k.to), attrs)
	}

	b.WriteString("}\n")
	return b.String()
}

// CallgraphStats computes summary statistics from edges.
type CallgraphStats struct {
	TotalFunctions int
	FailedFuncs    int
	TotalEdges     int
	LocalEdges     int
	Units          int
	KindCounts     map[string]int
	TopCallers     []NameCount // sorted desc
	TopCallees     []NameCount // sorted desc
}

// NameCount pairs a name with a count.
type NameCount struct {
	Name  string
	Count int
}

// ComputeStats computes callgraph statistics from JSONL data.
func ComputeStats(funcs []disasm.FuncRecord, edges []disasm.CallEdgeRecord) CallgraphStats {
	stats := CallgraphStats{
		TotalFunctions: len(funcs),
		TotalEdges:     len(edges),
		KindCounts:     make(map[string]int),
	}

	units := make(map[string]bool)
	for _, f := range funcs {
		units[f.Unit] = true
		if f.Error != "" {
			stats.FailedFuncs++
		}
	}
	stats.Units = len(units)

	callerCount := make(map[string]int)
	calleeCount := make(map[string]int)
	for _, e := range edges {
		stats.KindCounts[e.Kind]++
		callerCount[qualify(e.Unit, e.FromFunc)]++
		if e.Local {
			stats.LocalEdges++
		}
		if to, _ := edgeTarget(e); e.Target != "" {
			calleeCount[to]++
		}
	}

	stats.TopCallers = topNMap(callerCount, 20)
	stats.TopCallees = topNMap(calleeCount, 20)
	return stats
}

// topNMap returns the top N entries from a map, sorted descending by count
// then by name.
func topNMap(m map[string]int, n int) []NameCount {
	entries := make([]NameCount, 0, len(m))
	for name, count := range m {
		entries = append(entries, NameCount{name, count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Name < entries[j].Name
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries
}

package render

import (
	"fmt"
	"strings"

	"gdsdecomp/internal/cfg"
	"gdsdecomp/internal/disasm"
)

// CFGDOT renders a per-function basic-block CFG as DOT.
// Each basic block is a node; edges represent control flow.
// Entry block is highlighted. Conditional edges use T/F colors, back edges
// are dashed, and unreachable blocks are tinted. Returns "" for an empty graph.
func CFGDOT(g *cfg.Graph, t Theme, annotators ...disasm.Annotator) string {
	if len(g.Blocks) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("digraph cfg {\n")
	b.WriteString("  rankdir=TB;\n")
	b.WriteString("  nodesep=0.3;\n")
	b.WriteString("  ranksep=0.4;\n")
	fmt.Fprintf(&b, "  bgcolor=%q;\n", t.Background)
	fmt.Fprintf(&b, "  node [shape=rect, style=filled, fillcolor=%q, color=%q, penwidth=0.5, fontname=\"Courier,monospace\", fontsize=8, fontcolor=%q, margin=\"0.08,0.04\"];\n",
		t.NodeFill, t.NodeBorder, t.TextColor)
	b.WriteString("  edge [penwidth=0.7, arrowsize=0.5, arrowhead=vee];\n")
	b.WriteString("  labelloc=t;\n  labeljust=l;\n")
	fmt.Fprintf(&b, "  label=<<font face=\"Helvetica Neue,Helvetica\" point-size=\"9\" color=\"%s\">%s</font>>;\n",
		t.TextColor, dotEscape(g.Name))
	b.WriteByte('\n')

	exit := false
	for _, blk := range g.Blocks {
		var lines []string
		end := min(blk.End, len(g.Insts))
		for i := blk.Start; i < end; i++ {
			lines = append(lines, dotEscape(disasm.Line(&g.Insts[i], annotators...)))
		}
		if len(lines) > 12 {
			kept := append(lines[:5:5], fmt.Sprintf("... (%d more)", len(lines)-10))
			lines = append(kept, lines[len(lines)-5:]...)
		}
		label := fmt.Sprintf("bb%d<br align=\"left\"/>", blk.ID) +
			strings.Join(lines, "<br align=\"left\"/>") + "<br align=\"left\"/>"

		attrs := ""
		if blk.IsEntry {
			attrs = fmt.Sprintf(", penwidth=1.5, color=%q", t.EntryBorder)
		}
		switch {
		case !blk.Reachable:
			attrs += fmt.Sprintf(", fillcolor=%q, style=\"filled,dashed\"", t.UnreachableFill)
		case blk.IsTerm:
			attrs += fmt.Sprintf(", fillcolor=%q", t.TermFill)
		}
		fmt.Fprintf(&b, "  bb%d [label=<%s>%s];\n", blk.ID, label, attrs)
		for _, s := range blk.Succs {
			exit = exit || s.BlockID == cfg.Exit
		}
	}
	if exit {
		fmt.Fprintf(&b, "  exit [label=\"exit\", shape=circle, fillcolor=%q, fontsize=7];\n", t.TermFill)
	}
	b.WriteByte('\n')

	for _, blk := range g.Blocks {
		from := fmt.Sprintf("bb%d", blk.ID)
		for _, s := range blk.Succs {
			to := fmt.Sprintf("bb%d", s.BlockID)
			if s.BlockID == cfg.Exit {
				to = "exit"
			}
			style := ""
			if s.Kind == cfg.EdgeBack {
				style = ", style=dashed"
			}
			switch s.Cond {
			case "T":
				fmt.Fprintf(&b, "  %s -> %s [color=%q%s, label=<<font point-size=\"7\" color=\"%s\">T</font>>];\n",
					from, to, t.EdgeTrue, style, t.EdgeTrue)
			case "F":
				fmt.Fprintf(&b, "  %s -> %s [color=%q%s, label=<<font point-size=\"7\" color=\"%s\">F</font>>];\n",
					from, to, t.EdgeFalse, style, t.EdgeFalse)
			default:
				color := t.EdgeJump
				if s.Kind == cfg.EdgeBack {
					color = t.EdgeBack
				}
				fmt.Fprintf(&b, "  %s -> %s [color=%q%s];\n", from, to, color, style)
			}
		}
	}

	b.WriteString("}\n")
	return b.String()
}

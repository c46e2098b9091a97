// Package render produces Graphviz DOT from decoded units and their
// call edge records.
package render

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")

// dotEscape escapes s for an HTML-like DOT label.
func dotEscape(s string) string { return htmlEscaper.Replace(s) }

// dotID maps a qualified name onto a bare DOT identifier. Anything outside
// [A-Za-z0-9_] is hex-escaped, so distinct names stay distinct.
func dotID(name string) string {
	var b strings.Builder
	b.Grow(len(name) + 2)
	b.WriteString("n_")
	for _, c := range name {
		if c < utf8.RuneSelf && (unicode.IsLetter(c) || unicode.IsDigit(c) || c == '_') {
			b.WriteRune(c)
			continue
		}
		fmt.Fprintf(&b, "_%04x", c)
	}
	return b.String()
}

// qualify joins a unit and function name into one graph node name.
func qualify(unit, fn string) string { return unit + "::" + fn }

// truncLabel cuts s to at most n runes, ending in "..." when cut.
func truncLabel(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-3]) + "..."
}

func header(b *strings.Builder, name, rankdir, title string, t Theme) {
	fmt.Fprintf(b, "digraph %s {\n", name)
	fmt.Fprintf(b, "  rankdir=%s;\n", rankdir)
	b.WriteString("  nodesep=0.4;\n")
	b.WriteString("  ranksep=0.6;\n")
	fmt.Fprintf(b, "  bgcolor=%q;\n", t.Background)
	fmt.Fprintf(b, "  node [shape=rect, style=filled, fillcolor=%q, color=%q, penwidth=0.5, fontname=\"Helvetica Neue,Helvetica,Arial\", fontsize=9, fontcolor=%q, height=0.3, margin=\"0.12,0.06\"];\n",
		t.NodeFill, t.NodeBorder, t.TextColor)
	b.WriteString("  edge [penwidth=0.5, arrowsize=0.5, arrowhead=vee];\n")
	if title != "" {
		b.WriteString("  labelloc=t;\n  labeljust=l;\n")
		fmt.Fprintf(b, "  label=<<font face=\"Helvetica Neue,Helvetica\" point-size=\"8\" color=\"%s\">%s</font>>;\n",
			t.TextColor, dotEscape(title))
	}
	b.WriteByte('\n')
}

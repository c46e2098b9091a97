package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"gdsdecomp/internal/decomp"
)

// Format selects the report encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCBOR Format = "cbor"
)

// ParseFormat accepts "json" or "cbor".
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatJSON, FormatCBOR:
		return f, nil
	}
	return "", fmt.Errorf("output: unknown report format %q (want json or cbor)", s)
}

// Summary counts outcomes across a run.
type Summary struct {
	Units       int            `json:"units" cbor:"units"`
	Ok          int            `json:"ok" cbor:"ok"`
	Incomplete  int            `json:"incomplete" cbor:"incomplete"`
	Failed      int            `json:"failed" cbor:"failed"`
	Funcs       int            `json:"funcs" cbor:"funcs"`
	FuncsFailed int            `json:"funcs_failed" cbor:"funcs_failed"`
	Confidence  float64        `json:"confidence" cbor:"confidence"`
	Versions    map[string]int `json:"versions,omitempty" cbor:"versions,omitempty"`
	Failures    map[string]int `json:"failures,omitempty" cbor:"failures,omitempty"`
}

// Report is everything a decompile run produced, minus the decoded units.
type Report struct {
	Summary Summary          `json:"summary" cbor:"summary"`
	Units   []*decomp.Result `json:"units" cbor:"units"`
}

// NewReport summarizes results. Unit confidence is averaged over units
// that produced output.
func NewReport(results []*decomp.Result) *Report {
	r := &Report{
		Units: results,
		Summary: Summary{
			Versions: make(map[string]int),
			Failures: make(map[string]int),
		},
	}
	s := &r.Summary
	conf, scored := 0.0, 0
	for _, u := range results {
		if u == nil {
			continue
		}
		s.Units++
		switch u.Status {
		case decomp.StatusOk:
			s.Ok++
		case decomp.StatusIncomplete:
			s.Incomplete++
		default:
			s.Failed++
		}
		if u.Version != "" {
			s.Versions[u.Version]++
		}
		if u.Failure != nil {
			s.Failures[string(u.Failure.Kind)]++
		}
		for _, f := range u.Funcs {
			s.Funcs++
			if f.Failure != nil {
				s.FuncsFailed++
				s.Failures[string(f.Failure.Kind)]++
			}
		}
		if u.Status != decomp.StatusFailed {
			conf += u.Confidence()
			scored++
		}
	}
	if scored > 0 {
		s.Confidence = conf / float64(scored)
	}
	return r
}

// ReportPath returns the report file name for f under dir.
func ReportPath(dir string, f Format) string {
	return filepath.Join(dir, "report."+string(f))
}

// WriteReport writes r as report.json or report.cbor under dir.
func WriteReport(dir string, r *Report, f Format) (string, error) {
	path := ReportPath(dir, f)
	if f == FormatJSON {
		return path, writeJSON(path, r)
	}
	data, err := cbor.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("output: encode %s: %w", path, err)
	}
	return writeFile(path, data)
}

// ReadReport loads a report written by WriteReport. The encoding is taken
// from the extension; anything other than .cbor is read as JSON.
func ReadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("output: read %s: %w", path, err)
	}
	r := &Report{}
	if strings.EqualFold(filepath.Ext(path), ".cbor") {
		err = cbor.Unmarshal(data, r)
	} else {
		err = json.Unmarshal(data, r)
	}
	if err != nil {
		return nil, fmt.Errorf("output: decode %s: %w", path, err)
	}
	return r, nil
}

// Markdown renders the report as a summary table plus one row per unit.
func Markdown(r *Report) string {
	var b strings.Builder
	s := r.Summary
	b.WriteString("# Decompilation report\n\n")
	b.WriteString("| units | ok | incomplete | failed | functions | failed functions | confidence |\n")
	b.WriteString("|---|---|---|---|---|---|---|\n")
	fmt.Fprintf(&b, "| %d | %d | %d | %d | %d | %d | %.2f |\n\n",
		s.Units, s.Ok, s.Incomplete, s.Failed, s.Funcs, s.FuncsFailed, s.Confidence)

	if len(s.Versions) > 0 {
		b.WriteString("## Versions\n\n| tag | units |\n|---|---|\n")
		for _, k := range sortedKeys(s.Versions) {
			fmt.Fprintf(&b, "| %s | %d |\n", k, s.Versions[k])
		}
		b.WriteByte('\n')
	}
	if len(s.Failures) > 0 {
		b.WriteString("## Failures\n\n| kind | count |\n|---|---|\n")
		for _, k := range sortedKeys(s.Failures) {
			fmt.Fprintf(&b, "| %s | %d |\n", k, s.Failures[k])
		}
		b.WriteByte('\n')
	}

	b.WriteString("## Units\n\n| unit | version | method | status | functions | note |\n|---|---|---|---|---|---|\n")
	for _, u := range r.Units {
		if u == nil {
			continue
		}
		note := ""
		if u.Failure != nil {
			note = u.Failure.Error()
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %d | %s |\n",
			cell(u.Name), cell(u.Version), u.Method, u.Status, len(u.Funcs), cell(note))
	}
	return b.String()
}

func cell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.ReplaceAll(s, "\n", " ")
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Package output writes decompilation results to files.
package output

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SourcePath maps a unit name to the .gd path under dir.
func SourcePath(dir, unit string) string {
	return filepath.Join(dir, UnitName(unit)+".gd")
}

// UnitName strips the extension from a unit name, keeping relative
// directories. Absolute or escaping paths reduce to the base name.
func UnitName(unit string) string {
	rel := filepath.Clean(unit)
	if filepath.IsAbs(rel) || strings.HasPrefix(rel, "..") {
		rel = filepath.Base(rel)
	}
	return strings.TrimSuffix(rel, filepath.Ext(rel))
}

// WriteSource writes decompiled source for unit and returns the path.
func WriteSource(dir, unit, src string) (string, error) {
	return writeFile(SourcePath(dir, unit), []byte(src))
}

// WriteListing writes a disassembly listing to asm/<unit>.txt.
func WriteListing(dir, unit, text string) (string, error) {
	return writeFile(filepath.Join(dir, "asm", UnitName(unit)+".txt"), []byte(text))
}

// WriteDOT writes a Graphviz file to <dir>/<name>.dot. name may contain
// path separators for directory grouping.
func WriteDOT(dir, name, dot string) (string, error) {
	return writeFile(filepath.Join(dir, name+".dot"), []byte(dot))
}

// WriteJSONL writes one JSON object per line.
func WriteJSONL[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("output: mkdir %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("output: create %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("output: encode %s: %w", path, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("output: write %s: %w", path, err)
	}
	return nil
}

func writeFile(path string, data []byte) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("output: mkdir %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("output: write %s: %w", path, err)
	}
	return path, nil
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("output: mkdir %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("output: create %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("output: encode %s: %w", path, err)
	}
	return nil
}

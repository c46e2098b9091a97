package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gdsdecomp/internal/bcfmt"
	"gdsdecomp/internal/decomp"
	"gdsdecomp/internal/detect"
	"gdsdecomp/internal/output"
)

func write(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestDefaultMatchesPipelineDefaults(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	opts, err := c.DecompOptions()
	require.NoError(t, err)

	want := decomp.DefaultOptions()
	assert.Equal(t, want.Reconstruct.Structure, opts.Reconstruct.Structure)
	assert.Equal(t, want.Reconstruct.MinMatchArms, opts.Reconstruct.MinMatchArms)
	assert.Equal(t, bcfmt.ModeBestEffort, opts.Decode.Mode)
	assert.False(t, opts.Detect.Heuristic)
	assert.Equal(t, detect.TieReport, opts.Detect.TieBreak)
	assert.Equal(t, zerolog.InfoLevel, c.LogLevel())
	assert.Equal(t, output.FormatJSON, c.ReportFormat())
}

func TestLoad(t *testing.T) {
	path := write(t, t.TempDir(), `
[detect]
heuristic = true
tie_break = "newest"
force = "V_703004f"

[decode]
mode = "strict"

[reconstruct]
structure = false
min_match_arms = 4

[output]
report = "cbor"
listing = true

[log]
level = "debug"

[run]
workers = 3
`)
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, c.Path)
	assert.Equal(t, "out", c.Output.Dir) // untouched default
	assert.True(t, c.Output.Listing)

	opts, err := c.DecompOptions()
	require.NoError(t, err)
	assert.True(t, opts.Detect.Heuristic)
	assert.Equal(t, detect.TieNewest, opts.Detect.TieBreak)
	assert.Equal(t, "V_703004f", opts.Detect.Force)
	assert.Equal(t, bcfmt.ModeStrict, opts.Decode.Mode)
	assert.False(t, opts.Reconstruct.Structure)
	assert.Equal(t, 4, opts.Reconstruct.MinMatchArms)
	assert.Equal(t, 3, opts.Workers)
	assert.Equal(t, zerolog.DebugLevel, c.LogLevel())
	assert.Equal(t, output.FormatCBOR, c.ReportFormat())
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name, body, want string
	}{
		{"unknown key", "[decode]\nmood = \"strict\"\n", "unknown keys decode.mood"},
		{"bad mode", "[decode]\nmode = \"lenient\"\n", "decode.mode"},
		{"bad tie break", "[detect]\ntie_break = \"oldest\"\n", "detect.tie_break"},
		{"bad report", "[output]\nreport = \"xml\"\n", "output.report"},
		{"bad level", "[log]\nlevel = \"loud\"\n", "log.level"},
		{"bad score", "[detect]\nmin_score = 2.0\n", "min_score"},
		{"negative workers", "[run]\nworkers = -1\n", "workers"},
		{"syntax", "[decode\n", "parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(write(t, t.TempDir(), tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestFind(t *testing.T) {
	root := t.TempDir()
	write(t, root, "[run]\nworkers = 2\n")
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))

	c, err := Find(nested)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Run.Workers)
	assert.Equal(t, filepath.Join(root, FileName), c.Path)
}

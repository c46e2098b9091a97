// Package config handles gdsdecomp.toml tool configuration.
//
// Every key is optional; missing keys keep their defaults and command-line
// flags override the file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"

	"gdsdecomp/internal/bcfmt"
	"gdsdecomp/internal/decomp"
	"gdsdecomp/internal/detect"
	"gdsdecomp/internal/output"
	"gdsdecomp/internal/reconstruct"
)

// FileName is the configuration file looked up by Find.
const FileName = "gdsdecomp.toml"

// Config represents a gdsdecomp.toml file.
type Config struct {
	Detect      Detect      `toml:"detect"`
	Decode      Decode      `toml:"decode"`
	Reconstruct Reconstruct `toml:"reconstruct"`
	Output      Output      `toml:"output"`
	Log         Log         `toml:"log"`
	Run         Run         `toml:"run"`

	// Path is the file the config was loaded from, "" for defaults.
	Path string `toml:"-"`
}

// Detect configures version detection.
type Detect struct {
	Heuristic            bool    `toml:"heuristic"`
	TieBreak             string  `toml:"tie_break"`
	MinScore             float64 `toml:"min_score"`
	ProbeMaxBytes        int     `toml:"probe_max_bytes"`
	ProbeMaxInstructions int     `toml:"probe_max_instructions"`
	Force                string  `toml:"force"`
}

// Decode configures the instruction decoder.
type Decode struct {
	Mode            string `toml:"mode"`
	MaxPayloadBytes int    `toml:"max_payload_bytes"`
	MaxSteps        int    `toml:"max_steps"`
}

// Reconstruct configures control-flow recovery.
type Reconstruct struct {
	Structure    bool `toml:"structure"`
	MinMatchArms int  `toml:"min_match_arms"`
	MaxDepth     int  `toml:"max_depth"`
	MaxBlocks    int  `toml:"max_blocks"`
}

// Output configures what decompile writes.
type Output struct {
	Dir     string `toml:"dir"`
	Report  string `toml:"report"`
	Listing bool   `toml:"listing"`
}

// Log configures logging.
type Log struct {
	Level string `toml:"level"`
}

// Run configures the worker pool.
type Run struct {
	Workers int `toml:"workers"`
}

// Default returns the built-in configuration.
func Default() *Config {
	r := reconstruct.DefaultOptions()
	return &Config{
		Detect: Detect{
			Heuristic:            false,
			TieBreak:             detect.TieReport.String(),
			MinScore:             detect.DefaultMinScore,
			ProbeMaxBytes:        detect.DefaultProbeMaxBytes,
			ProbeMaxInstructions: detect.DefaultProbeMaxInstructions,
		},
		Decode: Decode{
			Mode:            bcfmt.ModeBestEffort.String(),
			MaxPayloadBytes: bcfmt.DefaultMaxBytes,
			MaxSteps:        bcfmt.DefaultMaxSteps,
		},
		Reconstruct: Reconstruct{
			Structure:    r.Structure,
			MinMatchArms: r.MinMatchArms,
			MaxDepth:     r.MaxDepth,
			MaxBlocks:    r.MaxBlocks,
		},
		Output: Output{Dir: "out", Report: string(output.FormatJSON)},
		Log:    Log{Level: "info"},
	}
}

// Load decodes path over the defaults. Unknown keys are an error so a
// misspelled setting does not pass silently.
func Load(path string) (*Config, error) {
	c := Default()
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if undec := md.Undecoded(); len(undec) > 0 {
		keys := make([]string, len(undec))
		for i, k := range undec {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("config: %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	c.Path = path
	return c, c.Validate()
}

// Find walks up from startDir looking for gdsdecomp.toml and loads the
// first one found. With no file anywhere it returns the defaults.
func Find(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, fmt.Errorf("config: resolve %s: %w", startDir, err)
	}
	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: stat %s: %w", path, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return Default(), nil
		}
		dir = parent
	}
}

// Validate checks enumerated values and limits.
func (c *Config) Validate() error {
	if _, err := detect.ParseTieBreak(c.Detect.TieBreak); err != nil {
		return fmt.Errorf("config: detect.tie_break: %w", err)
	}
	if _, err := bcfmt.ParseMode(c.Decode.Mode); err != nil {
		return fmt.Errorf("config: decode.mode: %w", err)
	}
	if _, err := output.ParseFormat(c.Output.Report); err != nil {
		return fmt.Errorf("config: output.report: %w", err)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: log.level: %w", err)
	}
	switch {
	case c.Detect.MinScore < 0 || c.Detect.MinScore > 1:
		return fmt.Errorf("config: detect.min_score %v outside [0, 1]", c.Detect.MinScore)
	case c.Run.Workers < 0:
		return fmt.Errorf("config: run.workers %d is negative", c.Run.Workers)
	case c.Reconstruct.MinMatchArms < 0 || c.Reconstruct.MaxDepth < 0 || c.Reconstruct.MaxBlocks < 0:
		return errors.New("config: reconstruct limits must not be negative")
	}
	return nil
}

// DecompOptions converts the configuration into pipeline options. Loggers
// are left for the caller to set.
func (c *Config) DecompOptions() (decomp.Options, error) {
	if err := c.Validate(); err != nil {
		return decomp.Options{}, err
	}
	tie, _ := detect.ParseTieBreak(c.Detect.TieBreak)
	mode, _ := bcfmt.ParseMode(c.Decode.Mode)

	opts := decomp.DefaultOptions()
	opts.Detect = detect.Options{
		Heuristic:            c.Detect.Heuristic,
		TieBreak:             tie,
		MinScore:             c.Detect.MinScore,
		ProbeMaxBytes:        c.Detect.ProbeMaxBytes,
		ProbeMaxInstructions: c.Detect.ProbeMaxInstructions,
		Force:                c.Detect.Force,
		Logger:               zerolog.Nop(),
	}
	opts.Decode = bcfmt.Options{Mode: mode, MaxSteps: c.Decode.MaxSteps, MaxBytes: c.Decode.MaxPayloadBytes}
	opts.Reconstruct.Structure = c.Reconstruct.Structure
	opts.Reconstruct.MinMatchArms = c.Reconstruct.MinMatchArms
	opts.Reconstruct.MaxDepth = c.Reconstruct.MaxDepth
	opts.Reconstruct.MaxBlocks = c.Reconstruct.MaxBlocks
	opts.Workers = c.Run.Workers
	return opts, nil
}

// LogLevel returns the configured level.
func (c *Config) LogLevel() zerolog.Level {
	l, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil {
		return zerolog.InfoLevel
	}
	return l
}

// ReportFormat returns the configured report encoding.
func (c *Config) ReportFormat() output.Format {
	f, err := output.ParseFormat(c.Output.Report)
	if err != nil {
		return output.FormatJSON
	}
	return f
}

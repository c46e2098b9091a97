package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"gdsdecomp/internal/bcfmt"
	"gdsdecomp/internal/bytecode"
	"gdsdecomp/internal/decomp"
	"gdsdecomp/internal/detect"
	"gdsdecomp/internal/script"
)

// ScriptExt is the extension picked up when walking directories.
const ScriptExt = ".gdc"

// pipelineFlags override config values for commands that run the pipeline.
type pipelineFlags struct {
	heuristic   bool
	tieBreak    string
	force       string
	strict      bool
	noStructure bool
	workers     int
}

func (p *pipelineFlags) register(cmd *cobra.Command, decompiles bool) {
	f := cmd.Flags()
	f.BoolVar(&p.heuristic, "heuristic", false, "probe registered decoders when the version tag is unknown")
	f.StringVar(&p.tieBreak, "tie-break", "", "when probes tie: report or newest")
	f.StringVar(&p.force, "force", "", "decode as this version tag, skipping detection")
	f.BoolVar(&p.strict, "strict", false, "fail a unit on its first error")
	if decompiles {
		f.BoolVar(&p.noStructure, "no-structure", false, "emit every block raw")
		f.IntVar(&p.workers, "workers", 0, "units decompiled in parallel (0 = GOMAXPROCS)")
	}
}

// options merges config and changed flags.
func (a *app) options(cmd *cobra.Command, p *pipelineFlags) (decomp.Options, error) {
	opts, err := a.cfg.DecompOptions()
	if err != nil {
		return opts, err
	}
	f := cmd.Flags()
	if f.Changed("heuristic") {
		opts.Detect.Heuristic = p.heuristic
	}
	if f.Changed("tie-break") {
		if opts.Detect.TieBreak, err = detect.ParseTieBreak(p.tieBreak); err != nil {
			return opts, fmt.Errorf("--tie-break: %w", err)
		}
	}
	if f.Changed("force") {
		opts.Detect.Force = p.force
	}
	if f.Changed("strict") && p.strict {
		opts.Decode.Mode = bcfmt.ModeStrict
	}
	if f.Changed("no-structure") && p.noStructure {
		opts.Reconstruct.Structure = false
	}
	if f.Changed("workers") {
		opts.Workers = p.workers
	}
	opts.Detect.Logger = a.log
	opts.Reconstruct.Logger = a.log
	return opts, nil
}

// collectInputs reads every named file, and every *.gdc below named
// directories. Unit names are paths relative to the directory argument.
func collectInputs(args []string) ([]decomp.Input, error) {
	var inputs []decomp.Input
	for _, arg := range args {
		st, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !st.IsDir() {
			data, err := os.ReadFile(arg)
			if err != nil {
				return nil, err
			}
			inputs = append(inputs, decomp.Input{Name: filepath.Base(arg), Data: data})
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ScriptExt) {
				return nil
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(arg, path)
			if err != nil {
				return err
			}
			inputs = append(inputs, decomp.Input{Name: rel, Data: data})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", arg, err)
		}
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("no %s files found", ScriptExt)
	}
	return inputs, nil
}

// decoded is a unit taken as far as the decoder.
type decoded struct {
	name string
	raw  *script.Raw
	det  *detect.Detection
	unit *bytecode.Unit
	err  error // decode error; unit still holds the decoded prefix
}

// decode runs container parsing, detection and decoding on one input.
// Errors before decoding are returned; a decode error is kept on the result.
func (a *app) decode(in decomp.Input, opts decomp.Options) (*decoded, error) {
	raw, err := script.Parse(in.Data, opts.Decode.EffectiveMaxBytes())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", in.Name, err)
	}
	det, err := detect.Detect(raw, a.reg, opts.Detect)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", in.Name, err)
	}
	u, err := bytecode.Decode(raw.Payload, det.Version, opts.Decode)
	if err != nil {
		a.log.Warn().Err(err).Str("unit", in.Name).Msg("decode incomplete")
	}
	return &decoded{name: in.Name, raw: raw, det: det, unit: u, err: err}, nil
}

func statusText(s decomp.Status) string {
	switch s {
	case decomp.StatusOk:
		return color.GreenString("%-10s", s)
	case decomp.StatusIncomplete:
		return color.YellowString("%-10s", s)
	}
	return color.RedString("%-10s", s)
}

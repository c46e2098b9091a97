package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"gdsdecomp/internal/decomp"
	"gdsdecomp/internal/disasm"
	"gdsdecomp/internal/output"
)

func (a *app) decompileCmd() *cobra.Command {
	var (
		p       pipelineFlags
		outDir  string
		report  string
		listing bool
	)
	cmd := &cobra.Command{
		Use:   "decompile <file|dir>...",
		Short: "Decompile scripts to .gd source with a report",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := a.options(cmd, &p)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("out") {
				outDir = a.cfg.Output.Dir
			}
			format := a.cfg.ReportFormat()
			if cmd.Flags().Changed("report") {
				if format, err = output.ParseFormat(report); err != nil {
					return err
				}
			}
			if !cmd.Flags().Changed("listing") {
				listing = a.cfg.Output.Listing
			}

			inputs, err := collectInputs(args)
			if err != nil {
				return err
			}
			a.progress("decompiling %d units into %s", len(inputs), outDir)

			results := decomp.New(a.reg, opts, a.log).DecompileAll(cmd.Context(), inputs)
			for _, r := range results {
				if err := a.writeUnit(r, outDir, listing); err != nil {
					return err
				}
			}

			rep := output.NewReport(results)
			path, err := output.WriteReport(outDir, rep, format)
			if err != nil {
				return err
			}
			s := rep.Summary
			a.progress("%d ok, %d incomplete, %d failed, confidence %.2f, report %s",
				s.Ok, s.Incomplete, s.Failed, s.Confidence, path)
			if s.Failed > 0 {
				return fmt.Errorf("%d of %d units failed", s.Failed, s.Units)
			}
			return nil
		},
	}
	p.register(cmd, true)
	f := cmd.Flags()
	f.StringVarP(&outDir, "out", "o", "out", "output directory")
	f.StringVar(&report, "report", "json", "report format: json or cbor")
	f.BoolVar(&listing, "listing", false, "also write disassembly listings under asm/")
	return cmd
}

// writeUnit writes the unit's source and listing and prints its status.
func (a *app) writeUnit(r *decomp.Result, outDir string, listing bool) error {
	dim := color.New(color.Faint).SprintFunc()
	line := fmt.Sprintf("%s %s", statusText(r.Status), r.Name)
	if r.Version != "" {
		line += dim(fmt.Sprintf("  %s %s", r.Version, r.Method))
	}
	if r.Status != decomp.StatusFailed {
		line += dim(fmt.Sprintf("  conf %.2f", r.Confidence()))
	}
	a.progress("%s", line)

	if r.Failure != nil {
		a.progress("    %s", color.RedString("%v", r.Failure))
	}
	for _, f := range r.Funcs {
		if f.Failure != nil {
			a.progress("    %s", color.YellowString("%v", f.Failure))
		}
	}

	if r.Source != "" {
		if _, err := output.WriteSource(outDir, r.Name, r.Source); err != nil {
			return err
		}
	}
	if listing && r.Unit != nil && r.Ver != nil {
		if _, err := output.WriteListing(outDir, r.Name, disasm.FormatUnit(r.Unit, r.Ver, disasm.Options{})); err != nil {
			return err
		}
	}
	return nil
}

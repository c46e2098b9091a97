package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"gdsdecomp/internal/disasm"
	"gdsdecomp/internal/output"
)

func (a *app) disasmCmd() *cobra.Command {
	var (
		p        pipelineFlags
		outDir   string
		maxSteps int
		bytes    bool
	)
	cmd := &cobra.Command{
		Use:   "disasm <file|dir>...",
		Short: "Print annotated instruction listings",
		Long: "Print annotated instruction listings. With --out, listings go to asm/<unit>.txt\n" +
			"and functions.jsonl and call_edges.jsonl are written alongside.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := a.options(cmd, &p)
			if err != nil {
				return err
			}
			inputs, err := collectInputs(args)
			if err != nil {
				return err
			}
			lopts := disasm.Options{MaxSteps: maxSteps, Bytes: bytes}

			var (
				funcs []disasm.FuncRecord
				edges []disasm.CallEdgeRecord
			)
			for _, in := range inputs {
				d, err := a.decode(in, opts)
				if err != nil {
					return err
				}
				ver := d.det.Version
				text := disasm.FormatUnit(d.unit, ver, lopts)
				if d.err != nil {
					text += fmt.Sprintf("; error: %v\n", d.err)
				}
				if outDir == "" {
					fmt.Fprintf(a.stdout, "; %s\n%s\n", d.name, text)
					continue
				}
				if _, err := output.WriteListing(outDir, d.name, text); err != nil {
					return err
				}
				funcs = append(funcs, disasm.FuncRecords(d.name, d.unit)...)
				edges = append(edges, disasm.CallEdgeRecords(d.name, d.unit, ver)...)
			}
			if outDir == "" {
				return nil
			}

			if err := output.WriteJSONL(filepath.Join(outDir, "functions.jsonl"), funcs); err != nil {
				return err
			}
			if err := output.WriteJSONL(filepath.Join(outDir, "call_edges.jsonl"), edges); err != nil {
				return err
			}
			a.progress("disasm: %d units, %d functions, %d call edges -> %s", len(inputs), len(funcs), len(edges), outDir)
			return nil
		},
	}
	p.register(cmd, false)
	f := cmd.Flags()
	f.StringVarP(&outDir, "out", "o", "", "write listings and JSONL records here instead of stdout")
	f.IntVar(&maxSteps, "max", 0, "maximum instructions listed per function (0 = all)")
	f.BoolVar(&bytes, "bytes", false, "include raw instruction bytes")
	return cmd
}

package main

import (
	"path/filepath"

	"github.com/spf13/cobra"
	lrender "github.com/zboralski/lattice/render"

	"gdsdecomp/internal/callgraph"
	"gdsdecomp/internal/disasm"
	"gdsdecomp/internal/output"
	"gdsdecomp/internal/render"
)

func (a *app) graphCmd() *cobra.Command {
	var (
		p        pipelineFlags
		outDir   string
		maxNodes int
	)
	cmd := &cobra.Command{
		Use:   "graph <file|dir>...",
		Short: "Export control-flow and call graphs as Graphviz DOT",
		Long: "Export DOT graphs. Per unit: <unit>/cfg/<func>.dot (annotated blocks),\n" +
			"<unit>/cfg.dot and <unit>/callgraph.dot. Across units: callgraph.dot and reachable.dot.",
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

			var (
				funcs []disasm.FuncRecord
				edges []disasm.CallEdgeRecord
				files int
			)
			write := func(name, dot string) error {
				if dot == "" {
					return nil
				}
				files++
				_, err := output.WriteDOT(outDir, name, dot)
				return err
			}

			for _, in := range inputs {
				d, err := a.decode(in, opts)
				if err != nil {
					return err
				}
				ver := d.det.Version
				base := output.UnitName(d.name)

				infos, err := callgraph.Collect(d.unit, ver)
				if err != nil {
					a.log.Warn().Err(err).Str("unit", d.name).Msg("some functions have no graph")
				}
				for _, fi := range infos {
					dot := render.CFGDOT(fi.Graph, render.NASA, disasm.OperandAnnotator(d.unit, fi.Fn, ver))
					if err := write(filepath.Join(base, "cfg", fi.Name), dot); err != nil {
						return err
					}
				}
				if len(infos) > 0 {
					if err := write(filepath.Join(base, "cfg"), lrender.DOTCFG(callgraph.BuildCFG(infos), d.name)); err != nil {
						return err
					}
					if err := write(filepath.Join(base, "callgraph"), lrender.DOT(callgraph.BuildCallGraph(infos), d.name)); err != nil {
						return err
					}
				}
				funcs = append(funcs, disasm.FuncRecords(d.name, d.unit)...)
				edges = append(edges, disasm.CallEdgeRecords(d.name, d.unit, ver)...)
			}

			if err := write("callgraph", render.CallgraphDOT(funcs, edges, "call graph", render.NASA, maxNodes)); err != nil {
				return err
			}
			entries := render.FindEntryPoints(funcs, edges)
			reach := render.ReachableSet(entries, edges)
			if err := write("reachable", render.ReachabilityDOT(funcs, edges, reach, entries, "unit-local calls", render.NASA)); err != nil {
				return err
			}

			stats := render.ComputeStats(funcs, edges)
			a.progress("graph: %d units, %d functions, %d call edges (%d local), %d entry points, %d files -> %s",
				stats.Units, stats.TotalFunctions, stats.TotalEdges, stats.LocalEdges, len(entries), files, outDir)
			for _, c := range stats.TopCallees {
				a.log.Debug().Str("callee", c.Name).Int("calls", c.Count).Msg("top callee")
			}
			return nil
		},
	}
	p.register(cmd, false)
	f := cmd.Flags()
	f.StringVarP(&outDir, "out", "o", "graphs", "output directory")
	f.IntVar(&maxNodes, "max-nodes", 0, "limit functions in the combined call graph (0 = all)")
	return cmd
}

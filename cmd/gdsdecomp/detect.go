package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"gdsdecomp/internal/detect"
	"gdsdecomp/internal/script"
)

func (a *app) detectCmd() *cobra.Command {
	var p pipelineFlags
	cmd := &cobra.Command{
		Use:   "detect <file|dir>...",
		Short: "Identify the bytecode version of each script",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := a.options(cmd, &p)
			if err != nil {
				return err
			}
			inputs, err := collectInputs(args)
			if err != nil {
				return err
			}
			failed := 0
			for _, in := range inputs {
				raw, err := script.Parse(in.Data, opts.Decode.EffectiveMaxBytes())
				if err != nil {
					failed++
					fmt.Fprintf(a.stdout, "%s\t%s\n", in.Name, color.RedString("%v", err))
					continue
				}
				det, err := detect.Detect(raw, a.reg, opts.Detect)
				if err != nil {
					failed++
					fmt.Fprintf(a.stdout, "%s\t%s\t%s\n", in.Name, raw.Tag, color.RedString("%v", err))
				} else {
					v := det.Version
					fmt.Fprintf(a.stdout, "%s\t%s\t%s\tbytecode %d\t%s\n", in.Name, color.GreenString(v.Tag), det.Method, v.Format, v.Name)
				}
				if det != nil {
					for _, c := range det.Candidates {
						fmt.Fprintf(a.stdout, "\t%s\tscore %.2f (%d/%d)\n", c.Version.Tag, c.Score, c.Valid, c.Attempted)
					}
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d scripts not identified", failed, len(inputs))
			}
			return nil
		},
	}
	p.register(cmd, false)
	return cmd
}

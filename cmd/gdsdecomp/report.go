package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"gdsdecomp/internal/output"
)

func (a *app) reportCmd() *cobra.Command {
	var in, out string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize a decompile report as markdown",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if in == "" {
				in = output.ReportPath(a.cfg.Output.Dir, a.cfg.ReportFormat())
			}
			r, err := output.ReadReport(in)
			if err != nil {
				return err
			}
			md := output.Markdown(r)
			if out == "" {
				_, err = fmt.Fprint(a.stdout, md)
				return err
			}
			return os.WriteFile(out, []byte(md), 0644)
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "report file (.json or .cbor; default: from config)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write markdown here instead of stdout")
	return cmd
}

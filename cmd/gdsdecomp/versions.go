package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func (a *app) versionsCmd() *cobra.Command {
	var (
		groups   bool
		features bool
	)
	cmd := &cobra.Command{
		Use:   "versions",
		Short: "List registered bytecode versions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			if groups {
				for i, g := range a.reg.EncodingGroups() {
					tags := make([]string, len(g))
					for j, v := range g {
						tags[j] = v.Tag
					}
					fmt.Fprintf(tw, "%s\t%016x\t%s\n", color.CyanString("group %d", i), g[0].Fingerprint, strings.Join(tags, " "))
				}
				return tw.Flush()
			}

			fmt.Fprintln(tw, "TAG\tDATE\tBYTECODE\tENGINE\tNAME")
			for _, v := range a.reg.Versions() {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", v.Tag, v.Date, v.Format, v.Engine, v.Name)
				if features {
					fs := v.Features()
					names := make([]string, len(fs))
					for i, f := range fs {
						names[i] = string(f)
					}
					fmt.Fprintf(tw, "\t\t\t\t%s\n", color.New(color.Faint).Sprint(strings.Join(names, ", ")))
				}
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&groups, "groups", false, "show versions grouped by encoding fingerprint")
	cmd.Flags().BoolVar(&features, "features", false, "show language features per version")
	return cmd
}

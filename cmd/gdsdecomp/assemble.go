package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"gdsdecomp/internal/bytecode"
)

func (a *app) assembleCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "assemble <listing.toml>",
		Short: "Build a compiled script from a TOML listing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			l, err := bytecode.ParseListing(data)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			asm, err := bytecode.AssembleListing(l, a.reg)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			bin, err := asm.Script(l.Compress)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			if out == "" {
				out = strings.TrimSuffix(args[0], ".toml") + ScriptExt
			}
			if err := os.WriteFile(out, bin, 0644); err != nil {
				return err
			}
			a.progress("assembled %s (%s, %d bytes)", out, l.Version, len(bin))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default: listing name with "+ScriptExt+")")
	return cmd
}

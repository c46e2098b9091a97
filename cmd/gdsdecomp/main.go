package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"gdsdecomp/internal/config"
	"gdsdecomp/internal/registry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.New(color.FgRed, color.Bold).Sprint("error:"), err)
		os.Exit(1)
	}
}

// app carries what every subcommand shares once flags are parsed.
type app struct {
	stdout, stderr io.Writer
	reg            *registry.Registry
	cfg            *config.Config
	log            zerolog.Logger

	configPath string
	logLevel   string
	noColor    bool
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr, reg: registry.Default(), log: zerolog.Nop()}
	root := &cobra.Command{
		Use:           "gdsdecomp",
		Short:         "Decompile compiled GDScript bytecode back to source",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (default: "+config.FileName+" in . or a parent)")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	pf.BoolVar(&a.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		a.decompileCmd(),
		a.detectCmd(),
		a.disasmCmd(),
		a.versionsCmd(),
		a.graphCmd(),
		a.assembleCmd(),
		a.reportCmd(),
	)
	return root
}

func (a *app) setup() error {
	var err error
	if a.configPath != "" {
		a.cfg, err = config.Load(a.configPath)
	} else {
		a.cfg, err = config.Find(".")
	}
	if err != nil {
		return err
	}

	level := a.cfg.LogLevel()
	if a.logLevel != "" {
		if level, err = zerolog.ParseLevel(a.logLevel); err != nil {
			return fmt.Errorf("--log-level: %w", err)
		}
	}
	if a.noColor || os.Getenv("NO_COLOR") != "" {
		color.NoColor = true
	}
	a.log = zerolog.New(zerolog.ConsoleWriter{Out: a.stderr, NoColor: color.NoColor, TimeFormat: "15:04:05"}).
		Level(level).With().Timestamp().Logger()
	if a.cfg.Path != "" {
		a.log.Debug().Str("path", a.cfg.Path).Msg("config loaded")
	}
	return nil
}

// progress writes a human status line to stderr.
func (a *app) progress(format string, args ...any) {
	fmt.Fprintf(a.stderr, format+"\n", args...)
}

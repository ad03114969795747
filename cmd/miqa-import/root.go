package main

import (
	"io"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath  string
	dotEnv      string
	verbose     bool
	metricsAddr string
	trace       bool

	stderr io.Writer
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{stderr: stderr}
	root := &cobra.Command{
		Use:           "miqa-import",
		Short:         "Convert and track MIQA import files",
		Long:          "miqa-import converts legacy check_new_sessions CSV tables into MIQA import files and back,\nchecks and compares them, and records which sessions were queued for quality control.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return usageErrorf("missing command")
			}
			return usageErrorf("unknown command %q", args[0])
		},
	}
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usageError{err: err} })

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "path to the YAML configuration file")
	pf.StringVar(&opts.dotEnv, "env-file", "", "dotenv file loaded before environment overrides (default .env)")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	pf.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	pf.BoolVar(&opts.trace, "trace", false, "write operation spans as JSON lines to stderr")

	root.AddCommand(
		newConvertCmd(opts),
		newExportCmd(opts),
		newCheckCmd(opts),
		newCompareCmd(opts),
		newQueueCmd(opts),
		newCollectCmd(opts),
		newLinkCmd(opts),
		newStudyIDsCmd(opts),
	)
	return root
}

// argsBetween validates positional counts and reports failures as usage errors.
func argsBetween(min, max int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.RangeArgs(min, max)(cmd, args); err != nil {
			return usageError{err: err}
		}
		return nil
	}
}

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"imagingqc/internal/app"
	"imagingqc/pkg/miqa"
)

// withRuntime opens a runtime around fn and closes it afterwards.
func withRuntime(cmd *cobra.Command, opts *rootOptions, withLedger bool, fn func(*runtime) error) (err error) {
	rt, err := setup(cmd.Context(), opts, withLedger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(rt)
}

func newConvertCmd(opts *rootOptions) *cobra.Command {
	var fromStdin bool
	cmd := &cobra.Command{
		Use:   "convert [SESSIONS.csv] IMPORT.json",
		Short: "Convert a legacy sessions CSV into an import file",
		Long:  "Convert a legacy check_new_sessions CSV into an import file. With --stdin the\nunparsed CSV lines, header first, are read from standard input.",
		Args:  argsBetween(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if fromStdin != (len(args) == 1) {
				return usageErrorf("convert takes SESSIONS.csv and IMPORT.json, or --stdin and IMPORT.json")
			}
			return withRuntime(cmd, opts, false, func(rt *runtime) error {
				var (
					res app.ConvertResult
					err error
				)
				dst := rt.locate(args[len(args)-1])
				if fromStdin {
					rows, rerr := readLines(cmd.InOrStdin())
					if rerr != nil {
						return rerr
					}
					res, err = rt.svc.ConvertRows(cmd.Context(), rows, dst)
				} else {
					res, err = rt.svc.ConvertLegacy(cmd.Context(), rt.locate(args[0]), dst)
				}
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s: %d experiments, %d scans\n", dst, res.Experiments, res.Scans)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&fromStdin, "stdin", false, "read raw CSV lines from standard input")
	return cmd
}

func readLines(r io.Reader) (miqa.RawRows, error) {
	var rows miqa.RawRows
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		rows = append(rows, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	return rows, nil
}

func newExportCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "export IMPORT.json SESSIONS.csv",
		Short: "Flatten an import file into a legacy sessions CSV",
		Args:  argsBetween(2, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, false, func(rt *runtime) error {
				dst := rt.locate(args[1])
				n, err := rt.svc.ExportLegacy(cmd.Context(), rt.locate(args[0]), dst)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s: %d rows\n", dst, n)
				return err
			})
		},
	}
}

func newCheckCmd(opts *rootOptions) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "check [IMPORT.json...]",
		Short: "Validate import files and summarize their decisions",
		Long:  "Validate import files and summarize their decisions. With --all every *.json file\nin the given directories (default the imports directory) is checked.",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, false, func(rt *runtime) error {
				var reps []app.CheckReport
				switch {
				case all:
					dirs := args
					if len(dirs) == 0 {
						dirs = []string{""}
					}
					for _, d := range dirs {
						found, err := rt.svc.CheckAll(cmd.Context(), rt.directory(d))
						if err != nil {
							return err
						}
						if len(found) == 0 {
							fmt.Fprintf(cmd.OutOrStdout(), "no import files in %s\n", rt.directory(d))
						}
						reps = append(reps, found...)
					}
				default:
					if len(args) == 0 {
						args = []string{rt.cfg.Imports.FileName}
					}
					for _, a := range args {
						rep, err := rt.svc.Check(cmd.Context(), rt.locate(a))
						if err != nil {
							return err
						}
						reps = append(reps, rep)
					}
				}
				if !printChecks(cmd.OutOrStdout(), reps) {
					return errReported
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "check every import file in the given directories")
	return cmd
}

// printChecks writes one block per report and reports whether all were valid.
func printChecks(out io.Writer, reps []app.CheckReport) bool {
	ok := true
	for _, rep := range reps {
		if !rep.Valid {
			ok = false
			fmt.Fprintf(out, "INVALID %s: %s\n", rep.Location, rep.Problem)
			continue
		}
		fmt.Fprintf(out, "OK %s: %d experiments, %d scans (%s)\n", rep.Location, rep.Experiments, rep.Scans, decisionSummary(rep.Decisions))
		for _, site := range sortedKeys(rep.Sites) {
			name := site
			if name == "" {
				name = "(unknown)"
			}
			fmt.Fprintf(out, "  site %s: %d\n", name, rep.Sites[site])
		}
	}
	return ok
}

func decisionSummary(counts map[miqa.Decision]int) string {
	parts := make([]string, 0, 3)
	for _, d := range []miqa.Decision{miqa.DecisionApproved, miqa.DecisionRejected, miqa.DecisionUndecided} {
		parts = append(parts, fmt.Sprintf("%s %d", d.Label(), counts[d]))
	}
	return strings.Join(parts, ", ")
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func newCompareCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "compare SESSIONS.csv IMPORT.json",
		Short: "Check that a legacy CSV and an import file hold the same sessions",
		Args:  argsBetween(2, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, false, func(rt *runtime) error {
				rep, err := rt.svc.Compare(cmd.Context(), rt.locate(args[0]), rt.locate(args[1]))
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if rep.Equivalent() {
					_, err := fmt.Fprintf(out, "equivalent: %d rows\n", rep.LegacyRows)
					return err
				}
				fmt.Fprintf(out, "different: %d legacy rows, %d import rows, %d differences\n", rep.LegacyRows, rep.ImportRows, len(rep.Differences))
				for i, d := range rep.Differences {
					if limit > 0 && i == limit {
						fmt.Fprintf(out, "  ... %d more\n", len(rep.Differences)-limit)
						break
					}
					fmt.Fprintf(out, "  %s\n", d)
				}
				return errReported
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum differences to print (0 prints all)")
	return cmd
}

func newQueueCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "queue SESSIONS.csv [IMPORT.json]",
		Short: "Write the sessions not yet queued to an import file and record them",
		Args:  argsBetween(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, true, func(rt *runtime) error {
				dst := rt.locateOr(args, 1)
				res, err := rt.svc.Queue(cmd.Context(), rt.locate(args[0]), dst)
				if err != nil {
					return err
				}
				if !res.Written {
					_, err := fmt.Fprintf(cmd.OutOrStdout(), "nothing new: all %d scans already queued\n", res.Candidates)
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "queued batch %s: %d experiments, %d of %d scans -> %s\n",
					res.Batch.ID, res.Pending.Experiments, res.Pending.Scans, res.Candidates, dst)
				return err
			})
		},
	}
}

func newCollectCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "collect [IMPORT.json]",
		Short: "Record reviewer decisions from an import file in the ledger",
		Args:  argsBetween(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, true, func(rt *runtime) error {
				src := rt.locateOr(args, 0)
				sum, err := rt.svc.Collect(cmd.Context(), src)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "collected %s: %d updated, %d unchanged, %d not queued\n",
					src, sum.Updated, sum.Unchanged, sum.Skipped)
				return err
			})
		},
	}
}

func newLinkCmd(opts *rootOptions) *cobra.Command {
	var expiry time.Duration
	cmd := &cobra.Command{
		Use:   "link [IMPORT.json]",
		Short: "Print a time-limited URL for an import file in the shared store",
		Args:  argsBetween(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if expiry <= 0 {
				return usageErrorf("--expiry must be positive")
			}
			return withRuntime(cmd, opts, false, func(rt *runtime) error {
				u, err := rt.svc.Link(cmd.Context(), rt.locateOr(args, 0), expiry)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), u)
				return err
			})
		},
	}
	cmd.Flags().DurationVar(&expiry, "expiry", 15*time.Minute, "how long the URL stays valid")
	return cmd
}

func newStudyIDsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "study-ids [FILE...]",
		Short: "Print the unique study ids found in text files or standard input",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var text strings.Builder
			if len(args) == 0 {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				text.Write(b)
			}
			for _, a := range args {
				b, err := os.ReadFile(a)
				if err != nil {
					return err
				}
				text.Write(b)
				text.WriteByte('\n')
			}
			out := cmd.OutOrStdout()
			for _, id := range miqa.ExtractStudyIDs(text.String()) {
				if _, err := fmt.Fprintln(out, id); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

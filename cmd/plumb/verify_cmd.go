package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"chemplumb/internal/archive"
	"chemplumb/internal/solver"
	"chemplumb/internal/verify"
)

func newVerifyCmd(root *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Run the forward and backward checks over the archived reactions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := root.load()
			if err != nil {
				return err
			}
			defer e.close()

			store, err := archive.Open(cmd.Context(), e.cfg.Archive, e.cfg.Blob)
			if err != nil {
				return err
			}
			defer closeStore(e, store)
			a, err := store.Load(cmd.Context())
			if err != nil {
				return err
			}

			vc := e.cfg.Verify
			checker := verify.NewChecker(solver.New(),
				verify.WithLogger(e.logger.Named("verify")),
				verify.WithWorkers(vc.Workers),
				verify.WithTimeout(vc.Timeout),
				verify.WithTolerance(vc.Tolerance),
				verify.WithObserver(e.metrics),
			)
			rep, err := checker.Run(cmd.Context(), a.Reactions, a.Summaries, a.SamplingSpace)
			if err != nil {
				return err
			}
			e.metrics.ObserveVerification(rep)
			if err := e.flushMetrics(); err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(rep); err != nil {
					return err
				}
			} else {
				printReport(cmd.OutOrStdout(), a.Metadata, rep)
			}

			if n := rep.ForwardMismatches(); n > 0 {
				return &exitError{code: exitForwardMismatch, err: fmt.Errorf("%s failed the forward check", plural(n, "reaction"))}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full report as JSON")
	return cmd
}

func printReport(w io.Writer, md archive.Metadata, rep verify.Report) {
	fmt.Fprintf(w, "archive %s (%s)\n", md.RunID, md.Created.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "checked %s\n", plural(len(rep.Reactions), "reaction"))
	fmt.Fprintf(w, "  forward:  %s\n", counts(rep.Forward))
	fmt.Fprintf(w, "  backward: %s\n", counts(rep.Backward))
	for _, rr := range rep.Reactions {
		switch {
		case rr.Forward.Status == verify.StatusMismatch:
			fmt.Fprintf(w, "  %s: forward mismatch on %s\n", rr.Reaction, plural(len(rr.Forward.Mismatches), "identifier"))
		case rr.Backward.Status != verify.StatusOK:
			fmt.Fprintf(w, "  %s: backward %s %s\n", rr.Reaction, rr.Backward.Status, rr.Backward.Reason)
		}
	}
}

func counts(m map[verify.Status]int) string {
	if len(m) == 0 {
		return "none"
	}
	parts := make([]string, 0, len(m))
	for k, v := range m {
		parts = append(parts, fmt.Sprintf("%s=%d", k, v))
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}

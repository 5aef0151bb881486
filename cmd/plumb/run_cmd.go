package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"chemplumb/internal/archive"
	"chemplumb/internal/config"
	"chemplumb/internal/derive"
	"chemplumb/internal/pipeline"
)

func newRunCmd(root *rootOptions) *cobra.Command {
	var manifestPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline over a batch manifest and persist the archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := root.load()
			if err != nil {
				return err
			}
			defer e.close()

			m, err := config.LoadManifest(manifestPath)
			if err != nil {
				return err
			}
			pc := e.cfg.Pipeline
			p := pipeline.New(
				pipeline.WithLogger(e.logger.Named("pipeline")),
				pipeline.WithWorkers(pc.Workers),
				pipeline.WithProtocolMarker(pc.ProtocolMarker),
				pipeline.WithExcludedHeaders(pc.ExcludedHeaders),
				pipeline.WithDeriveOptions(
					derive.WithCrossCheckTolerance(pc.CrossCheckTolerance),
					derive.WithAcidLimit(e.cfg.Verify.AcidLimit),
				),
			)
			a, err := p.Run(cmd.Context(), m)
			if err != nil {
				return err
			}

			store, err := archive.Open(cmd.Context(), e.cfg.Archive, e.cfg.Blob)
			if err != nil {
				return err
			}
			defer closeStore(e, store)
			if err := store.Save(cmd.Context(), a); err != nil {
				return err
			}
			e.logger.Info("archive saved",
				zap.String("run_id", a.Metadata.RunID.String()),
				zap.String("driver", e.cfg.Archive.Driver))

			e.metrics.ObserveRun(a.Metadata)
			if err := e.flushMetrics(); err != nil {
				return err
			}

			rep := a.Metadata.Report
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "run %s\n", a.Metadata.RunID)
			for _, t := range rep.Tables {
				fmt.Fprintf(out, "  %s: %d rows, %d parsed, %d rejected, %d added\n", t.Name, t.Rows, t.Parsed, t.Rejected, t.Added)
			}
			fmt.Fprintf(out, "%s, %d valid, %s, %s, %s\n",
				plural(rep.Reactions, "reaction"), rep.Valid,
				plural(len(a.Summaries), "summary"),
				plural(len(rep.FailedGroups), "failed group"),
				plural(len(rep.Findings.Violations), "finding"))
			return nil
		},
	}
	cmd.Flags().StringVar(&manifestPath, "manifest", "", "batch manifest (yaml)")
	_ = cmd.MarkFlagRequired("manifest")
	return cmd
}

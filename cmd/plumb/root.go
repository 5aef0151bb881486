package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"chemplumb/internal/config"
	"chemplumb/internal/logging"
	"chemplumb/internal/metrics"
)

// Exit codes beyond the generic failure.
const (
	exitSchemaDrift     = 2
	exitForwardMismatch = 3
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "plumb",
		Short:         "Derive and verify reaction molarity summaries",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "configuration file (default ./plumb.yaml when present)")
	cmd.AddCommand(newRunCmd(opts), newVerifyCmd(opts), newClassifyCmd())
	return cmd
}

// env is the state shared by the commands that touch the archive.
type env struct {
	cfg     config.Config
	logger  *zap.Logger
	metrics *metrics.Recorder
}

func (o *rootOptions) load() (*env, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, logger: logger, metrics: metrics.New()}, nil
}

func (e *env) close() {
	_ = e.logger.Sync()
}

func (e *env) flushMetrics() error {
	if e.cfg.Metrics.Textfile == "" {
		return nil
	}
	if err := e.metrics.WriteTextfile(e.cfg.Metrics.Textfile); err != nil {
		return err
	}
	e.logger.Debug("metrics written", zap.String("path", e.cfg.Metrics.Textfile))
	return nil
}

func closeStore(e *env, c interface{ Close() error }) {
	if err := c.Close(); err != nil {
		e.logger.Warn("close archive store", zap.Error(err))
	}
}

// plural formats a count with the singular word or its regular plural.
func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	if strings.HasSuffix(word, "y") {
		return fmt.Sprintf("%d %sies", n, strings.TrimSuffix(word, "y"))
	}
	return fmt.Sprintf("%d %ss", n, word)
}

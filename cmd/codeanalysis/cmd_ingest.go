package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/lexcodex/codeanalysis/framework"
	"github.com/lexcodex/codeanalysis/ingest"
)

func newIngestCmd(a *app) *cobra.Command {
	var skipClone, startSync bool
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Document a repository file by file into the knowledge index",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger := a.cfg, a.logger
			if cfg.Ingest.RepoURL == "" && !skipClone {
				return errors.New("ingest.repo_url (or REPO_URL) is required")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			d, err := a.buildDeps(ctx)
			if err != nil {
				return err
			}
			defer d.close()

			pipeline := ingest.NewPipeline(framework.NewLocalCommandRunner(logger), d.connector, cfg.Ingest.RepoURL, logger)
			pipeline.CloneURL = cfg.Ingest.SSHURL
			pipeline.Destination = cfg.Ingest.Destination
			pipeline.DocumentationDir = cfg.Ingest.DocumentationDir
			pipeline.Attempts = cfg.Ingest.Attempts
			pipeline.Backoff = cfg.Ingest.Backoff
			if cfg.Ingest.RatePerSecond > 0 {
				pipeline.Limiter = rate.NewLimiter(rate.Limit(cfg.Ingest.RatePerSecond), 1)
			} else {
				pipeline.Limiter = nil
			}

			var report *ingest.Report
			if skipClone {
				report, err = pipeline.Process(ctx, pipeline.Destination)
			} else {
				report, err = pipeline.Run(ctx)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "processed %d file(s), failed %d\n", len(report.Processed), len(report.Failed))
			for _, f := range report.Failed {
				fmt.Fprintf(cmd.OutOrStdout(), "  failed: %s\n", f)
			}
			if startSync {
				id, err := d.connector.Sync(ctx)
				if err != nil {
					return fmt.Errorf("start sync: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "sync started: %s\n", id)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&startSync, "sync", false, "Start a data source sync after ingesting")
	cmd.Flags().BoolVar(&skipClone, "skip-clone", false, "Document the existing destination without cloning")
	return cmd
}

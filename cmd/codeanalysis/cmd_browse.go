package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lexcodex/codeanalysis/agents/browser"
)

func newBrowseCmd(a *app) *cobra.Command {
	var question string
	var headful bool
	cmd := &cobra.Command{
		Use:   "browse",
		Short: "Answer a question by driving a browser",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger := a.cfg, a.logger
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			d, err := a.buildDeps(ctx)
			if err != nil {
				return err
			}
			defer d.close()

			opts := browser.DefaultOptions()
			opts.Headless = cfg.Browser.Headless && !headful
			opts.ViewportWidth = cfg.Browser.ViewportWidth
			opts.ViewportHeight = cfg.Browser.ViewportHeight
			if cfg.Browser.Timeout > 0 {
				opts.Timeout = cfg.Browser.Timeout
			}
			driver, err := browser.NewChromeDriver(opts, logger)
			if err != nil {
				return err
			}
			defer driver.Close()

			agent, err := browser.NewAgent(driver, d.model, logger)
			if err != nil {
				return err
			}
			agent.MaxSteps = cfg.Browser.MaxSteps
			agent.StartURL = cfg.Browser.StartURL
			agent.Telemetry = d.telemetry
			agent.Metrics = d.metrics

			result, err := agent.Run(ctx, question)
			if err != nil {
				return err
			}
			logger.Info("browse finished",
				zap.Int("steps", result.Steps),
				zap.Int("decisions", result.Decisions),
				zap.Bool("exhausted", result.Exhausted),
				zap.String("url", result.URL))
			if result.Exhausted {
				return fmt.Errorf("no answer after %d decisions", result.Decisions)
			}
			fmt.Fprintln(cmd.OutOrStdout(), result.Answer)
			return nil
		},
	}
	cmd.Flags().StringVar(&question, "question", "", "Question to answer")
	cmd.Flags().BoolVar(&headful, "headful", false, "Show the browser window")
	_ = cmd.MarkFlagRequired("question")
	return cmd
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lexcodex/codeanalysis/agents/david"
	"github.com/lexcodex/codeanalysis/framework"
	"github.com/lexcodex/codeanalysis/tools"
)

func newRunCmd(a *app) *cobra.Command {
	var goal string
	var maxEpisodes int
	var console bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Pursue a goal with the self-revising agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			goal, err := resolveGoal(goal)
			if err != nil {
				return err
			}
			if goal == "" {
				return david.ErrGoalRequired
			}
			cfg := a.cfg
			if maxEpisodes > 0 {
				cfg.Agent.MaxEpisodes = maxEpisodes
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var dialogs *framework.DialogBroker
			var feed *consoleFeed
			var extra []framework.Telemetry
			if console {
				if cfg.Logging.File == "" {
					// the console owns the terminal
					logCfg := cfg.Logging
					logCfg.File = filepath.Join(cfg.Agent.Workspace, "codeanalysis.log")
					if a.logger, err = newLogger(logCfg); err != nil {
						return err
					}
				}
				dialogs = framework.NewDialogBroker(cfg.Agent.PromptTimeout)
				feed = newConsoleFeed()
				extra = append(extra, feed)
			}
			logger := a.logger
			d, err := a.buildDeps(ctx, extra...)
			if err != nil {
				return err
			}
			defer d.close()

			successes, journal, closeStores, err := openStores(cfg.Agent)
			if err != nil {
				return err
			}
			defer closeStores()

			workspace, err := filepath.Abs(cfg.Agent.Workspace)
			if err != nil {
				return err
			}
			executor := tools.NewShellExecutor(framework.NewLocalCommandRunner(logger), dialogs, logger)
			executor.PromptTimeout = cfg.Agent.PromptTimeout
			executor.MaxOutput = cfg.Agent.MaxOutput
			registry, err := tools.NewRegistry(tools.RegistryOptions{
				Executor:    executor,
				Workdir:     workspace,
				Writer:      &tools.FileWriter{BaseDir: tools.RunDirectory(workspace, time.Now())},
				Connector:   d.connector,
				EnableGraph: cfg.Knowledge.EnableGraph,
			})
			if err != nil {
				return err
			}

			opts := david.DefaultOptions()
			opts.MaxEpisodes = cfg.Agent.MaxEpisodes
			opts.MaxSteps = cfg.Agent.MaxSteps
			opts.Temperature = cfg.Model.Temperature
			opts.MaxTokens = cfg.Model.MaxTokens
			controller := david.NewController(d.model, registry, successes, opts, logger)
			controller.Journal = journal
			controller.SetTelemetry(d.telemetry)
			controller.SetMetrics(d.metrics)

			run := func(ctx context.Context) (*david.RunResult, error) {
				return controller.Run(ctx, goal)
			}
			var result *david.RunResult
			if console {
				result, err = runWithConsole(ctx, goal, dialogs, feed, run)
			} else {
				result, err = run(ctx)
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			printResult(cmd, logger, result)
			return err
		},
	}
	cmd.Flags().StringVar(&goal, "goal", "", "Goal text, or a path to a .txt file holding it")
	cmd.Flags().IntVar(&maxEpisodes, "max-episodes", 0, "Override agent.max_episodes")
	cmd.Flags().BoolVar(&console, "console", false, "Answer interactive prompts from an operator console")
	_ = cmd.MarkFlagRequired("goal")
	return cmd
}

func printResult(cmd *cobra.Command, logger *zap.Logger, result *david.RunResult) {
	if result == nil {
		return
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s finished in %s after %d episode(s)\n", result.RunID, result.State, len(result.Episodes))
	if n := len(result.Episodes); n > 0 {
		last := result.Episodes[n-1]
		if last.Answer != "" {
			fmt.Fprintf(out, "answer: %s\n", last.Answer)
		}
	}
	logger.Info("run finished",
		zap.String("run_id", result.RunID),
		zap.Stringer("state", result.State),
		zap.Int("episodes", len(result.Episodes)))
}

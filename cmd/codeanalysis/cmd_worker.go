package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/lexcodex/codeanalysis/framework"
	"github.com/lexcodex/codeanalysis/persistence"
	"github.com/lexcodex/codeanalysis/server"
)

func newWorkerCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run queued jobs one at a time",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger := a.cfg, a.logger
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			queue, err := persistence.NewRedisJobQueue(ctx, cfg.Server.RedisAddr, cfg.Server.Queue)
			if err != nil {
				return err
			}
			defer queue.Close()
			metrics, err := framework.NewMetrics(prometheus.DefaultRegisterer)
			if err != nil {
				return err
			}
			worker := server.NewWorker(queue, framework.NewLocalCommandRunner(logger), logger)
			worker.Workdir = cfg.Agent.Workspace
			worker.Metrics = metrics
			return worker.Run(ctx)
		},
	}
}

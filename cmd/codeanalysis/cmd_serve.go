package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/service/batch"
	"github.com/aws/aws-sdk-go-v2/service/qbusiness"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lexcodex/codeanalysis/agents"
	"github.com/lexcodex/codeanalysis/framework"
	"github.com/lexcodex/codeanalysis/persistence"
	"github.com/lexcodex/codeanalysis/server"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept jobs over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger := a.cfg, a.logger
			if addr != "" {
				cfg.Server.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			metrics, err := framework.NewMetrics(prometheus.DefaultRegisterer)
			if err != nil {
				return err
			}
			submitter, closeSubmitter, err := buildSubmitter(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeSubmitter()

			api := &server.APIServer{
				Submitter: submitter,
				Metrics:   metrics,
				Gatherer:  prometheus.DefaultGatherer,
				Logger:    logger,
			}
			return api.ServeContext(ctx, cfg.Server.Addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	return cmd
}

func buildSubmitter(ctx context.Context, cfg *agents.Config, logger *zap.Logger) (server.JobSubmitter, func(), error) {
	env := jobEnv(cfg)
	switch cfg.Server.Submitter {
	case "batch":
		awsCfg, err := loadAWS(ctx)
		if err != nil {
			return nil, nil, err
		}
		s := server.NewBatchSubmitter(batch.NewFromConfig(awsCfg), qbusiness.NewFromConfig(awsCfg), server.BatchSettings{
			JobQueue:      cfg.Batch.JobQueue,
			JobDefinition: cfg.Batch.JobDefinition,
			AppName:       cfg.Batch.AppName,
			Bootstrap:     cfg.Server.Bootstrap,
			Env:           env,
		}, logger)
		return s, func() {}, nil
	case "queue":
		queue, err := persistence.NewRedisJobQueue(ctx, cfg.Server.RedisAddr, cfg.Server.Queue)
		if err != nil {
			return nil, nil, err
		}
		s := &server.QueueSubmitter{Queue: queue, Bootstrap: cfg.Server.Bootstrap, Env: env}
		return s, func() { _ = queue.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown submitter %q", cfg.Server.Submitter)
}

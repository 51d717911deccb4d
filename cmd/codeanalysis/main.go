package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lexcodex/codeanalysis/agents"
)

// app carries the flags, the loaded configuration and the logger from the
// root command to its subcommands.
type app struct {
	configPath string
	workspace  string
	logLevel   string

	cfg    *agents.Config
	logger *zap.Logger
}

// load reads the configuration, applies flag overrides and builds the logger.
func (a *app) load() error {
	cfg, err := agents.LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	if a.workspace != "" {
		cfg.Agent.Workspace = a.workspace
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	a.cfg, a.logger = cfg, logger
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	return newRootCmdFor(&app{})
}

func newRootCmdFor(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "codeanalysis",
		Short:         "Self-improving code analysis agent",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", agents.DefaultConfigPath, "Path to the YAML configuration")
	root.PersistentFlags().StringVar(&a.workspace, "workspace", "", "Workspace directory (overrides agent.workspace)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn or error")

	root.AddCommand(
		newRunCmd(a),
		newBrowseCmd(a),
		newIngestCmd(a),
		newServeCmd(a),
		newWorkerCmd(a),
		newProvisionCmd(a),
	)
	return root
}

func newLogger(cfg agents.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	output := []string{"stderr"}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, err
		}
		output = []string{cfg.File}
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
	}
	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      output,
		ErrorOutputPaths: []string{"stderr"},
	}
	return zapConfig.Build(zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
}

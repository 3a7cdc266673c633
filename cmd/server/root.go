package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "agentcore",
	Short: "Multi-agent task coordination server",
	Long: `agentcore coordinates pools of provider-bound agents across instances.

It schedules dependency-ordered workflows from a shared queue, routes each
request to the best provider under rate and budget limits, and runs content
swarms under parallel, sequential, competitive, collaborative or
hierarchical strategies.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./agentcore.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(providersCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(swarmCmd)
}

// withApp loads configuration, wires the components and hands them to fn
func withApp(ctx context.Context, fn func(ctx context.Context, a *app) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize", zap.Error(err))
		return fmt.Errorf("initialization failed: %w", err)
	}
	defer a.close()

	return fn(ctx, a)
}

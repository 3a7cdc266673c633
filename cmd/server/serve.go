package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/config"
	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/model"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the coordinator workers and background monitors",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return withApp(ctx, serve)
	},
}

func serve(ctx context.Context, a *app) error {
	logger := a.logger

	if err := a.resources.Start(ctx); err != nil {
		return err
	}
	defer a.resources.Stop()

	if a.cfg.Resource.WatchCatalog && a.cfg.Resource.CatalogFile != "" {
		w, err := config.WatchCatalog(a.cfg.Resource.CatalogFile, func(providers []model.ProviderConfig) {
			for _, p := range providers {
				if err := a.resources.RegisterProvider(p); err != nil {
					logger.Warn("Rejected provider", zap.String("provider", p.Name), zap.Error(err))
				}
			}
		}, logger)
		if err != nil {
			return err
		}
		defer w.Close()
	}

	if err := a.collector.Start(ctx); err != nil {
		return err
	}
	defer a.collector.Stop()

	if err := a.coordinator.Start(ctx); err != nil {
		return err
	}
	defer a.coordinator.Stop()

	logger.Info("Server started",
		zap.String("instance_id", a.coordinator.InstanceID()),
		zap.String("store", a.cfg.Store.Backend),
		zap.Int("agents", a.pool.Stats().Agents),
		zap.Int("providers", len(a.resources.Providers())),
		zap.Bool("swarms", a.swarms != nil))

	<-ctx.Done()
	logger.Info("Received shutdown signal, draining workers")
	return nil
}

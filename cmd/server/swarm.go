package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/swarm"
)

var (
	swarmID           string
	swarmContentType  string
	swarmRequirements string
	swarmComplexity   float64
	swarmFiles        int
	swarmSpecial      []string
)

var swarmCmd = &cobra.Command{
	Use:   "swarm",
	Short: "Plan and run content swarms",
}

var swarmRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Create a swarm, plan its pipeline and execute it in this process",
	RunE: func(cmd *cobra.Command, args []string) error {
		requirements := map[string]any{}
		if swarmRequirements != "" {
			data, err := os.ReadFile(swarmRequirements)
			if err != nil {
				return fmt.Errorf("reading requirements: %w", err)
			}
			if err := json.Unmarshal(data, &requirements); err != nil {
				return fmt.Errorf("decoding requirements: %w", err)
			}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return withApp(ctx, func(ctx context.Context, a *app) error {
			if a.swarms == nil {
				return errors.New("no swarm runner configured; set runner.endpoint")
			}
			if err := a.resources.Start(ctx); err != nil {
				return err
			}
			defer a.resources.Stop()

			sw, err := a.swarms.CreateSwarm(ctx, swarmID, swarm.ContentType(swarmContentType), requirements)
			if err != nil {
				return err
			}
			tasks, err := a.swarms.GenerateAdaptivePipeline(ctx, sw.ID, swarmComplexity, swarmFiles, swarmSpecial)
			if err != nil {
				return err
			}
			a.logger.Info("Swarm planned",
				zap.String("swarm_id", sw.ID),
				zap.String("strategy", string(sw.Config.Strategy)),
				zap.Int("tasks", len(tasks)))

			res, err := a.swarms.Execute(ctx, sw.ID)
			if res != nil {
				if perr := printJSON(res); perr != nil {
					return perr
				}
			}
			return err
		})
	},
}

var swarmShowCmd = &cobra.Command{
	Use:   "show <swarm-id>",
	Short: "Show a persisted swarm record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			if a.swarms == nil {
				return errors.New("no swarm runner configured; set runner.endpoint")
			}
			sw, err := a.swarms.GetSwarm(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(sw)
		})
	},
}

func init() {
	f := swarmRunCmd.Flags()
	f.StringVar(&swarmID, "id", "", "swarm ID (generated when empty)")
	f.StringVarP(&swarmContentType, "type", "t", string(swarm.ContentEssay), "content type")
	f.StringVarP(&swarmRequirements, "requirements", "r", "", "requirements JSON file")
	f.Float64Var(&swarmComplexity, "complexity", 5, "task complexity from 1 to 10")
	f.IntVar(&swarmFiles, "files", 0, "number of source files")
	f.StringSliceVar(&swarmSpecial, "special", nil, "special requirement flags")

	swarmCmd.AddCommand(swarmRunCmd)
	swarmCmd.AddCommand(swarmShowCmd)
}

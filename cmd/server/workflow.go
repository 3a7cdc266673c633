package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/config"
	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/model"
)

var workflowFile string

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a workflow from a JSON file to the shared queue",
	Long: `Submit validates a workflow, persists it and enqueues its root tasks.
Instances running "serve" against the same redis store pick the tasks up.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(workflowFile)
		if err != nil {
			return fmt.Errorf("reading workflow: %w", err)
		}
		var wf model.Workflow
		if err := json.Unmarshal(data, &wf); err != nil {
			return fmt.Errorf("decoding workflow: %w", err)
		}

		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			if a.cfg.Store.Backend != config.BackendRedis {
				a.logger.Warn("Submitting to the in-process store; no other instance will see this workflow")
			}
			submitted, err := a.coordinator.SubmitWorkflow(ctx, &wf)
			if err != nil {
				return err
			}
			return printJSON(submitted.Header())
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <workflow-id>",
	Short: "Show a workflow and its tasks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			wf, err := a.coordinator.GetWorkflow(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(wf)
		})
	},
}

func init() {
	submitCmd.Flags().StringVarP(&workflowFile, "file", "f", "", "workflow JSON file")
	_ = submitCmd.MarkFlagRequired("file")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentcrew"
)

// errPlanFailed makes the process exit non-zero after the report was printed.
var errPlanFailed = errors.New("plan did not complete successfully")

func newRunCmd(flags *globalFlags) *cobra.Command {
	var (
		output  string
		workers bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run <goal>",
		Short: "Plan and execute a goal",
		Long: `Run generates a plan for the goal, executes its tasks in order and prints
a report with every task's status, result and the final summary.

Use --simulated to run without API keys or network access.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutput(output); err != nil {
				return err
			}
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if workers {
				cfg.Engine.Workers = true
			}
			if timeout > 0 {
				cfg.Engine.Timeout = timeout
			}

			crew, err := agentcrew.NewFromConfig(cfg)
			if err != nil {
				return err
			}
			defer crew.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := crew.Start(ctx); err != nil {
				return err
			}

			report, runErr := crew.Run(ctx, strings.Join(args, " "))
			if report.PlanID == "" && runErr != nil {
				return runErr
			}
			if err := writeReport(cmd.OutOrStdout(), output, report); err != nil {
				return err
			}
			switch {
			case runErr != nil && !errors.Is(runErr, context.Canceled):
				return runErr
			case !report.Success:
				return errPlanFailed
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format: text, json or yaml")
	cmd.Flags().BoolVar(&workers, "workers", false, "Run one goroutine per agent instead of ticking")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Per-task wait timeout (overrides engine.timeout)")
	return cmd
}

func checkOutput(output string) error {
	switch output {
	case "text", "json", "yaml":
		return nil
	default:
		return fmt.Errorf("unknown output format %q", output)
	}
}

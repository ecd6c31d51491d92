package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentcrew/store/sqlite"
)

func newPlanCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Inspect stored plans",
	}

	var output string
	show := &cobra.Command{
		Use:   "show <plan-id>",
		Short: "Print a stored plan with every task's history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutput(output); err != nil {
				return err
			}
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if cfg.Store.Driver != "sqlite" {
				return errors.New("plan show needs a database: pass --db or set store.driver to sqlite")
			}
			db, err := sqlite.Open(cfg.Store.Path)
			if err != nil {
				return err
			}
			defer db.Close()

			plan, err := db.GetPlan(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writePlan(cmd.OutOrStdout(), output, plan)
		},
	}
	show.Flags().StringVarP(&output, "output", "o", "text", "Output format: text, json or yaml")

	cmd.AddCommand(show)
	return cmd
}

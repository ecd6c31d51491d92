package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentcrew/config"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	simulated  bool
	db         string
	logLevel   string
}

// load reads the configuration and applies command line overrides.
func (f *globalFlags) load() (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	if f.simulated {
		cfg.Simulated = true
	}
	if f.db != "" {
		cfg.Store.Driver = "sqlite"
		cfg.Store.Path = f.db
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "agentcrew",
		Short: "Multi-agent plan execution",
		Long: `agentcrew decomposes a goal into a plan of dependent tasks and runs them
with a crew of cooperating agents: a coordinator, reasoning, knowledge,
tool execution, evaluation and optional domain experts.

Failed tasks get one repair attempt; tasks whose dependencies failed are
skipped. Every run ends with a summary.

Configuration is read from --config (YAML) and AGENTCREW_* environment
variables, e.g. AGENTCREW_ENGINE_TIMEOUT=1m.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "Path to a YAML config file")
	root.PersistentFlags().BoolVar(&flags.simulated, "simulated", false, "Use deterministic simulated capabilities instead of live models and tools")
	root.PersistentFlags().StringVar(&flags.db, "db", "", "SQLite database for plans and knowledge (default: in-memory)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn or error")

	root.AddCommand(newRunCmd(flags))
	root.AddCommand(newPlanCmd(flags))
	root.AddCommand(newConfigCmd(flags))
	root.AddCommand(newVersionCmd())
	return root
}

// Execute runs the root command.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"github.com/spf13/cobra"
)

type RuntimeArguments struct {
	// ConfigFilePath: JSON or TOML config.
	ConfigFilePath string
	// EnableService: Provide APIs.
	EnableService bool
	// MetricAddr: overrides metricAddr of the config.
	MetricAddr string
	// EnableDebug: Development logging and gin debug mode.
	EnableDebug bool
	// CommitInterval: overrides commitInterval of the config when positive.
	CommitInterval uint32
}

func NewRuntimeArguments() *RuntimeArguments {
	return &RuntimeArguments{}
}

func (arguments *RuntimeArguments) MakeCmd() *cobra.Command {
	var rootCmd = &cobra.Command{
		Use:   "block-committer",
		Short: "Checkpoints source chain blocks on Nubit DA.",
		Long: `
		Block Committer watches the source chain, submits the block at every commit interval boundary as a checkpoint blob to a Nubit DA namespace and marks the submission completed once the blob is read back from the DA layer.

		Flags:
		- "--config/-c": Path of the JSON or TOML config file.
		- "--service/-s": Activates the web service API (health, submissions and metrics).
		- "--metrics": Address of the standalone Prometheus listener.
		- "--debug": Development logging and gin debug mode.
		- "--commit-interval": Overrides the commit interval of the config file.
		`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return Execution(cmd.Context(), arguments)
		},
	}

	rootCmd.Flags().StringVarP(&arguments.ConfigFilePath, "config", "c", "config.json", "Path of the config file, .json or .toml")
	rootCmd.Flags().BoolVarP(&arguments.EnableService, "service", "s", false, "Enable this flag to provide API service")
	rootCmd.Flags().StringVarP(&arguments.MetricAddr, "metrics", "", "", "Address of the Prometheus listener")
	rootCmd.Flags().BoolVarP(&arguments.EnableDebug, "debug", "", false, "Enable this flag for development logging")
	rootCmd.Flags().Uint32VarP(&arguments.CommitInterval, "commit-interval", "", 0, "Commit every n-th source block, overrides the config")

	return rootCmd
}

// overrides applies the flags that take precedence over the config file.
func (arguments *RuntimeArguments) overrides(config *Config) {
	if arguments.CommitInterval > 0 {
		config.CommitInterval = arguments.CommitInterval
	}
	if arguments.MetricAddr != "" {
		config.MetricAddr = arguments.MetricAddr
	}
	if arguments.EnableDebug {
		config.Log.Development = true
		config.Log.Level = "debug"
	}
}

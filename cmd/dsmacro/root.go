package main

import (
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	driverName string

	rootCmd = &cobra.Command{
		Use:   "dsmacro",
		Short: "Timed keyboard and mouse routines",
		Long: `dsmacro runs timed keyboard and mouse routines against a target
application. Routines come from the built-in catalogue or from stored
records, and can be run directly, on a cron schedule, or through the MCP
control server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "settings file (default: $XDG_CONFIG_HOME/dsmacro/settings.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&driverName, "driver", "", "input driver: auto, xdotool, simulated")

	rootCmd.AddCommand(
		versionCmd,
		newRunCmd(),
		newPlayCmd(),
		newImportCmd(),
		newListCmd(),
		newScheduleCmd(),
		newHistoryCmd(),
		newServeCmd(),
	)
}

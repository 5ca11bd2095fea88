package cli

import (
	"github.com/spf13/cobra"

	"github.com/thruflo/autodrive/internal/config"
)

// Version is set at build time via ldflags.
var Version = "dev"

// configPath is the yaml file read by commands that need a Config.
var configPath string

var rootCmd = &cobra.Command{
	Use:   "autodrive",
	Short: "Autonomous driving client for a simulation server",
	Long: `Autodrive connects to a driving simulator, spawns a vehicle and lets an
automatic agent drive it to randomly chosen destinations, showing a
heads-up display in the terminal.

Whatever way a run ends, the simulator's timing settings are restored and
every actor the run spawned is destroyed.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("autodrive version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to the yaml config file")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

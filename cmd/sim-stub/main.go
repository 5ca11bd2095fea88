// Standalone kinematic simulator for local development.
// Run with: go run ./cmd/sim-stub
// Then in another terminal: go run ./cmd/autodrive run
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/thruflo/autodrive/internal/logging"
	"github.com/thruflo/autodrive/internal/sim"
	"github.com/thruflo/autodrive/internal/simserver"
)

var (
	port       int
	mapName    string
	speedLimit float64
	tick       time.Duration
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:          "sim-stub",
	Short:        "Kinematic driving simulator speaking the autodrive protocol",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	def := simserver.DefaultConfig()
	rootCmd.Flags().IntVarP(&port, "port", "p", def.Port, "TCP port to listen on")
	rootCmd.Flags().StringVar(&mapName, "map", def.MapName, "map name reported to clients")
	rootCmd.Flags().Float64Var(&speedLimit, "speed-limit", def.SpeedLimit, "speed limit in km/h")
	rootCmd.Flags().DurationVar(&tick, "tick", def.TickInterval, "wall-clock interval between asynchronous ticks")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log every request")
}

func run(cmd *cobra.Command, args []string) error {
	logging.SetVerbose(verbose)

	srv := simserver.NewServer(simserver.Config{
		Port:         port,
		MapName:      mapName,
		SpeedLimit:   speedLimit,
		TickInterval: tick,
		Logger:       logging.Default(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Simulator running on ws://localhost:%d%s\n", port, sim.DefaultPath)
	fmt.Println("\nDrive with:")
	fmt.Printf("  autodrive run --port %d\n", port)

	if err := srv.Start(ctx); err != nil {
		return err
	}
	fmt.Println("\nShutting down...")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

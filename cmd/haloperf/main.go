package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "haloperf",
	Short: "Time periodic halo exchanges on a block-structured grid",
	Long: `haloperf cuts a box domain into blocks, distributes them over a number of
in-process ranks and times repeated halo exchanges between them, checking
every filled halo cell against the periodic image it should hold.`,
	SilenceUsage: true,
	RunE:         runHaloPerf,
}

func init() {
	flags := rootCmd.Flags()
	flags.Int("nx", 64, "domain cells along x")
	flags.Int("ny", 64, "domain cells along y")
	flags.Int("nz", 1, "domain cells along z (1 for a 2D problem)")
	flags.Int("max-size", 16, "largest block edge")
	flags.Int("ranks", 4, "number of ranks")
	flags.Int("ngrow", 1, "halo width on every active axis")
	flags.Int("ncomp", 1, "components per cell")
	flags.Uint("iters", 10, "exchanges to time")
	flags.Bool("corners", true, "fill edge and corner halos too")
	flags.String("periodic", "xy", "periodic axes, any of x, y, z")
	flags.String("kind", "boundary", "exchange kind (periodic|boundary|sum)")
	flags.String("strategy", "knapsack", "partition strategy (block|roundrobin|sfc|knapsack)")
	flags.String("transport", "local", "rank transport (local|tcp)")
	flags.String("config", "", "exchange config file (.toml or .yaml)")
	flags.String("color", "auto", "colorize output (auto|on|off)")
	flags.BoolP("verbose", "v", false, "debug logging to stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging(verbose bool) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func setupColor(mode string) error {
	switch mode {
	case "auto":
	case "on":
		color.NoColor = false
	case "off":
		color.NoColor = true
	default:
		return fmt.Errorf("invalid --color %q (auto|on|off)", mode)
	}
	return nil
}

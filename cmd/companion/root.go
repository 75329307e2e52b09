// Package cli wires the companion runtime behind a cobra command
// tree: run (the long-lived client), pair/unpair, status and skills.
package cli

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/openclaw/companion/internal/config"
)

// Shared CLI flags (used across multiple command files)
var (
	cfgFile    string
	gatewayArg string
	verbose    bool
)

// SetupRootCmd configures the root command with all subcommands and
// flags.
func SetupRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "companion",
		Short: "OpenClaw companion device client",
		Long: `The companion connects this device to an OpenClaw Gateway, keeps the
pairing state, and executes skills the Gateway dispatches to it.

Just type 'companion' to connect and start serving.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompanion(cmd.Context())
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.openclaw-companion/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&gatewayArg, "gateway", "", "gateway URL override")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(RunCmd())
	rootCmd.AddCommand(PairCmd())
	rootCmd.AddCommand(UnpairCmd())
	rootCmd.AddCommand(StatusCmd())
	rootCmd.AddCommand(SkillsCmd())

	return rootCmd
}

// loadConfig applies the shared flags on top of the config file.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if cfgFile != "" {
		cfg, err = config.LoadFrom(cfgFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if gatewayArg != "" {
		cfg.GatewayURL = gatewayArg
	}
	return cfg, nil
}

// newLogger builds the terminal logger. Verbose drops the level to
// debug.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
}

// Package main provides templectl, an operator CLI for the crypto temple:
// fortune derivation, wallet snapshots, one-off divinations and history
// maintenance without going through the HTTP API.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/crypto-temple/internal/config"
	"github.com/crypto-temple/internal/logging"
)

var (
	jsonOutput bool
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "templectl",
	Short: "Operate the crypto temple from the command line",
	Long: `templectl reads the same environment and .env file as the server.

Available subcommands:
  fortune  - Derive the five elements and cyber bazi of an address
  snapshot - Fetch the on-chain profile of a wallet
  divine   - Ask the oracle about a project and record the answer
  history  - List records and store feedback`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.SetGlobalLogger(logging.NewLoggerWithOutput(logging.ParseLogLevel(logLevel), logging.FormatText, cmd.ErrOrStderr()))
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print machine readable JSON")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn, error")

	rootCmd.AddCommand(fortuneCmd, snapshotCmd, divineCmd, historyCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads and validates the shared configuration
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// printJSON writes v as indented JSON
func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

/*
main.go - ledgerd entry point

PURPOSE:
  Command-line front end of the payroll ledger: serves the HTTP API,
  prints the overdue report, and runs database migrations.

COMMANDS:
  ledgerd serve     Start the HTTP API and the overdue scanner
  ledgerd overdue   Print every overdue advance and exit
  ledgerd migrate   Apply SQLite migrations and exit

CONFIGURATION (later wins):
  1. Built-in defaults
  2. TOML file (--config or LEDGER_CONFIG)
  3. .env and LEDGER_* environment variables
  4. Command-line flags

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the overdue scanner
  4. Close the AMQP publisher and the store

EXAMPLES:
  ledgerd serve --port 3000
  ledgerd serve --store memory --log-format console
  ledgerd overdue --json
  ledgerd migrate --db ./data/ledger.db

SEE ALSO:
  - app.go: Composition root
  - config/config.go: Configuration sources
  - api/server.go: Router configuration
*/
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/warp/payroll-ledger/config"
)

var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "ledgerd",
	Short: "Payroll advance and escrow ledger",
	Long: `ledgerd keeps two ledgers per employee: cash advances recovered through
weekly payroll deductions, and an escrow fund built from deposits and
withdrawals. Balances are always derived from the recorded entries.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a TOML config file")
	rootCmd.PersistentFlags().String("store", "", "Store kind: sqlite, snapshot or memory")
	rootCmd.PersistentFlags().String("db", "", "SQLite database path")
	rootCmd.PersistentFlags().String("snapshot-dir", "", "Directory for JSON snapshots")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: json or console")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig resolves the configuration for cmd, applying any flags the
// user set explicitly on top of file and environment values.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	override := func(name string, dst *string) {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	override("store", &cfg.Store.Kind)
	override("db", &cfg.Store.SQLitePath)
	override("snapshot-dir", &cfg.Store.SnapshotDir)
	override("log-level", &cfg.Log.Level)
	override("log-format", &cfg.Log.Format)
	if flags.Lookup("port") != nil && flags.Changed("port") {
		cfg.HTTP.Port, _ = flags.GetInt("port")
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"logScope/internal/config"
	"logScope/internal/migrations"
)

func main() {
	root := &cobra.Command{
		Use:          "logscope",
		Short:        "EVM contract log indexer and query service",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the syncer and the API server",
		RunE:  runService,
	}

	runCmd.Flags().String("database-url", "", "Postgres URL")
	runCmd.Flags().String("redis-url", "", "Redis URL (key prefix via ?prefix=)")
	runCmd.Flags().String("server-host", "0.0.0.0", "API listen host")
	runCmd.Flags().Int("server-port", 8080, "API listen port")
	runCmd.Flags().Uint64("eth-chain-id", 0, "expected chain id")
	runCmd.Flags().String("eth-http-rpc-url", "", "HTTP RPC URL")
	runCmd.Flags().String("eth-ws-rpc-url", "", "WS RPC URL (optional, HTTP is reused when empty)")
	runCmd.Flags().Duration("rpc-timeout", 5*time.Second, "per-call RPC timeout")
	runCmd.Flags().String("contracts", "", "contracts JSON file path")
	runCmd.Flags().Uint64("batch-size", 5760, "historical sync blocks per batch")
	runCmd.Flags().Int("max-retries", 5, "maximum RPC retry attempts")
	runCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial RPC retry backoff")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	migrateCmd.PersistentFlags().String("database-url", "", "Postgres URL")

	migrateCmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			RunE:  runMigrate(migrations.Up),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back all migrations",
			RunE:  runMigrate(migrations.Down),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			RunE:  runMigrateVersion,
		},
	)

	root.AddCommand(migrateCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	if cfgFile == "" {
		cfgFile, _ = cmd.Root().PersistentFlags().GetString("config")
	}
	return config.Load(cfgFile, cmd.Flags())
}

func runMigrate(apply func(string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("database-url is required")
		}

		if err := apply(cfg.DatabaseURL); err != nil {
			if err == migrations.ErrNoChange {
				fmt.Println("schema already up to date, nothing to migrate")
				return nil
			}
			return err
		}
		fmt.Println("migration complete")
		return nil
	}
}

func runMigrateVersion(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("database-url is required")
	}

	version, dirty, applied, err := migrations.Version(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	if !applied {
		fmt.Println("no migrations applied")
		return nil
	}
	if dirty {
		fmt.Printf("version %d (dirty)\n", version)
		return nil
	}
	fmt.Printf("version %d\n", version)
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

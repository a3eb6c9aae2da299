package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/gridsession/internal/cli"
	"github.com/aretw0/gridsession/internal/logging"
	"github.com/aretw0/gridsession/pkg/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "gridsession",
	Short: "gridsession keeps HTTP sessions in Redis for every replica",
	Long: `gridsession stores web sessions in a shared Redis so that any replica can
serve any request. It runs a demo server with an admin API and inspects or
removes stored sessions from the shell.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file (default $XDG_CONFIG_HOME/gridsession/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Override logging.level (DEBUG, INFO, WARN, ERROR)")
	rootCmd.PersistentFlags().String("redis", "", "Override redis.address")
}

// loadConfig reads the configuration and applies the persistent flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if addr, _ := cmd.Flags().GetString("redis"); addr != "" {
		cfg.Redis.Address = addr
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logging.NewFormat(cfg.Logging.Format, level), nil
}

// connect loads the configuration and dials the configured store.
func connect(cmd *cobra.Command) (*cli.App, error) {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return cli.Connect(cmd.Context(), cfg, logger)
}

// Package cmd wires the rentmail command line
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"rentmail/config"
	"rentmail/storage"
	"rentmail/utils"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "rentmail",
	Short:        "Rentmail chat service",
	Long:         "Stores tenant conversations and relays new messages to live clients",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.toml", "Path to the TOML configuration file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(threadsCmd)
}

// loadConfig reads the configuration and applies the logging settings
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	utils.Configure(cfg.Log.Level, cfg.Log.Format)
	return cfg, nil
}

// openStore opens the configured thread store
func openStore(cfg *config.Config) (storage.MailStore, error) {
	store, err := storage.Open(cfg.Storage.Driver, cfg.Storage.Path,
		storage.WithOperator(cfg.SMTP.Operator()))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store at %s: %w", cfg.Storage.Driver, cfg.Storage.Path, err)
	}
	return store, nil
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

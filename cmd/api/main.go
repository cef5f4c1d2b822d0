package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/congo-pay/chatwallet/internal/config"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:           "chatwallet",
	Short:         "conversational smart-account wallet",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
}

func init() {
	rootCmd.Version = version
	rootCmd.AddCommand(serveCmd, migrateCmd)
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

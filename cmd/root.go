// Package cmd holds the gateway command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	version    = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Chat assistant gateway",
	Long: `A chat assistant gateway that admits, remembers and answers user messages
through a local language model, with tool calls and an admin-managed persona.

Quick Start:
  gateway serve --config gateway.yaml   # run the HTTP and WebSocket server
  gateway chat --user-id 42             # talk to a running gateway
  gateway health                        # probe a running gateway`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file (defaults to $CONFIG_FILE)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}

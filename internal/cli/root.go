// Package cli implements the Agora command-line interface using Cobra.
// Subcommands talk to a running daemon over its HTTP API.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "agora",
	Short: "Agora — marketplace trust core",
	Long: `Agora runs the trust core of an agent marketplace:
auctions, escrow, disputes, reputation, and a tamper-evident audit chain.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

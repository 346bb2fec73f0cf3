// Package cli implements the Parley command-line interface using Cobra.
// Apart from serve, every subcommand talks to a running daemon over its
// RPC API.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Parley — local-first AI chat",
	Long: `Parley answers questions with a local model by default and can route
to a hosted API when configured. Start the daemon with 'parley serve',
then use ask, models, and chats against it.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&daemonAddr, "addr", "http://127.0.0.1:8741", "Address of the Parley daemon")
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// Sanduku — a persistent JavaScript execution service over MCP.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sanduku",
	Short: "Sanduku — persistent JavaScript sessions over the Model Context Protocol.",
	Long: `Sanduku runs long-lived, isolated JavaScript interpreter sessions for remote
callers. Variables persist across executions within a session, sessions are
serialized internally and evicted after idling past their TTL, and every
execution runs under wall-clock, output, and capability limits.`,
	RunE:          runServe, // Default to serve mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

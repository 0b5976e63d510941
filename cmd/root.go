// Package cmd contains the ledgerchat command-line interface.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ledgerchat/ledgerchat/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "ledgerchat",
	Short: "ledgerchat - a chatbot over your financial documents",
	Long: `ledgerchat answers questions about uploaded documents, invoices,
loans and bank statements, backed by a multi-agent orchestration graph.

Run "ledgerchat serve" to start the HTTP API, or "ledgerchat ask" for a
one-shot question from the terminal.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// newLogger builds the process logger. DEBUG in the environment lowers
// the level; JSON output is used when not attached to a terminal-style
// workflow (serve mode sets it explicitly).
func newLogger(json bool) log.Logger {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	return log.New(log.Config{Level: level, JSON: json})
}

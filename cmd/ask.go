package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ledgerchat/ledgerchat/internal/app"
	"github.com/ledgerchat/ledgerchat/internal/config"
	"github.com/ledgerchat/ledgerchat/internal/graph"
)

var (
	askCompany  string
	askThread   string
	askDocument string
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a one-shot question from the terminal",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAsk(cmd.Context(), strings.Join(args, " "))
	},
}

func init() {
	askCmd.Flags().StringVar(&askCompany, "company", "", "company scope for the question (required)")
	askCmd.Flags().StringVar(&askThread, "thread", "", "thread ID to continue an existing conversation")
	askCmd.Flags().StringVar(&askDocument, "document", "", "document key to answer from")
	_ = askCmd.MarkFlagRequired("company")
	rootCmd.AddCommand(askCmd)
}

func runAsk(ctx context.Context, question string) error {
	logger := newLogger(false)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(context.Background()); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	threadID := uuid.Nil
	if askThread != "" {
		if threadID, err = uuid.Parse(askThread); err != nil {
			return fmt.Errorf("invalid thread ID %q: %w", askThread, err)
		}
	}

	result, err := a.Engine.Run(ctx, graph.Request{
		CompanyID:   askCompany,
		Query:       question,
		ThreadID:    threadID,
		DocumentKey: askDocument,
	})
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}

	fmt.Println(result.Text)
	if result.Summary != "" {
		fmt.Printf("\nSummary: %s\n", result.Summary)
	}
	fmt.Printf("\n(thread %s, answered by %s)\n", result.ThreadID, result.Agent)
	return nil
}

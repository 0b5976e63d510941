package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ledgerchat/ledgerchat/internal/app"
	"github.com/ledgerchat/ledgerchat/internal/config"
	"github.com/ledgerchat/ledgerchat/internal/knowledge"
)

var (
	indexCompany string
	indexKey     string
	indexType    string
)

var indexCmd = &cobra.Command{
	Use:   "index [file]",
	Short: "Chunk, embed and index a local text file into the knowledge store",
	Long: `index loads a local text or markdown file straight into the knowledge
store, bypassing the ingestion service. Useful for seeding a fresh
environment or backfilling a document the service cannot process.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIndex(cmd.Context(), args[0])
	},
}

func init() {
	indexCmd.Flags().StringVar(&indexCompany, "company", "", "company that owns the document (required)")
	indexCmd.Flags().StringVar(&indexKey, "key", "", "document key (defaults to the file name)")
	indexCmd.Flags().StringVar(&indexType, "type", "document", "document type")
	_ = indexCmd.MarkFlagRequired("company")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(ctx context.Context, path string) error {
	logger := newLogger(false)

	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

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

	key := indexKey
	if key == "" {
		key = filepath.Base(path)
	}

	if err := a.Knowledge.RegisterDocument(ctx, key, indexCompany, filepath.Base(path), indexType); err != nil {
		return fmt.Errorf("registering document: %w", err)
	}

	chunks := knowledge.SplitText(string(content), knowledge.DefaultChunkSize, knowledge.DefaultChunkOverlap)
	for i, c := range chunks {
		if err := a.Knowledge.Index(ctx, knowledge.Chunk{
			DocumentKey: key,
			CompanyID:   indexCompany,
			ChunkIndex:  i,
			Content:     c,
		}); err != nil {
			return fmt.Errorf("indexing chunk %d of %d: %w", i+1, len(chunks), err)
		}
	}

	fmt.Printf("Indexed %s as %q: %d chunks\n", path, key, len(chunks))
	return nil
}

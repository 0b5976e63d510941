//go:build integration

package knowledge

import (
	"context"
	"testing"

	"github.com/firebase/genkit/go/genkit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerchat/ledgerchat/internal/log"
	"github.com/ledgerchat/ledgerchat/internal/testutil"
)

func setupStore(t *testing.T) (*Store, *testutil.MockEmbedder, func()) {
	t.Helper()

	db, cleanup := testutil.SetupTestDB(t)

	g := genkit.Init(context.Background())
	mockEmb := testutil.NewMockEmbedder(768)
	embedder := mockEmb.RegisterEmbedder(g)

	return NewStore(db.Pool, embedder, log.NewNop()), mockEmb, cleanup
}

func TestStoreIndexAndSearch(t *testing.T) {
	store, emb, cleanup := setupStore(t)
	defer cleanup()

	ctx := context.Background()

	// Make the query vector identical to one chunk's vector so it ranks first
	vec := make([]float32, 768)
	vec[0] = 1
	emb.SetVector("quarterly revenue figures", vec)
	emb.SetVector("revenue", vec)

	require.NoError(t, store.RegisterDocument(ctx, "doc-1", "company-1", "report.pdf", "document"))
	require.NoError(t, store.Index(ctx, Chunk{
		DocumentKey: "doc-1", CompanyID: "company-1", ChunkIndex: 0,
		Content: "quarterly revenue figures",
	}))
	require.NoError(t, store.Index(ctx, Chunk{
		DocumentKey: "doc-1", CompanyID: "company-1", ChunkIndex: 1,
		Content: "office relocation plans",
	}))

	results, err := store.Search(ctx, "company-1", "revenue", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "quarterly revenue figures", results[0].Content)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-6)
	assert.Greater(t, results[0].Similarity, results[1].Similarity)
}

func TestStoreSearchScopedToCompany(t *testing.T) {
	store, _, cleanup := setupStore(t)
	defer cleanup()

	ctx := context.Background()

	require.NoError(t, store.RegisterDocument(ctx, "doc-a", "company-a", "a.pdf", "document"))
	require.NoError(t, store.Index(ctx, Chunk{
		DocumentKey: "doc-a", CompanyID: "company-a", ChunkIndex: 0,
		Content: "confidential company-a data",
	}))

	results, err := store.Search(ctx, "company-b", "confidential", 5)
	require.NoError(t, err)
	assert.Empty(t, results, "search must not leak chunks across companies")
}

func TestStoreDocumentChunksInOrder(t *testing.T) {
	store, _, cleanup := setupStore(t)
	defer cleanup()

	ctx := context.Background()

	require.NoError(t, store.RegisterDocument(ctx, "doc-1", "company-1", "loan.pdf", "loan"))
	for i, content := range []string{"first chunk", "second chunk", "third chunk"} {
		require.NoError(t, store.Index(ctx, Chunk{
			DocumentKey: "doc-1", CompanyID: "company-1", ChunkIndex: i, Content: content,
		}))
	}

	results, err := store.DocumentChunks(ctx, "doc-1", "anything")
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, i, r.ChunkIndex)
	}
}

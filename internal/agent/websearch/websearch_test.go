package websearch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerchat/ledgerchat/internal/agent"
	"github.com/ledgerchat/ledgerchat/internal/log"
	"github.com/ledgerchat/ledgerchat/internal/prompts"
	"github.com/ledgerchat/ledgerchat/internal/testutil"
)

// openFetcher accepts every URL so tests can fetch from httptest
// servers, which resolve to loopback.
type openFetcher struct{}

func (openFetcher) ValidateURL(string) error { return nil }
func (openFetcher) Client() *http.Client     { return &http.Client{Timeout: 5 * time.Second} }
func (openFetcher) MaxResponseSize() int64   { return 1 << 20 }

// closedFetcher rejects every URL.
type closedFetcher struct{ openFetcher }

func (closedFetcher) ValidateURL(string) error { return errors.New("access denied") }

type fakeSearch struct {
	results []SearchResult
	err     error
	query   string
}

func (f *fakeSearch) Search(_ context.Context, query string) ([]SearchResult, error) {
	f.query = query
	return f.results, f.err
}

func newTestAgent(t *testing.T, mock *testutil.MockLLM, search SearchProvider, fetcher Fetcher) *Agent {
	t.Helper()

	g := genkit.Init(context.Background())
	mock.RegisterModel(g)

	registry := prompts.NewRegistry("", log.NewNop())
	return New(g, testutil.MockModelName, search, fetcher, registry, log.NewNop())
}

func TestRunAnswersFromResults(t *testing.T) {
	search := &fakeSearch{results: []SearchResult{
		{URL: "https://example.com/rates", Title: "Current rates", Content: "rates rose to 5.25%"},
		{URL: "https://example.com/news", Title: "Market news", Content: "markets were flat"},
	}}
	mock := testutil.NewMockLLM("rates rose to 5.25% this week")
	a := newTestAgent(t, mock, search, closedFetcher{})

	state := &agent.State{Query: "what are current interest rates?", CompanyID: "c"}
	env, err := a.Run(context.Background(), state)
	require.NoError(t, err)

	assert.Equal(t, "what are current interest rates?", search.query)
	assert.Equal(t, "rates rose to 5.25% this week", env.Text)
	require.Len(t, env.Resources, 2)
	assert.Equal(t, agent.KindWebSearch, env.Resources[0].Agent)
	assert.Equal(t, "https://example.com/rates", env.Resources[0].ID)
	assert.Equal(t, "Current rates", env.Resources[0].Title)
}

func TestRunEnrichesTopResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body><p>Full article text about rates.</p><script>x</script></body></html>`))
	}))
	defer srv.Close()

	search := &fakeSearch{results: []SearchResult{
		{URL: srv.URL, Title: "Article", Content: "short snippet"},
	}}
	mock := testutil.NewMockLLM("fallback")
	mock.AddResponse("Full article text about rates", "answer grounded in the full page")
	a := newTestAgent(t, mock, search, openFetcher{})

	env, err := a.Run(context.Background(), &agent.State{Query: "rates?", CompanyID: "c"})
	require.NoError(t, err)
	assert.Equal(t, "answer grounded in the full page", env.Text,
		"the answer prompt must carry the fetched page text, not the snippet")
}

func TestRunUnsafeURLKeepsSnippet(t *testing.T) {
	search := &fakeSearch{results: []SearchResult{
		{URL: "http://169.254.169.254/meta", Title: "Bad", Content: "the snippet"},
	}}
	mock := testutil.NewMockLLM("fallback")
	mock.AddResponse("the snippet", "answered from snippet")
	a := newTestAgent(t, mock, search, closedFetcher{})

	env, err := a.Run(context.Background(), &agent.State{Query: "q", CompanyID: "c"})
	require.NoError(t, err)
	assert.Equal(t, "answered from snippet", env.Text)
}

func TestRunSearchFailureDegrades(t *testing.T) {
	search := &fakeSearch{err: errors.New("searxng down")}
	mock := testutil.NewMockLLM("")
	mock.AddResponse("(no results)", "I could not find anything current on that.")
	a := newTestAgent(t, mock, search, closedFetcher{})

	env, err := a.Run(context.Background(), &agent.State{Query: "q", CompanyID: "c"})
	require.NoError(t, err, "search failures must not fail the turn")
	assert.NotEmpty(t, env.Text)
	assert.Empty(t, env.Resources)
}

func TestRunModelFailureUsesCannedReply(t *testing.T) {
	search := &fakeSearch{results: []SearchResult{{URL: "https://example.com", Title: "t", Content: "c"}}}
	mock := testutil.NewMockLLM("")
	mock.FailWith(errors.New("model unavailable"))
	a := newTestAgent(t, mock, search, closedFetcher{})

	env, err := a.Run(context.Background(), &agent.State{Query: "q", CompanyID: "c"})
	require.NoError(t, err)
	assert.Equal(t, NoResultsReply, env.Text)
}

func TestClientSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "interest rates", r.URL.Query().Get("q"))
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results": [
			{"url": "https://a.example", "title": "A", "content": "aa"},
			{"url": "https://b.example", "title": "B", "content": "bb"},
			{"url": "https://c.example", "title": "C", "content": "cc"}
		]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 2, log.NewNop())
	results, err := client.Search(context.Background(), "interest rates")
	require.NoError(t, err)

	require.Len(t, results, 2, "results must be capped at maxResults")
	assert.Equal(t, "https://a.example", results[0].URL)
}

func TestClientSearchErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5, log.NewNop())
	_, err := client.Search(context.Background(), "q")
	assert.Error(t, err)
}

package splitter

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerchat/ledgerchat/internal/agent"
	"github.com/ledgerchat/ledgerchat/internal/log"
	"github.com/ledgerchat/ledgerchat/internal/prompts"
	"github.com/ledgerchat/ledgerchat/internal/session"
	"github.com/ledgerchat/ledgerchat/internal/testutil"
)

// recordingExec records executed sub-queries and checks that exec is
// never re-entered: agents share per-thread session state, so
// sub-queries must run one at a time.
type recordingExec struct {
	t        *testing.T
	inFlight atomic.Int32
	executed []string
	fail     map[string]bool
}

func (r *recordingExec) exec(_ context.Context, s *agent.State) (agent.Envelope, error) {
	if n := r.inFlight.Add(1); n != 1 {
		r.t.Errorf("exec re-entered, %d sub-queries in flight", n)
	}
	defer r.inFlight.Add(-1)

	r.executed = append(r.executed, s.Query)
	if r.fail[s.Query] {
		return agent.Envelope{}, errors.New("boom")
	}
	return agent.Envelope{Agent: agent.KindInvoice, Text: "answer to: " + s.Query}, nil
}

func (r *recordingExec) queries() []string {
	return append([]string(nil), r.executed...)
}

func newTestAgent(t *testing.T, mock *testutil.MockLLM, exec ExecFunc) *Agent {
	t.Helper()

	g := genkit.Init(context.Background())
	mock.RegisterModel(g)

	registry := prompts.NewRegistry("", log.NewNop())
	return New(g, testutil.MockModelName, registry, exec, log.NewNop())
}

func TestRunFansOutSubQueries(t *testing.T) {
	mock := testutil.NewMockLLM("")
	mock.AddResponse("Split the compound query",
		`{"sub_queries": ["what invoices are open?", "what is the weather in Berlin?"]}`)

	rec := &recordingExec{t: t}
	a := newTestAgent(t, mock, rec.exec)

	state := &agent.State{
		Query:     "what invoices are open and what is the weather in Berlin?",
		CompanyID: "company-1",
		ThreadID:  uuid.New(),
	}
	env, err := a.Run(context.Background(), state)
	require.NoError(t, err)

	assert.Equal(t,
		[]string{"what invoices are open?", "what is the weather in Berlin?"}, rec.queries(),
		"sub-queries run in the order the questions were asked")
	assert.Equal(t,
		[]string{"what invoices are open?", "what is the weather in Berlin?"}, state.SubQueries)

	require.Len(t, state.Envelopes, 2)
	assert.Equal(t, "answer to: what invoices are open?", state.Envelopes[0].Text)
	assert.Equal(t, "answer to: what is the weather in Berlin?", state.Envelopes[1].Text)
	assert.Empty(t, env.Text, "the splitter contributes no text of its own")
}

func TestRunSubStateCarriesThreadContext(t *testing.T) {
	mock := testutil.NewMockLLM("")
	mock.AddResponse("Split the compound query", `{"sub_queries": ["a?", "b?"]}`)

	threadID := uuid.New()
	exec := func(_ context.Context, s *agent.State) (agent.Envelope, error) {
		assert.Equal(t, "company-1", s.CompanyID)
		assert.Equal(t, threadID, s.ThreadID)
		return agent.Envelope{Text: "ok"}, nil
	}
	a := newTestAgent(t, mock, exec)

	_, err := a.Run(context.Background(), &agent.State{Query: "a and b?", CompanyID: "company-1", ThreadID: threadID})
	require.NoError(t, err)
}

func TestRunSplitFailureRunsOriginalQuery(t *testing.T) {
	mock := testutil.NewMockLLM("")
	mock.FailWith(errors.New("model unavailable"))

	rec := &recordingExec{t: t}
	a := newTestAgent(t, mock, rec.exec)

	state := &agent.State{Query: "compound question?", CompanyID: "c", ThreadID: uuid.New()}
	_, err := a.Run(context.Background(), state)
	require.NoError(t, err)

	assert.Equal(t, []string{"compound question?"}, rec.queries())
}

func TestRunSingleSubQueryRunsOriginal(t *testing.T) {
	mock := testutil.NewMockLLM("")
	mock.AddResponse("Split the compound query", `{"sub_queries": ["only one?"]}`)

	rec := &recordingExec{t: t}
	a := newTestAgent(t, mock, rec.exec)

	state := &agent.State{Query: "the original", CompanyID: "c", ThreadID: uuid.New()}
	_, err := a.Run(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, []string{"the original"}, rec.queries())
}

func TestRunCapsFanOut(t *testing.T) {
	mock := testutil.NewMockLLM("")
	mock.AddResponse("Split the compound query",
		`{"sub_queries": ["a?", "b?", "c?", "d?", "e?", "f?", "g?"]}`)

	rec := &recordingExec{t: t}
	a := newTestAgent(t, mock, rec.exec)

	_, err := a.Run(context.Background(), &agent.State{Query: "many things", CompanyID: "c", ThreadID: uuid.New()})
	require.NoError(t, err)
	assert.Len(t, rec.queries(), maxSubQueries)
}

func TestRunSubQueryErrorSkips(t *testing.T) {
	mock := testutil.NewMockLLM("")
	mock.AddResponse("Split the compound query", `{"sub_queries": ["a?", "b?"]}`)

	rec := &recordingExec{t: t, fail: map[string]bool{"a?": true}}
	a := newTestAgent(t, mock, rec.exec)

	state := &agent.State{Query: "a and b?", CompanyID: "c", ThreadID: uuid.New()}
	_, err := a.Run(context.Background(), state)
	require.NoError(t, err)

	require.Len(t, state.Envelopes, 1)
	assert.Equal(t, "answer to: b?", state.Envelopes[0].Text)
}

// Sub-queries read and write the thread's shared session state with no
// synchronization of their own, so the splitter must run them one at a
// time. The unsynchronized writes here trip the race detector if it
// ever fans out concurrently again.
func TestRunSubQueriesShareSessionState(t *testing.T) {
	mock := testutil.NewMockLLM("")
	mock.AddResponse("Split the compound query", `{"sub_queries": ["a?", "b?", "c?"]}`)

	cache := session.NewCache(time.Minute)
	threadID := uuid.New()
	exec := func(_ context.Context, s *agent.State) (agent.Envelope, error) {
		ts := cache.GetOrInit(s.ThreadID)
		ts.LastDocumentKey = s.Query
		ts.LastResources = append(ts.LastResources, agent.Resource{Title: s.Query})
		cache.Put(s.ThreadID, ts)
		return agent.Envelope{Text: "ok"}, nil
	}
	a := newTestAgent(t, mock, exec)

	_, err := a.Run(context.Background(), &agent.State{Query: "a, b and c?", CompanyID: "c", ThreadID: threadID})
	require.NoError(t, err)

	ts := cache.Get(threadID)
	require.NotNil(t, ts)
	assert.Equal(t, "c?", ts.LastDocumentKey, "the last sub-query wins")
	assert.Len(t, ts.LastResources, 3)
}

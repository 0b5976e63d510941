package graph

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerchat/ledgerchat/internal/agent"
	"github.com/ledgerchat/ledgerchat/internal/agent/orchestrator"
	"github.com/ledgerchat/ledgerchat/internal/agent/respond"
	"github.com/ledgerchat/ledgerchat/internal/log"
	"github.com/ledgerchat/ledgerchat/internal/prompts"
	"github.com/ledgerchat/ledgerchat/internal/session"
	"github.com/ledgerchat/ledgerchat/internal/testutil"
)

type fakeStore struct {
	threads  map[uuid.UUID]*session.Thread
	history  []session.Message
	appended []session.Message
	err      error
}

func newFakeStore() *fakeStore {
	return &fakeStore{threads: make(map[uuid.UUID]*session.Thread)}
}

func (f *fakeStore) GetOrCreate(_ context.Context, threadID uuid.UUID, companyID string) (*session.Thread, bool, error) {
	if f.err != nil {
		return nil, false, f.err
	}
	if thread, ok := f.threads[threadID]; ok {
		return thread, false, nil
	}
	id := threadID
	if id == uuid.Nil {
		id = uuid.New()
	}
	thread := &session.Thread{ID: id, CompanyID: companyID}
	f.threads[id] = thread
	return thread, true, nil
}

func (f *fakeStore) History(_ context.Context, _ uuid.UUID, _ int) ([]session.Message, error) {
	return f.history, nil
}

func (f *fakeStore) Append(_ context.Context, _ uuid.UUID, messages []session.Message) error {
	f.appended = append(f.appended, messages...)
	return nil
}

type stubAgent struct {
	kind agent.Kind
	text string
	ran  bool
	err  error
}

func (s *stubAgent) Kind() agent.Kind { return s.kind }

func (s *stubAgent) Run(_ context.Context, _ *agent.State) (agent.Envelope, error) {
	s.ran = true
	if s.err != nil {
		return agent.Envelope{}, s.err
	}
	return agent.Envelope{Agent: s.kind, Text: s.text}, nil
}

func newTestEngine(t *testing.T, mock *testutil.MockLLM, store ThreadStore) (*Engine, *session.Cache) {
	t.Helper()

	g := genkit.Init(context.Background())
	mock.RegisterModel(g)

	registry := prompts.NewRegistry("", log.NewNop())
	cache := session.NewCache(time.Minute)
	orch := orchestrator.New(g, testutil.MockModelName, registry, cache, log.NewNop())
	compiler := respond.New(g, testutil.MockModelName, registry, log.NewNop())
	return NewEngine(orch, compiler, store, cache, 20, log.NewNop()), cache
}

func TestRunRoutesAndPersists(t *testing.T) {
	store := newFakeStore()
	mock := testutil.NewMockLLM("")
	mock.AddResponse("route user queries", `{"agent": "greeting_agent", "reason": "small talk"}`)
	e, _ := newTestEngine(t, mock, store)

	greeting := &stubAgent{kind: agent.KindGreeting, text: "Hello there!"}
	e.Register(greeting)

	result, err := e.Run(context.Background(), Request{CompanyID: "company-1", Query: "hello, how are you?"})
	require.NoError(t, err)

	assert.True(t, greeting.ran)
	assert.Equal(t, agent.KindGreeting, result.Agent)
	assert.Equal(t, "Hello there!", result.Text)
	assert.NotEqual(t, uuid.Nil, result.ThreadID)

	require.Len(t, store.appended, 2)
	assert.Equal(t, session.RoleUser, store.appended[0].Role)
	assert.Equal(t, "hello, how are you?", store.appended[0].Content)
	assert.Equal(t, session.RoleModel, store.appended[1].Role)
	assert.Equal(t, "Hello there!", store.appended[1].Content)
}

func TestRunReusesExistingThread(t *testing.T) {
	store := newFakeStore()
	threadID := uuid.New()
	store.threads[threadID] = &session.Thread{ID: threadID, CompanyID: "company-1"}

	mock := testutil.NewMockLLM("")
	mock.AddResponse("route user queries", `{"agent": "greeting_agent", "reason": "r"}`)
	e, _ := newTestEngine(t, mock, store)
	e.Register(&stubAgent{kind: agent.KindGreeting, text: "hi"})

	result, err := e.Run(context.Background(), Request{CompanyID: "company-1", Query: "hello again", ThreadID: threadID})
	require.NoError(t, err)
	assert.Equal(t, threadID, result.ThreadID)
}

func TestRunThreadResolutionFailure(t *testing.T) {
	store := newFakeStore()
	store.err = errors.New("database down")
	mock := testutil.NewMockLLM("")
	e, _ := newTestEngine(t, mock, store)

	_, err := e.Run(context.Background(), Request{CompanyID: "c", Query: "hello there"})
	assert.Error(t, err)
}

func TestRunConfirmationPendingSkipsRouting(t *testing.T) {
	store := newFakeStore()
	mock := testutil.NewMockLLM("")
	e, cache := newTestEngine(t, mock, store)

	classifier := &stubAgent{kind: agent.KindClassifier, text: "Saved it."}
	e.Register(classifier)

	threadID := uuid.New()
	store.threads[threadID] = &session.Thread{ID: threadID, CompanyID: "c"}
	ts := cache.GetOrInit(threadID)
	ts.Upload = &session.UploadState{Stage: session.StageAwaitingConfirmation, DetectedType: "invoice"}
	cache.Put(threadID, ts)

	result, err := e.Run(context.Background(), Request{CompanyID: "c", Query: "yes please", ThreadID: threadID})
	require.NoError(t, err)

	assert.True(t, classifier.ran)
	assert.Equal(t, agent.KindClassifier, result.Agent)
	assert.Empty(t, mock.Calls(), "a pending confirmation must bypass the routing call")
}

func TestRunUnregisteredAgentYieldsNoAnswer(t *testing.T) {
	store := newFakeStore()
	mock := testutil.NewMockLLM("")
	mock.AddResponse("route user queries", `{"agent": "rag_agent", "reason": "r"}`)
	e, _ := newTestEngine(t, mock, store)

	result, err := e.Run(context.Background(), Request{CompanyID: "c", Query: "what do my documents say?"})
	require.NoError(t, err, "a missing agent degrades, it does not fail the turn")
	assert.Equal(t, respond.NoAnswerReply, result.Text)
	assert.True(t, result.Resources.Empty())
}

func TestRunAgentErrorYieldsNoAnswer(t *testing.T) {
	store := newFakeStore()
	mock := testutil.NewMockLLM("")
	mock.AddResponse("route user queries", `{"agent": "greeting_agent", "reason": "r"}`)
	e, _ := newTestEngine(t, mock, store)
	e.Register(&stubAgent{kind: agent.KindGreeting, err: errors.New("boom")})

	result, err := e.Run(context.Background(), Request{CompanyID: "c", Query: "hello there"})
	require.NoError(t, err)
	assert.Equal(t, respond.NoAnswerReply, result.Text)
}

func TestSubExecSuppressesNestedSplit(t *testing.T) {
	store := newFakeStore()
	mock := testutil.NewMockLLM("")
	mock.AddResponse("route user queries", `{"agent": "query_splitter_agent", "reason": "compound"}`)
	e, _ := newTestEngine(t, mock, store)

	rag := &stubAgent{kind: agent.KindRAG, text: "from documents"}
	e.Register(rag)

	state := &agent.State{Query: "part one of a compound question?", CompanyID: "c", ThreadID: uuid.New()}
	env, err := e.SubExec(context.Background(), state)
	require.NoError(t, err)

	assert.True(t, rag.ran)
	assert.Equal(t, agent.KindRAG, state.Selected)
	assert.Equal(t, "from documents", env.Text)
}

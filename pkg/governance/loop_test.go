package governance

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harun/callcore/pkg/agent"
	"github.com/harun/callcore/pkg/sessionctx"
	"github.com/harun/callcore/pkg/turns"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCompleter struct {
	mu         sync.Mutex
	completion *agent.Completion
	err        error
	requests   []agent.CompletionRequest
	calls      atomic.Int32
}

func (f *fakeCompleter) Complete(ctx context.Context, req agent.CompletionRequest) (*agent.Completion, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	out := *f.completion
	return &out, nil
}

func (f *fakeCompleter) Provider() string { return "fake" }

func (f *fakeCompleter) respond(content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completion = &agent.Completion{FinishReason: agent.FinishStop, Content: content}
}

func newTestLoop(t *testing.T, completer *fakeCompleter, logger zerolog.Logger) (*Loop, *turns.Ledger, *sessionctx.Context) {
	t.Helper()

	session := sessionctx.New()
	resolver, err := agent.NewResolver(session, zerolog.Nop(), agent.ResolverConfig{
		InstructionsTemplate: "You are a helpful agent.",
		LLMConfig:            &agent.LLMConfig{Model: "gpt-4o-mini"},
	})
	require.NoError(t, err)

	ledger := turns.New("CA-gov")
	loop := New(Config{
		Ledger:    ledger,
		Session:   session,
		Resolver:  resolver,
		Completer: completer,
		Logger:    logger,
	})
	return loop, ledger, session
}

func TestExecute_MergesIntoSessionContext(t *testing.T) {
	completer := &fakeCompleter{}
	loop, ledger, session := newTestLoop(t, completer, zerolog.Nop())

	require.NoError(t, session.Merge(map[string]any{
		"governance": map[string]any{"rating": 4, "procedures": map[string]any{"a": 1}},
	}))
	_, err := ledger.AddHumanText(turns.Params{Content: "Where is my order?"})
	require.NoError(t, err)

	completer.respond(`{"rating":2,"procedures":{"b":2},"summary":"caller asks about an order"}`)
	require.NoError(t, loop.Execute(context.Background()))

	gov := session.Governance()
	require.NotNil(t, gov)
	assert.Equal(t, 3.0, gov["rating"])
	assert.Equal(t, map[string]any{"a": 1.0, "b": 2.0}, gov["procedures"])
	assert.Equal(t, "caller asks about an order", gov["summary"])

	require.Len(t, completer.requests, 1)
	req := completer.requests[0]
	assert.Equal(t, "gpt-4o-mini", req.Model)
	assert.True(t, req.JSONObject)
	require.Len(t, req.Messages, 1)
	assert.Contains(t, req.Messages[0].Content, "[HUMAN]: Where is my order?")
	assert.Contains(t, req.Messages[0].Content, `"procedures":{"a":1}`)
}

func TestExecute_FirstPassAveragesWithDefault(t *testing.T) {
	completer := &fakeCompleter{}
	loop, _, session := newTestLoop(t, completer, zerolog.Nop())

	completer.respond(`{"rating":5}`)
	require.NoError(t, loop.Execute(context.Background()))

	assert.Equal(t, 4.0, session.Get("governance.rating").Float())
}

func TestExecute_ToolCallsLeaveContextUnchanged(t *testing.T) {
	var buf bytes.Buffer
	completer := &fakeCompleter{completion: &agent.Completion{
		FinishReason: agent.FinishToolCalls,
		ToolCalls:    []turns.ToolCall{{ID: "call-1", Name: "transfer_call"}},
	}}
	loop, _, session := newTestLoop(t, completer, zerolog.New(&buf))

	require.NoError(t, session.Merge(map[string]any{"governance": map[string]any{"rating": 4}}))
	before := session.JSON()

	err := loop.Execute(context.Background())
	assert.ErrorIs(t, err, ErrCapabilityViolation)
	assert.Equal(t, string(before), string(session.JSON()))
	assert.Contains(t, buf.String(), "attempted to call them")
}

func TestExecute_Failures(t *testing.T) {
	tests := []struct {
		name       string
		completion *agent.Completion
		err        error
		wantErr    error
	}{
		{"transport", nil, errors.New("connection reset"), ErrTransport},
		{"not json", &agent.Completion{FinishReason: agent.FinishStop, Content: "rating: 4"}, nil, ErrMalformedResponse},
		{"json array", &agent.Completion{FinishReason: agent.FinishStop, Content: "[1,2]"}, nil, ErrMalformedResponse},
		{"empty content", &agent.Completion{FinishReason: agent.FinishStop}, nil, ErrMalformedResponse},
		{"truncated", &agent.Completion{FinishReason: agent.FinishLength, Content: `{"rating":`}, nil, ErrMalformedResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			completer := &fakeCompleter{completion: tt.completion, err: tt.err}
			loop, _, session := newTestLoop(t, completer, zerolog.Nop())

			err := loop.Execute(context.Background())
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, session.Governance())
		})
	}
}

func TestTranscript_FiltersTurns(t *testing.T) {
	completer := &fakeCompleter{}
	loop, ledger, _ := newTestLoop(t, completer, zerolog.Nop())

	_, err := ledger.AddSystem(turns.Params{Content: "call started"})
	require.NoError(t, err)
	_, err = ledger.AddHumanText(turns.Params{Content: "Hi, I need help."})
	require.NoError(t, err)
	_, err = ledger.AddBotText(turns.Params{Content: "One moment.", Origin: turns.OriginFiller})
	require.NoError(t, err)
	_, err = ledger.AddBotTool(turns.Params{ToolCalls: []turns.ToolCall{{ID: "c1", Name: "lookup"}}})
	require.NoError(t, err)
	_, err = ledger.AddBotText(turns.Params{Content: "Sure, what is your order number?"})
	require.NoError(t, err)
	_, err = ledger.AddHumanDTMF(turns.Params{Content: "4242"})
	require.NoError(t, err)

	want := "[HUMAN]: Hi, I need help.\n\n[BOT]: Sure, what is your order number?\n\n[HUMAN]: 4242"
	assert.Equal(t, want, loop.Transcript())
}

func TestMerge(t *testing.T) {
	tests := []struct {
		name string
		prev map[string]any
		next map[string]any
		want map[string]any
	}{
		{
			name: "ratings average",
			prev: map[string]any{"rating": 4.0},
			next: map[string]any{"rating": 2.0},
			want: map[string]any{"rating": 3.0},
		},
		{
			name: "procedures shallow merge",
			prev: map[string]any{"procedures": map[string]any{"a": 1.0, "b": 1.0}},
			next: map[string]any{"procedures": map[string]any{"b": 2.0}},
			want: map[string]any{"procedures": map[string]any{"a": 1.0, "b": 2.0}},
		},
		{
			name: "missing new rating keeps previous",
			prev: map[string]any{"rating": 4.0, "summary": "old"},
			next: map[string]any{"rating": "great", "summary": "new"},
			want: map[string]any{"rating": 4.0, "summary": "new"},
		},
		{
			name: "no previous state",
			prev: nil,
			next: map[string]any{"rating": 1.0, "flag": true},
			want: map[string]any{"rating": 2.0, "flag": true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, merge(tt.prev, tt.next))
		})
	}
}

func TestStartStop(t *testing.T) {
	completer := &fakeCompleter{}
	completer.respond(`{"rating":4}`)
	loop, _, session := newTestLoop(t, completer, zerolog.Nop())

	require.NoError(t, loop.Start(time.Second))
	assert.True(t, loop.Running())
	assert.ErrorIs(t, loop.Start(time.Second), ErrAlreadyRunning)

	require.Eventually(t, func() bool {
		return session.Governance() != nil
	}, 3*time.Second, 50*time.Millisecond)

	loop.Stop()
	loop.Stop()
	assert.False(t, loop.Running())

	calls := completer.calls.Load()
	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, calls, completer.calls.Load())

	require.NoError(t, loop.Start(time.Second))
	loop.Stop()
}

func TestExecute_RequiresConfiguredResolver(t *testing.T) {
	session := sessionctx.New()
	resolver, err := agent.NewResolver(session, zerolog.Nop())
	require.NoError(t, err)

	loop := New(Config{
		Ledger:    turns.New("CA-x"),
		Resolver:  resolver,
		Completer: &fakeCompleter{},
		Logger:    zerolog.Nop(),
	})
	assert.ErrorIs(t, loop.Execute(context.Background()), agent.ErrNotReady)
}

package cli

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/harun/callcore/pkg/transcript"
	"github.com/harun/callcore/pkg/turns"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeOpenAI(t *testing.T, content string) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		calls.Add(1)
		encoded, _ := json.Marshal(content)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": `+string(encoded)+`}}]
		}`)
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func archiveCall(t *testing.T, dataDir, sessionID string) *transcript.Store {
	t.Helper()

	store, err := transcript.NewStore(filepath.Join(dataDir, "transcripts"), zerolog.Nop())
	require.NoError(t, err)

	ledger := turns.New(sessionID)
	_, err = ledger.AddHumanText(turns.Params{Content: "I never got my package."})
	require.NoError(t, err)
	_, err = ledger.AddBotText(turns.Params{Content: "Let me look into that."})
	require.NoError(t, err)

	require.NoError(t, store.Save(context.Background(), sessionID, ledger.Sorted()))
	require.NoError(t, store.SaveContext(sessionID, []byte(`{"governance":{"rating":3,"notes":"first pass"}}`)))
	return store
}

func TestReviewCommand(t *testing.T) {
	dir := t.TempDir()
	server, calls := fakeOpenAI(t, `{"rating":5,"summary":"Resolved"}`)
	configPath := writeConfig(t, dir, `, "llm": {"provider": "openai", "model": "gpt-4o-mini", "api_key": "sk-test", "base_url": "`+server.URL+`/"}`)
	store := archiveCall(t, dir, "CA-review")

	out, err := execute(t, "--config", configPath, "review", "--session", "CA-review")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())

	var governance map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &governance))
	assert.Equal(t, float64(4), governance["rating"])
	assert.Equal(t, "Resolved", governance["summary"])
	assert.Equal(t, "first pass", governance["notes"])

	stored, err := store.LoadContext("CA-review")
	require.NoError(t, err)
	assert.Equal(t, float64(4), stored["governance"].(map[string]any)["rating"])

	archived, err := store.Load(context.Background(), "CA-review")
	require.NoError(t, err)
	assert.Len(t, archived, 2)

	audit, err := os.ReadFile(filepath.Join(dir, "audit.jsonl"))
	require.NoError(t, err)
	assert.Contains(t, string(audit), `"action":"review"`)
}

func TestReviewCommand_Failures(t *testing.T) {
	dir := t.TempDir()
	server, _ := fakeOpenAI(t, "not json")
	configPath := writeConfig(t, dir, `, "llm": {"api_key": "sk-test", "base_url": "`+server.URL+`/"}`)
	archiveCall(t, dir, "CA-bad")

	t.Run("unknown session", func(t *testing.T) {
		_, err := execute(t, "--config", configPath, "review", "--session", "CA-missing")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no transcript")
	})

	t.Run("malformed completion", func(t *testing.T) {
		_, err := execute(t, "--config", configPath, "review", "--session", "CA-bad")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "governance review failed")
	})

	t.Run("invalid session id", func(t *testing.T) {
		_, err := execute(t, "--config", configPath, "review", "--session", "../etc")
		assert.Error(t, err)
	})
}

package manifest

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/harun/callcore/pkg/agent"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlManifest = `
fillerPhrases:
  primary: ["One moment."]
tools:
  - name: lookup_order
    type: request
    endpoint:
      url: https://orders.example.com/lookup
      method: POST
    parameters:
      type: object
      properties:
        order_id: {type: string}
    fillers: ["Checking your order."]
  - name: end_call
    type: function
    fillers: null
  - name: transfer_call
    type: function
`

const jsonManifest = `[
  {"name": "lookup_order", "type": "request", "endpoint": {"url": "https://orders.example.com/lookup"}},
  {"name": "end_call", "type": "function", "fillers": null}
]`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "tools.yaml", yamlManifest)

	m, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, m.Validate())
	require.Len(t, m.Tools, 3)

	lookup := m.Tools[0]
	assert.Equal(t, agent.ToolKindRequest, lookup.Kind)
	require.NotNil(t, lookup.Endpoint)
	assert.Equal(t, "POST", lookup.Endpoint.Method)
	assert.Equal(t, []string{"Checking your order."}, lookup.Fillers)
	assert.Equal(t, "object", lookup.Parameters["type"])

	assert.True(t, m.Tools[1].SilentFillers)
	assert.False(t, m.Tools[2].SilentFillers)
	assert.Empty(t, m.Tools[2].Fillers)

	assert.Equal(t, []string{"One moment."}, m.FillerPhrases["primary"])
}

func TestLoad_JSONList(t *testing.T) {
	path := writeFile(t, t.TempDir(), "tools.json", jsonManifest)

	m, err := Load(path)
	require.NoError(t, err)
	require.Len(t, m.Tools, 2)
	assert.True(t, m.Tools[1].SilentFillers)
	assert.Nil(t, m.FillerPhrases)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, dir, "bad.json", `{"tools": [`))
	assert.Error(t, err)

	_, err = Load(writeFile(t, dir, "bad.yaml", "tools: [\n  - name: x\n  bad"))
	assert.Error(t, err)

	m, err := Load(writeFile(t, dir, "empty.yaml", ""))
	require.NoError(t, err)
	assert.Empty(t, m.Tools)
}

func TestValidate(t *testing.T) {
	m := &Manifest{Tools: []agent.ToolSpec{
		{Name: "a", Kind: agent.ToolKindFunction},
		{Name: "a", Kind: agent.ToolKindFunction},
		{Name: "b", Kind: agent.ToolKindRequest},
	}}
	err := m.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, agent.ErrInvalidTool)
	assert.Contains(t, err.Error(), "duplicate tool a")
	assert.Contains(t, err.Error(), "endpoint.url")
}

func TestResolverConfig(t *testing.T) {
	m, err := ParseYAML([]byte(yamlManifest))
	require.NoError(t, err)

	resolver, err := agent.NewResolver(nil, zerolog.Nop(), agent.ResolverConfig{
		InstructionsTemplate: "hi",
		LLMConfig:            &agent.LLMConfig{Model: "gpt-4o-mini"},
	}, m.ResolverConfig())
	require.NoError(t, err)

	assert.Len(t, resolver.Tools(), 3)
	assert.Equal(t, []string{"One moment."}, resolver.FillerPhrases(agent.FillerPoolPrimary))
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "tools.json", jsonManifest)
	writeFile(t, dir, "other.json", "[]")

	var (
		mu      sync.Mutex
		reloads []*Manifest
	)
	w, err := NewWatcher(WatcherConfig{
		Path:     path,
		Debounce: 20 * time.Millisecond,
		Logger:   zerolog.Nop(),
		OnChange: func(m *Manifest) {
			mu.Lock()
			reloads = append(reloads, m)
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	// unrelated files in the same directory are ignored
	writeFile(t, dir, "other.json", `[{"name":"x","type":"function"}]`)
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	assert.Empty(t, reloads)
	mu.Unlock()

	writeFile(t, dir, "tools.json", `[{"name":"only_one","type":"function"}]`)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(reloads) > 0
	}, 2*time.Second, 20*time.Millisecond)

	mu.Lock()
	last := reloads[len(reloads)-1]
	mu.Unlock()
	require.Len(t, last.Tools, 1)
	assert.Equal(t, "only_one", last.Tools[0].Name)
}

func TestWatcher_StopIsIdempotentForDone(t *testing.T) {
	w, err := NewWatcher(WatcherConfig{Path: filepath.Join(t.TempDir(), "tools.yaml"), Logger: zerolog.Nop()})
	require.NoError(t, err)
	require.NoError(t, w.Start())
	require.NoError(t, w.Stop())

	_, err = NewWatcher(WatcherConfig{})
	assert.Error(t, err)
}

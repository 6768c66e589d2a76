package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditLogger_DiscardsByDefault(t *testing.T) {
	SetAuditWriter(nil)
	RecordToolAudit(context.Background(), "CA1", "lookup_order", "success", nil)
}

func TestAuditLogger_WritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	SetAuditWriter(&buf)
	defer SetAuditWriter(nil)

	RecordToolAudit(context.Background(), "CA1", "lookup_order", "error", map[string]any{"duration_ms": 12})
	RecordGovernanceAudit(context.Background(), "CA1", "merged", nil)
	RecordSessionAudit(context.Background(), "CA1", "close", map[string]any{"turns": 4})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, AuditTool, first["type"])
	assert.Equal(t, "CA1", first["session_id"])
	assert.Equal(t, "execute:lookup_order", first["action"])
	assert.Equal(t, "error", first["status"])
	assert.Equal(t, float64(12), first["metadata"].(map[string]any)["duration_ms"])

	assert.Contains(t, lines[1], `"action":"review"`)
	assert.Contains(t, lines[2], `"type":"session"`)
}

func TestInitAuditLogger_AppendsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "audit.jsonl")
	require.NoError(t, InitAuditLogger(path))

	RecordSessionAudit(context.Background(), "CA2", "open", nil)
	SetAuditWriter(nil)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"session_id":"CA2"`)
}

package sessionctx

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Well-known top-level keys.
const (
	KeyToolConfig = "toolConfig"
	KeyGovernance = "governance"
)

// Context is a session-scoped JSON document. It carries tool authorization
// (toolConfig) and governance state alongside whatever the host application
// stores for its templates.
type Context struct {
	mu  sync.RWMutex
	doc []byte
}

// New creates an empty context document.
func New() *Context {
	return &Context{doc: []byte("{}")}
}

// NewFromMap creates a context seeded with initial values.
func NewFromMap(initial map[string]any) (*Context, error) {
	c := New()
	if len(initial) == 0 {
		return c, nil
	}
	if err := c.Merge(initial); err != nil {
		return nil, err
	}
	return c, nil
}

// Get reads a gjson path from the document.
func (c *Context) Get(path string) gjson.Result {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return gjson.GetBytes(c.doc, path)
}

// JSON returns a copy of the raw document.
func (c *Context) JSON() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]byte, len(c.doc))
	copy(out, c.doc)
	return out
}

// Snapshot decodes the document into a fresh map the caller may modify.
func (c *Context) Snapshot() map[string]any {
	out := map[string]any{}
	_ = json.Unmarshal(c.JSON(), &out)
	return out
}

// Merge sets every top-level key of patch, overwriting previous values for
// those keys and leaving all other keys untouched.
func (c *Context) Merge(patch map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc := c.doc
	for key, value := range patch {
		next, err := sjson.SetBytes(doc, EscapePath(key), value)
		if err != nil {
			return fmt.Errorf("failed to merge context key %q: %w", key, err)
		}
		doc = next
	}
	c.doc = doc
	return nil
}

// Delete removes a top-level key.
func (c *Context) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next, err := sjson.DeleteBytes(c.doc, EscapePath(key))
	if err != nil {
		return fmt.Errorf("failed to delete context key %q: %w", key, err)
	}
	c.doc = next
	return nil
}

// ToolRestricted reports whether toolConfig.<name>.restricted is true.
func (c *Context) ToolRestricted(name string) bool {
	return c.Get(KeyToolConfig + "." + EscapePath(name) + ".restricted").Bool()
}

// SetToolRestricted updates the restriction flag of one tool in place.
func (c *Context) SetToolRestricted(name string, restricted bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	path := KeyToolConfig + "." + EscapePath(name) + ".restricted"
	next, err := sjson.SetBytes(c.doc, path, restricted)
	if err != nil {
		return fmt.Errorf("failed to set tool config for %q: %w", name, err)
	}
	c.doc = next
	return nil
}

// Governance decodes the governance document, or returns nil when no
// governance pass has completed yet.
func (c *Context) Governance() map[string]any {
	res := c.Get(KeyGovernance)
	if !res.IsObject() {
		return nil
	}
	out := map[string]any{}
	if err := json.Unmarshal([]byte(res.Raw), &out); err != nil {
		return nil
	}
	return out
}

var pathEscaper = strings.NewReplacer(
	`\`, `\\`,
	`.`, `\.`,
	`*`, `\*`,
	`?`, `\?`,
	`|`, `\|`,
	`#`, `\#`,
	`@`, `\@`,
	`:`, `\:`,
)

// EscapePath escapes a single key so gjson/sjson treat it literally.
func EscapePath(key string) string {
	return pathEscaper.Replace(key)
}

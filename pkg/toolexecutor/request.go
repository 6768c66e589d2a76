package toolexecutor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/harun/callcore/pkg/agent"
)

const maxResponseBytes = 1 << 20

// callEndpoint performs the HTTP call behind a request tool. The raw argument
// JSON is the request body; URL and header values may reference the session
// context with {{path}} placeholders.
func (o *Orchestrator) callEndpoint(ctx context.Context, spec agent.ToolSpec, args string) (any, error) {
	ep := spec.Endpoint
	if ep == nil || ep.URL == "" {
		return nil, fmt.Errorf("request tool %s has no endpoint", spec.Name)
	}
	sessionDoc := o.resolver.Session().JSON()

	method := strings.ToUpper(ep.Method)
	if method == "" {
		method = http.MethodPost
	}
	var body io.Reader
	if method != http.MethodGet && method != http.MethodHead {
		if strings.TrimSpace(args) == "" {
			args = "{}"
		}
		body = strings.NewReader(args)
	}

	req, err := http.NewRequestWithContext(ctx, method, agent.RenderTemplate(ep.URL, sessionDoc), body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for key, value := range ep.Headers {
		req.Header.Set(key, agent.RenderTemplate(value, sessionDoc))
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(bytes.TrimSpace(data))
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, fmt.Errorf("endpoint returned status %d: %s", resp.StatusCode, snippet)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode endpoint response: %w", err)
	}
	return out, nil
}

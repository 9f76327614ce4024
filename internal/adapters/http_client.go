// ABOUTME: HTTP client for remote adapters: GET /tools to list, POST /call to
// ABOUTME: invoke, with bounded timeouts and Bearer credentials.
package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultCallTimeout bounds adapter calls when the config leaves it unset.
const DefaultCallTimeout = 30 * time.Second

// maxResponseBytes caps adapter response bodies.
const maxResponseBytes = 4 << 20

// HTTPAdapter speaks the adapter wire contract against a remote base URL.
type HTTPAdapter struct {
	name    string
	baseURL string
	client  *http.Client
	timeout time.Duration
}

// NewHTTPAdapter builds a remote adapter client. timeout <= 0 selects the
// default.
func NewHTTPAdapter(name, baseURL string, timeout time.Duration) *HTTPAdapter {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &HTTPAdapter{
		name:    name,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

func (a *HTTPAdapter) Name() string { return a.name }

type toolsResponse struct {
	Tools []Tool `json:"tools"`
}

// ListTools fetches the adapter's tool descriptors.
func (a *HTTPAdapter) ListTools(ctx context.Context) ([]Tool, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/tools", nil)
	if err != nil {
		return nil, fmt.Errorf("building tools request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listing tools from %s: %w", a.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("adapter %s returned %d listing tools", a.name, resp.StatusCode)
	}

	var out toolsResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding tools from %s: %w", a.name, err)
	}
	return out.Tools, nil
}

type callRequest struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// CallTool invokes one tool on the remote adapter, passing the credential as
// a Bearer token. Non-2xx responses and malformed bodies are errors; the
// caller decides how they surface.
func (a *HTTPAdapter) CallTool(ctx context.Context, name string, args json.RawMessage, credential string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	body, err := json.Marshal(callRequest{ID: uuid.NewString(), Name: name, Args: args})
	if err != nil {
		return nil, fmt.Errorf("encoding call request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/call", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building call request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling %s on %s: %w", name, a.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("adapter %s returned %d: %s", a.name, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var result Result
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding call result from %s: %w", a.name, err)
	}
	return &result, nil
}

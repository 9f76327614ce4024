// ABOUTME: Adapter contract shared by remote HTTP adapters and in-process
// ABOUTME: builtins: tool descriptors, call results, and the Adapter interface.
package adapters

import (
	"context"
	"encoding/json"
)

// Tool describes a callable tool an adapter exposes. Names must be globally
// unique across all registered adapters.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// Content is one piece of a tool result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Result is the outcome of a tool call. IsError marks a tool-level failure
// that still travels as a normal result, not a transport error.
type Result struct {
	Content []Content `json:"content"`
	IsError bool      `json:"is_error,omitempty"`
}

// TextResult wraps a plain string as a single-content result.
func TextResult(text string) *Result {
	return &Result{Content: []Content{{Type: "text", Text: text}}}
}

// ErrorResult wraps a failure message as a tool-level error result.
func ErrorResult(text string) *Result {
	return &Result{Content: []Content{{Type: "text", Text: text}}, IsError: true}
}

// Adapter is anything that can list and invoke tools.
type Adapter interface {
	// Name returns the adapter's unique registration name.
	Name() string
	// ListTools returns the adapter's current tool descriptors.
	ListTools(ctx context.Context) ([]Tool, error)
	// CallTool invokes one tool. credential is the resolved access token for
	// the adapter's provider; adapters that need no auth ignore it.
	CallTool(ctx context.Context, name string, args json.RawMessage, credential string) (*Result, error)
}

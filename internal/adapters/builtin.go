// ABOUTME: In-process adapter mirroring the remote contract, plus the demo
// ABOUTME: echo/clock tools used by loom-adapter and local development.
package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// BuiltinTool pairs a tool descriptor with its in-process handler.
type BuiltinTool struct {
	Tool    Tool
	Handler func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
}

// BuiltinAdapter serves tools from in-process handlers. It satisfies the same
// Adapter interface as remote HTTP adapters and doubles as the test double.
type BuiltinAdapter struct {
	name  string
	tools map[string]BuiltinTool
	order []string
}

// NewBuiltinAdapter builds an in-process adapter from a tool list.
func NewBuiltinAdapter(name string, tools []BuiltinTool) *BuiltinAdapter {
	a := &BuiltinAdapter{name: name, tools: make(map[string]BuiltinTool, len(tools))}
	for _, t := range tools {
		a.tools[t.Tool.Name] = t
		a.order = append(a.order, t.Tool.Name)
	}
	return a
}

func (a *BuiltinAdapter) Name() string { return a.name }

func (a *BuiltinAdapter) ListTools(_ context.Context) ([]Tool, error) {
	out := make([]Tool, 0, len(a.order))
	for _, name := range a.order {
		out = append(out, a.tools[name].Tool)
	}
	return out, nil
}

func (a *BuiltinAdapter) CallTool(ctx context.Context, name string, args json.RawMessage, _ string) (*Result, error) {
	tool, ok := a.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	out, err := tool.Handler(ctx, args)
	if err != nil {
		return ErrorResult(err.Error()), nil
	}
	return TextResult(string(out)), nil
}

// DemoTools returns the echo and clock tools served by loom-adapter and by
// the gateway's builtin demo adapter.
func DemoTools() []BuiltinTool {
	return []BuiltinTool{
		{
			Tool: Tool{
				Name:        "echo",
				Description: "Returns its arguments unchanged.",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}}}`),
			},
			Handler: func(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
				var in struct {
					Text string `json:"text"`
				}
				if len(args) > 0 {
					if err := json.Unmarshal(args, &in); err != nil {
						return nil, fmt.Errorf("bad echo arguments: %w", err)
					}
				}
				return json.RawMessage(in.Text), nil
			},
		},
		{
			Tool: Tool{
				Name:        "clock",
				Description: "Returns the current time in RFC 3339 form.",
				InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
			},
			Handler: func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
				return json.RawMessage(time.Now().Format(time.RFC3339)), nil
			},
		},
	}
}

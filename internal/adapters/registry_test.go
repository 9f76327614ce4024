// ABOUTME: Tests for the adapter registry: registration, routing table
// ABOUTME: collisions, keyword fallback, and partial-failure aggregation.
package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingAdapter always errors on ListTools.
type failingAdapter struct{ name string }

func (f *failingAdapter) Name() string { return f.name }

func (f *failingAdapter) ListTools(context.Context) ([]Tool, error) {
	return nil, errors.New("adapter offline")
}

func (f *failingAdapter) CallTool(context.Context, string, json.RawMessage, string) (*Result, error) {
	return nil, errors.New("adapter offline")
}

func demoAdapter(name string, toolNames ...string) *BuiltinAdapter {
	tools := make([]BuiltinTool, 0, len(toolNames))
	for _, tn := range toolNames {
		tools = append(tools, BuiltinTool{
			Tool: Tool{Name: tn, Description: tn},
			Handler: func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
				return json.RawMessage("ok"), nil
			},
		})
	}
	return NewBuiltinAdapter(name, tools)
}

func TestRegister_RejectsDuplicateNames(t *testing.T) {
	reg := NewRegistry(nil)
	require.NoError(t, reg.Register(Entry{Adapter: demoAdapter("github"), URL: "builtin"}))

	err := reg.Register(Entry{Adapter: demoAdapter("github"), URL: "builtin"})
	assert.ErrorIs(t, err, ErrAdapterExists)
}

func TestSetTools_DetectsCollisions(t *testing.T) {
	reg := NewRegistry(nil)
	require.NoError(t, reg.Register(Entry{Adapter: demoAdapter("a")}))
	require.NoError(t, reg.Register(Entry{Adapter: demoAdapter("b")}))

	require.NoError(t, reg.SetTools("a", []Tool{{Name: "search"}}))
	err := reg.SetTools("b", []Tool{{Name: "search"}})
	assert.ErrorIs(t, err, ErrToolCollision)

	// The table still routes to the original owner.
	entry, err := reg.AdapterForTool("search")
	require.NoError(t, err)
	assert.Equal(t, "a", entry.Adapter.Name())
}

func TestSetTools_UnknownAdapter(t *testing.T) {
	reg := NewRegistry(nil)
	err := reg.SetTools("missing", []Tool{{Name: "search"}})
	assert.ErrorIs(t, err, ErrAdapterNotFound)
}

func TestSetTools_ReplacesStaleRoutes(t *testing.T) {
	reg := NewRegistry(nil)
	require.NoError(t, reg.Register(Entry{Adapter: demoAdapter("a")}))

	require.NoError(t, reg.SetTools("a", []Tool{{Name: "old_tool"}}))
	require.NoError(t, reg.SetTools("a", []Tool{{Name: "new_tool"}}))

	_, err := reg.AdapterForTool("old_tool")
	assert.ErrorIs(t, err, ErrToolNotFound)
	entry, err := reg.AdapterForTool("new_tool")
	require.NoError(t, err)
	assert.Equal(t, "a", entry.Adapter.Name())
}

func TestAdapterForTool_ExactBeatsKeyword(t *testing.T) {
	reg := NewRegistry(nil)
	require.NoError(t, reg.Register(Entry{Adapter: demoAdapter("github"), Keywords: []string{"issue", "repo"}}))
	require.NoError(t, reg.Register(Entry{Adapter: demoAdapter("tracker")}))
	require.NoError(t, reg.SetTools("tracker", []Tool{{Name: "create_issue"}}))

	// Exact lookup wins even though the name contains a github keyword.
	entry, err := reg.AdapterForTool("create_issue")
	require.NoError(t, err)
	assert.Equal(t, "tracker", entry.Adapter.Name())
}

func TestAdapterForTool_KeywordFallback(t *testing.T) {
	reg := NewRegistry(nil)
	require.NoError(t, reg.Register(Entry{Adapter: demoAdapter("github"), Keywords: []string{"issue", "repo"}}))
	require.NoError(t, reg.Register(Entry{Adapter: demoAdapter("calendar"), Keywords: []string{"event"}}))

	entry, err := reg.AdapterForTool("list_repo_branches")
	require.NoError(t, err)
	assert.Equal(t, "github", entry.Adapter.Name())

	entry, err = reg.AdapterForTool("Create_Event")
	require.NoError(t, err)
	assert.Equal(t, "calendar", entry.Adapter.Name())

	_, err = reg.AdapterForTool("totally_unrelated")
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestAllTools_ToleratesFailingAdapter(t *testing.T) {
	reg := NewRegistry(nil)
	require.NoError(t, reg.Register(Entry{Adapter: demoAdapter("alive", "echo", "clock")}))
	require.NoError(t, reg.Register(Entry{Adapter: &failingAdapter{name: "dead"}}))

	tools := reg.AllTools(context.Background())
	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"echo", "clock"}, names)

	// The surviving adapter's tools are routable afterwards.
	entry, err := reg.AdapterForTool("echo")
	require.NoError(t, err)
	assert.Equal(t, "alive", entry.Adapter.Name())
}

func TestServers_DescribesRegisteredAdapters(t *testing.T) {
	reg := NewRegistry(nil)
	require.NoError(t, reg.Register(Entry{Adapter: demoAdapter("b", "one"), URL: "http://adapter-b:8081", Provider: "github", Keywords: []string{"repo"}}))
	require.NoError(t, reg.Register(Entry{Adapter: demoAdapter("a"), URL: "builtin"}))
	require.NoError(t, reg.SetTools("b", []Tool{{Name: "one"}}))

	infos := reg.Servers()
	require.Len(t, infos, 2)
	assert.Equal(t, "a", infos[0].Name)
	assert.Equal(t, "builtin", infos[0].URL)
	assert.Equal(t, "b", infos[1].Name)
	assert.Equal(t, "github", infos[1].Provider)
	assert.Equal(t, 1, infos[1].ToolCount)
}

// ABOUTME: Adapter registry: registration, the tool routing table, keyword
// ABOUTME: fallback routing, and concurrent tool aggregation.
package adapters

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrAdapterExists means an adapter with that name is already registered.
	ErrAdapterExists = errors.New("adapter already registered")
	// ErrToolCollision means two adapters claim the same tool name.
	ErrToolCollision = errors.New("tool name collision")
	// ErrToolNotFound means no adapter routes the requested tool.
	ErrToolNotFound = errors.New("tool not found")
	// ErrAdapterNotFound means no adapter is registered under that name.
	ErrAdapterNotFound = errors.New("adapter not found")
)

// listConcurrency bounds the tools/list fan-out.
const listConcurrency = 8

// Entry ties an adapter to its routing metadata.
type Entry struct {
	Adapter  Adapter
	Provider string
	Keywords []string
	// URL is the remote base URL, or "builtin" for in-process adapters.
	URL string
}

// ServerInfo is the static descriptor returned for GET /mcp/servers.
type ServerInfo struct {
	Name      string   `json:"name"`
	URL       string   `json:"url"`
	Provider  string   `json:"provider,omitempty"`
	Keywords  []string `json:"keywords,omitempty"`
	ToolCount int      `json:"tool_count"`
}

// Registry maps tool names to adapters. It is safe for concurrent use; the
// routing table is refreshed on each successful aggregation.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	order   []string          // registration order, for deterministic fallback
	routes  map[string]string // tool name -> adapter name
	tools   map[string][]Tool // adapter name -> last known tools
	logger  *slog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries: make(map[string]*Entry),
		routes:  make(map[string]string),
		tools:   make(map[string][]Tool),
		logger:  logger,
	}
}

// Register adds an adapter with its routing metadata. Adapter names are
// unique; a duplicate returns ErrAdapterExists.
func (r *Registry) Register(entry Entry) error {
	if entry.Adapter == nil {
		return errors.New("nil adapter")
	}
	name := entry.Adapter.Name()
	if name == "" {
		return errors.New("adapter has no name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; ok {
		return fmt.Errorf("%w: %s", ErrAdapterExists, name)
	}
	r.entries[name] = &entry
	r.order = append(r.order, name)
	return nil
}

// SetTools records the tools an adapter currently exposes and rebuilds that
// adapter's routes. A tool name already owned by a different adapter returns
// ErrToolCollision and leaves the table untouched.
func (r *Registry) SetTools(adapterName string, tools []Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[adapterName]; !ok {
		return fmt.Errorf("%w: %s", ErrAdapterNotFound, adapterName)
	}

	for _, tool := range tools {
		if owner, ok := r.routes[tool.Name]; ok && owner != adapterName {
			return fmt.Errorf("%w: %s claimed by both %s and %s", ErrToolCollision, tool.Name, owner, adapterName)
		}
	}

	// Drop stale routes before installing the new set.
	for name, owner := range r.routes {
		if owner == adapterName {
			delete(r.routes, name)
		}
	}
	for _, tool := range tools {
		r.routes[tool.Name] = adapterName
	}
	r.tools[adapterName] = tools
	return nil
}

// AdapterForTool routes a tool name to its adapter. Exact routing-table
// lookup wins; otherwise the first registered adapter whose keywords appear
// in the tool name takes it. No match returns ErrToolNotFound.
func (r *Registry) AdapterForTool(toolName string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if owner, ok := r.routes[toolName]; ok {
		return r.entries[owner], nil
	}

	lower := strings.ToLower(toolName)
	for _, name := range r.order {
		entry := r.entries[name]
		for _, kw := range entry.Keywords {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				return entry, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrToolNotFound, toolName)
}

// Servers returns descriptors for all registered adapters in name order.
func (r *Registry) Servers() []ServerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ServerInfo, 0, len(r.entries))
	for name, entry := range r.entries {
		infos = append(infos, ServerInfo{
			Name:      name,
			URL:       entry.URL,
			Provider:  entry.Provider,
			Keywords:  entry.Keywords,
			ToolCount: len(r.tools[name]),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// AllTools lists every adapter's tools concurrently. A failing adapter is
// logged and excluded; the aggregate never fails because one adapter is down.
// Successful listings refresh the routing table.
func (r *Registry) AllTools(ctx context.Context) []Tool {
	r.mu.RLock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	adapters := make(map[string]Adapter, len(names))
	for _, name := range names {
		adapters[name] = r.entries[name].Adapter
	}
	r.mu.RUnlock()

	results := make([][]Tool, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(listConcurrency)
	for i, name := range names {
		g.Go(func() error {
			tools, err := adapters[name].ListTools(gctx)
			if err != nil {
				r.logger.Warn("adapter listing failed, excluding its tools", "adapter", name, "error", err)
				return nil
			}
			results[i] = tools
			return nil
		})
	}
	_ = g.Wait()

	var all []Tool
	for i, name := range names {
		if results[i] == nil {
			continue
		}
		if err := r.SetTools(name, results[i]); err != nil {
			r.logger.Warn("routing table refresh rejected adapter tools", "adapter", name, "error", err)
			continue
		}
		all = append(all, results[i]...)
	}
	return all
}

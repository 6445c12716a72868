package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"toolgate/internal/transport"
	"toolgate/pkg/logging"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/singleflight"
)

// DefaultValidity is the freshness window for a backend's cached tools.
const DefaultValidity = 5 * time.Minute

// Tool is one cached tool descriptor. The input schema is preserved
// verbatim from the backend.
type Tool struct {
	Backend     string          `json:"-"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// Namespaced returns the gateway-wide unique name for the tool.
func (t Tool) Namespaced() string {
	return t.Backend + ":" + t.Name
}

// SplitName splits a namespaced name on its FIRST colon. The original tool
// name may itself contain colons.
func SplitName(namespaced string) (backendID, toolName string, ok bool) {
	backendID, toolName, found := strings.Cut(namespaced, ":")
	if !found || backendID == "" || toolName == "" {
		return "", "", false
	}
	return backendID, toolName, true
}

// Events receives inventory change notifications. Callbacks run outside the
// cache lock.
type Events interface {
	ToolsUpdated(backendID string)
	ToolsAdded(backendID string, names []string)
	ToolsRemoved(backendID string, names []string)
}

// Cache maps backend ids to their tool slices with refresh stamps.
type Cache struct {
	mu        sync.RWMutex
	tools     map[string][]Tool
	refreshed map[string]time.Time
	listeners []Events

	path     string
	validity time.Duration
	now      func() time.Time
	sf       singleflight.Group
}

// NewCache creates a cache persisting to path.
func NewCache(path string) *Cache {
	return &Cache{
		tools:     make(map[string][]Tool),
		refreshed: make(map[string]time.Time),
		path:      path,
		validity:  DefaultValidity,
		now:       time.Now,
	}
}

// AddListener subscribes to inventory events.
func (c *Cache) AddListener(l Events) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// artifact is the persisted JSON shape.
type artifact struct {
	Inventory   map[string][]Tool    `json:"inventory"`
	LastUpdated map[string]time.Time `json:"lastUpdated"`
	SavedAt     time.Time            `json:"savedAt"`
}

// Load reads the persisted artifact. A missing file yields an empty cache.
func (c *Cache) Load() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read inventory %s: %w", c.path, err)
	}

	var art artifact
	if err := json.Unmarshal(data, &art); err != nil {
		return fmt.Errorf("failed to parse inventory %s: %w", c.path, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.tools = make(map[string][]Tool, len(art.Inventory))
	c.refreshed = make(map[string]time.Time, len(art.LastUpdated))
	for id, tools := range art.Inventory {
		for i := range tools {
			tools[i].Backend = id
		}
		c.tools[id] = tools
	}
	for id, ts := range art.LastUpdated {
		c.refreshed[id] = ts
	}

	logging.Info("Inventory", "Loaded cached tools for %d backends from %s", len(c.tools), c.path)
	return nil
}

// save persists the cache via atomic replace. Caller must hold at least a
// read lock.
func (c *Cache) save() {
	if c.path == "" {
		return
	}
	art := artifact{
		Inventory:   c.tools,
		LastUpdated: c.refreshed,
		SavedAt:     c.now(),
	}
	data, err := json.Marshal(art)
	if err != nil {
		logging.Error("Inventory", err, "Failed to encode inventory")
		return
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		logging.Error("Inventory", err, "Failed to create inventory directory")
		return
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		logging.Error("Inventory", err, "Failed to write inventory")
		return
	}
	if err := os.Rename(tmp, c.path); err != nil {
		logging.Error("Inventory", err, "Failed to replace inventory")
	}
}

// Discover refreshes one backend's tool list. Concurrent calls for the same
// backend coalesce into a single underlying tools/list; later arrivals wait
// for and share its outcome.
func (c *Cache) Discover(ctx context.Context, backendID string, client transport.Client) ([]Tool, error) {
	result, err, _ := c.sf.Do(backendID, func() (interface{}, error) {
		listed, err := client.ListTools(ctx)
		if err != nil {
			return nil, fmt.Errorf("discovery failed for %s: %w", backendID, err)
		}

		tools := make([]Tool, 0, len(listed))
		for _, t := range listed {
			tools = append(tools, fromMCP(backendID, t))
		}
		c.update(backendID, tools)
		return tools, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]Tool), nil
}

// fromMCP converts a wire tool into a cached descriptor, preserving the
// schema bytes.
func fromMCP(backendID string, t mcp.Tool) Tool {
	schema := t.RawInputSchema
	if schema == nil {
		if data, err := json.Marshal(t.InputSchema); err == nil {
			schema = data
		}
	}
	return Tool{
		Backend:     backendID,
		Name:        t.Name,
		Description: t.Description,
		InputSchema: schema,
	}
}

// update overwrites a backend's slice, stamps it, persists, and emits the
// delta events.
func (c *Cache) update(backendID string, tools []Tool) {
	c.mu.Lock()
	previous := c.tools[backendID]
	c.tools[backendID] = tools
	c.refreshed[backendID] = c.now()
	c.save()
	listeners := c.snapshotListeners()
	c.mu.Unlock()

	added, removed := diffNames(previous, tools)
	for _, l := range listeners {
		l.ToolsUpdated(backendID)
		if len(added) > 0 {
			l.ToolsAdded(backendID, added)
		}
		if len(removed) > 0 {
			l.ToolsRemoved(backendID, removed)
		}
	}

	logging.Info("Inventory", "Backend %s: %d tools (%d added, %d removed)",
		backendID, len(tools), len(added), len(removed))
}

// Invalidate atomically drops every tool a backend owns, persists, and
// emits ToolsRemoved.
func (c *Cache) Invalidate(backendID string) {
	c.mu.Lock()
	previous, had := c.tools[backendID]
	delete(c.tools, backendID)
	delete(c.refreshed, backendID)
	if had {
		c.save()
	}
	listeners := c.snapshotListeners()
	c.mu.Unlock()

	if !had || len(previous) == 0 {
		return
	}
	names := make([]string, 0, len(previous))
	for _, t := range previous {
		names = append(names, t.Name)
	}
	for _, l := range listeners {
		l.ToolsRemoved(backendID, names)
	}
	logging.Info("Inventory", "Invalidated inventory for %s (%d tools)", backendID, len(previous))
}

// Get returns a backend's cached tools and their refresh stamp.
func (c *Cache) Get(backendID string) ([]Tool, time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tools, ok := c.tools[backendID]
	if !ok {
		return nil, time.Time{}, false
	}
	out := make([]Tool, len(tools))
	copy(out, tools)
	return out, c.refreshed[backendID], true
}

// Fresh reports whether a backend's entry is inside the validity window.
func (c *Cache) Fresh(backendID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ts, ok := c.refreshed[backendID]
	if !ok {
		return false
	}
	return c.now().Sub(ts) < c.validity
}

// Lookup finds one tool by backend and original name.
func (c *Cache) Lookup(backendID, toolName string) (Tool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, t := range c.tools[backendID] {
		if t.Name == toolName {
			return t, true
		}
	}
	return Tool{}, false
}

// Backends returns the ids with cached entries.
func (c *Cache) Backends() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.tools))
	for id := range c.tools {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (c *Cache) snapshotListeners() []Events {
	out := make([]Events, len(c.listeners))
	copy(out, c.listeners)
	return out
}

// diffNames computes which tool names appeared and disappeared.
func diffNames(previous, current []Tool) (added, removed []string) {
	prev := make(map[string]bool, len(previous))
	for _, t := range previous {
		prev[t.Name] = true
	}
	cur := make(map[string]bool, len(current))
	for _, t := range current {
		cur[t.Name] = true
		if !prev[t.Name] {
			added = append(added, t.Name)
		}
	}
	for _, t := range previous {
		if !cur[t.Name] {
			removed = append(removed, t.Name)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}

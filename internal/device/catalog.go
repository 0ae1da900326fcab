package device

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/pv/poleko-monitor-go/internal/schema"
)

var (
	ErrUnknownKind   = errors.New("unknown device kind")
	ErrDuplicateKind = errors.New("device kind already registered")
	ErrFixedRefresh  = errors.New("device kind has a fixed refresh interval")
)

// Factory builds a device of one kind.
type Factory func(ep Endpoint, label string) (Device, error)

// Kind is a catalog entry.
type Kind struct {
	Name        string
	Description string
	Table       schema.Table
	New         Factory
}

// Catalog maps stable kind names to factories.
type Catalog struct {
	mu    sync.RWMutex
	kinds map[string]Kind
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{kinds: make(map[string]Kind)}
}

// Register adds a kind. Names must be unique.
func (c *Catalog) Register(k Kind) error {
	if k.Name == "" || k.New == nil {
		return fmt.Errorf("register kind %q: name and factory are required", k.Name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.kinds[k.Name]; ok {
		return fmt.Errorf("register kind %q: %w", k.Name, ErrDuplicateKind)
	}
	c.kinds[k.Name] = k
	return nil
}

// Resolve looks a kind up by name.
func (c *Catalog) Resolve(name string) (Kind, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	k, ok := c.kinds[name]
	if !ok {
		return Kind{}, fmt.Errorf("%w: %q", ErrUnknownKind, name)
	}
	return k, nil
}

// Build resolves info.Kind and constructs the device, applying a refresh
// override when info carries one.
func (c *Catalog) Build(info Info) (Device, error) {
	k, err := c.Resolve(info.Kind)
	if err != nil {
		return nil, err
	}

	d, err := k.New(info.Endpoint, info.Label)
	if err != nil {
		return nil, fmt.Errorf("construct %s %s: %w", info.Kind, info.Endpoint, err)
	}
	if d == nil {
		return nil, fmt.Errorf("construct %s %s: factory returned no device", info.Kind, info.Endpoint)
	}

	if info.Refresh > 0 {
		t, ok := d.(Tunable)
		if !ok {
			return nil, fmt.Errorf("construct %s %s: %w", info.Kind, info.Endpoint, ErrFixedRefresh)
		}
		t.SetRefreshInterval(info.Refresh)
	}
	return d, nil
}

// Kinds returns all entries sorted by name.
func (c *Catalog) Kinds() []Kind {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Kind, 0, len(c.kinds))
	for _, k := range c.kinds {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Tables returns the measurement tables of all kinds that declare one.
func (c *Catalog) Tables() []schema.Table {
	var out []schema.Table
	for _, k := range c.Kinds() {
		if k.Table != nil {
			out = append(out, k.Table)
		}
	}
	return out
}

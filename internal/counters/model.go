// Package counters implements the hierarchical counter data model shared by
// every source: an Entities root holding Entity nodes, each holding trees of
// CounterInfo. The same shape describes what a source has, what a caller
// wants and what values were received. Leaf values are kept as text.
package counters

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// PathSeparator joins node names when a path is reported in an error.
const PathSeparator = "/"

// Unavailable is the sentinel a source reports for a leaf whose value could
// not be read. Absence (nil) must not be mixed with values among siblings.
const Unavailable = "-1"

// CounterInfo is a named counter descriptor. It either has children or may
// carry a value.
type CounterInfo struct {
	Name    string         `json:"name,omitempty"`
	Counter *string        `json:"counter,omitempty"`
	Subs    []*CounterInfo `json:"subs,omitempty"`
}

// Entity is a monitored unit (host, VM, outlet, JVM bean) holding counters.
type Entity struct {
	Name        string         `json:"name,omitempty"`
	IsAvailable bool           `json:"isAvailable,omitempty"`
	Subs        []*CounterInfo `json:"subs,omitempty"`
}

// Entities is the root of a counter tree.
type Entities struct {
	// Timestamp is milliseconds since the Unix epoch. It is stamped by the
	// monitor when a snapshot is produced, never by a source.
	Timestamp int64     `json:"timestamp,omitempty"`
	Subs      []*Entity `json:"subs,omitempty"`
}

// NewCounter returns a leaf without a value.
func NewCounter(name string) *CounterInfo {
	return &CounterInfo{Name: name}
}

// NewValue returns a leaf carrying value.
func NewValue(name string, value string) *CounterInfo {
	return &CounterInfo{Name: name, Counter: &value}
}

// NewGroup returns a counter whose children are subs.
func NewGroup(name string, subs ...*CounterInfo) *CounterInfo {
	if subs == nil {
		subs = []*CounterInfo{}
	}
	return &CounterInfo{Name: name, Subs: subs}
}

// NewEntity returns an entity holding subs.
func NewEntity(name string, available bool, subs ...*CounterInfo) *Entity {
	if subs == nil {
		subs = []*CounterInfo{}
	}
	return &Entity{Name: name, IsAvailable: available, Subs: subs}
}

// NewEntities returns a root holding subs.
func NewEntities(subs ...*Entity) *Entities {
	if subs == nil {
		subs = []*Entity{}
	}
	return &Entities{Subs: subs}
}

// FormatValue renders a source value in the textual leaf form. Floats use the
// shortest representation that round-trips.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return Unavailable
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case uint:
		return strconv.FormatUint(uint64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case uint32:
		return strconv.FormatUint(uint64(x), 10)
	case json.Number:
		return x.String()
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprintf("%v", x)
	}
}

// Value returns the leaf value and whether one is set.
func (c *CounterInfo) Value() (string, bool) {
	if c == nil || c.Counter == nil {
		return "", false
	}
	return *c.Counter, true
}

// SetValue stores v as the leaf value.
func (c *CounterInfo) SetValue(v string) {
	c.Counter = &v
}

// IsLeaf reports whether c has no children.
func (c *CounterInfo) IsLeaf() bool {
	return len(c.Subs) == 0
}

// Add appends children and returns c.
func (c *CounterInfo) Add(subs ...*CounterInfo) *CounterInfo {
	c.Subs = append(c.Subs, subs...)
	return c
}

// Child returns the first child named name.
func (c *CounterInfo) Child(name string) *CounterInfo {
	return findCounter(c.Subs, name)
}

// Add appends counters and returns e.
func (e *Entity) Add(subs ...*CounterInfo) *Entity {
	e.Subs = append(e.Subs, subs...)
	return e
}

// Child returns the first counter named name.
func (e *Entity) Child(name string) *CounterInfo {
	return findCounter(e.Subs, name)
}

// Add appends entities and returns es.
func (es *Entities) Add(subs ...*Entity) *Entities {
	es.Subs = append(es.Subs, subs...)
	return es
}

// Entity returns the first entity named name.
func (es *Entities) Entity(name string) *Entity {
	if es == nil {
		return nil
	}
	for _, e := range es.Subs {
		if e != nil && e.Name == name {
			return e
		}
	}
	return nil
}

// Lookup resolves a name path below the root, e.g. "Host", "CPU", "Core0".
func (es *Entities) Lookup(entity string, path ...string) *CounterInfo {
	e := es.Entity(entity)
	if e == nil || len(path) == 0 {
		return nil
	}
	c := e.Child(path[0])
	for _, name := range path[1:] {
		if c == nil {
			return nil
		}
		c = c.Child(name)
	}
	return c
}

// Marshal returns the JSON form of the tree.
func (es *Entities) Marshal() ([]byte, error) {
	return json.Marshal(es)
}

// Parse decodes a JSON tree.
func Parse(data []byte) (*Entities, error) {
	var es Entities
	if err := json.Unmarshal(data, &es); err != nil {
		return nil, fmt.Errorf("failed to parse counter tree: %w", err)
	}
	return &es, nil
}

func findCounter(list []*CounterInfo, name string) *CounterInfo {
	for _, c := range list {
		if c != nil && c.Name == name {
			return c
		}
	}
	return nil
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + PathSeparator + name
}

package counters

// Depths used by the level helpers: the root is level 0, entities level 1
// and top-level counters level 2.
const (
	levelEntity   = 1
	levelCounters = 2
)

// visit is called for each counter in pre-order with its depth and its
// name path.
type visit func(c *CounterInfo, depth int, path string)

func walkCounters(list []*CounterInfo, depth int, parent string, fn visit) {
	for _, c := range list {
		if c == nil {
			continue
		}
		p := joinPath(parent, c.Name)
		fn(c, depth, p)
		walkCounters(c.Subs, depth+1, p, fn)
	}
}

func (es *Entities) walk(fn visit) {
	if es == nil {
		return
	}
	for _, e := range es.Subs {
		if e == nil {
			continue
		}
		walkCounters(e.Subs, levelCounters, e.Name, fn)
	}
}

// DeepestLevel returns the greatest depth at which a counter sits, or -1 when
// the tree holds no counters at all.
func (es *Entities) DeepestLevel() int {
	deepest := -1
	es.walk(func(_ *CounterInfo, depth int, _ string) {
		if depth > deepest {
			deepest = depth
		}
	})
	return deepest
}

// LevelCounts returns the number of nodes at each depth, root included.
func (es *Entities) LevelCounts() []int {
	if es == nil {
		return nil
	}
	counts := []int{1}
	if len(es.Subs) > 0 {
		counts = append(counts, 0)
	}
	for _, e := range es.Subs {
		if e != nil {
			counts[levelEntity]++
		}
	}
	es.walk(func(_ *CounterInfo, depth int, _ string) {
		for len(counts) <= depth {
			counts = append(counts, 0)
		}
		counts[depth]++
	})
	return counts
}

// NodeCount returns the number of nodes in the tree, root included.
func (es *Entities) NodeCount() int {
	total := 0
	for _, n := range es.LevelCounts() {
		total += n
	}
	return total
}

// HasDuplicateNames reports whether some parent has two children sharing a
// name, at any depth.
func (es *Entities) HasDuplicateNames() bool {
	_, found := es.DuplicatePath()
	return found
}

// HasDuplicateNames reports whether some parent below e has two children
// sharing a name.
func (e *Entity) HasDuplicateNames() bool {
	if e == nil {
		return false
	}
	_, found := duplicateIn(e.Subs, e.Name)
	return found
}

// HasDuplicateNames reports whether some parent below c, c included, has two
// children sharing a name.
func (c *CounterInfo) HasDuplicateNames() bool {
	if c == nil {
		return false
	}
	_, found := duplicateIn(c.Subs, c.Name)
	return found
}

// DuplicatePath returns the path of the first duplicated name, top-down.
func (es *Entities) DuplicatePath() (string, bool) {
	if es == nil {
		return "", false
	}
	seen := make(map[string]struct{}, len(es.Subs))
	for _, e := range es.Subs {
		if e == nil {
			continue
		}
		if _, dup := seen[e.Name]; dup {
			return e.Name, true
		}
		seen[e.Name] = struct{}{}
	}
	for _, e := range es.Subs {
		if e == nil {
			continue
		}
		if path, found := duplicateIn(e.Subs, e.Name); found {
			return path, true
		}
	}
	return "", false
}

func duplicateIn(list []*CounterInfo, parent string) (string, bool) {
	seen := make(map[string]struct{}, len(list))
	for _, c := range list {
		if c == nil {
			continue
		}
		if _, dup := seen[c.Name]; dup {
			return joinPath(parent, c.Name), true
		}
		seen[c.Name] = struct{}{}
	}
	for _, c := range list {
		if c == nil {
			continue
		}
		if path, found := duplicateIn(c.Subs, joinPath(parent, c.Name)); found {
			return path, true
		}
	}
	return "", false
}

// DeepestValues flattens the values found at the deepest level in tree
// order. Leaves without a value contribute an empty string.
func (es *Entities) DeepestValues() []string {
	deepest := es.DeepestLevel()
	if deepest < 0 {
		return nil
	}
	var values []string
	es.walk(func(c *CounterInfo, depth int, _ string) {
		if depth != deepest {
			return
		}
		v, _ := c.Value()
		values = append(values, v)
	})
	return values
}

// DeepestPaths returns the name paths of the deepest-level counters in the
// same order as DeepestValues.
func (es *Entities) DeepestPaths() []string {
	deepest := es.DeepestLevel()
	if deepest < 0 {
		return nil
	}
	var paths []string
	es.walk(func(_ *CounterInfo, depth int, path string) {
		if depth == deepest {
			paths = append(paths, path)
		}
	})
	return paths
}

// valuesAbove returns the paths of counters above the given depth that carry
// a value.
func (es *Entities) valuesAbove(deepest int) []string {
	var paths []string
	es.walk(func(c *CounterInfo, depth int, path string) {
		if depth < deepest && c.Counter != nil {
			paths = append(paths, path)
		}
	})
	return paths
}

// mixedNulls returns the path of the first parent whose deepest-level
// children mix absent and present values.
func (es *Entities) mixedNulls(deepest int) (string, bool) {
	if es == nil {
		return "", false
	}
	if deepest == levelCounters {
		for _, e := range es.Subs {
			if e != nil && mixes(e.Subs) {
				return e.Name, true
			}
		}
		return "", false
	}
	var (
		path  string
		found bool
	)
	es.walk(func(c *CounterInfo, depth int, p string) {
		if found || depth != deepest-1 {
			return
		}
		if mixes(c.Subs) {
			path, found = p, true
		}
	})
	return path, found
}

func mixes(list []*CounterInfo) bool {
	var withValue, withoutValue bool
	for _, c := range list {
		if c == nil {
			continue
		}
		if c.Counter == nil {
			withoutValue = true
		} else {
			withValue = true
		}
	}
	return withValue && withoutValue
}

package counters

// SetCounters copies leaf values from src onto es, matching nodes by name at
// every level. es keeps its own shape and order. Entity availability is
// copied from the matching source entity.
//
// Nodes missing from src leave the existing value untouched; their paths are
// returned so the caller can log them.
func (es *Entities) SetCounters(src *Entities) []string {
	if es == nil || src == nil {
		return nil
	}
	var missing []string
	for _, to := range es.Subs {
		if to == nil {
			continue
		}
		from := src.Entity(to.Name)
		if from == nil {
			missing = append(missing, to.Name)
			continue
		}
		missing = append(missing, to.SetCounters(from)...)
	}
	return missing
}

// SetCounters copies leaf values from src onto e by name.
func (e *Entity) SetCounters(src *Entity) []string {
	if e == nil || src == nil {
		return nil
	}
	e.IsAvailable = src.IsAvailable
	return mergeCounters(e.Name, e.Subs, src.Subs)
}

// SetCounters copies leaf values from src onto c by name. When c is a leaf
// its own value is taken from src.
func (c *CounterInfo) SetCounters(src *CounterInfo) []string {
	if c == nil || src == nil {
		return nil
	}
	if c.IsLeaf() {
		c.Counter = copyValue(src.Counter)
		return nil
	}
	return mergeCounters(c.Name, c.Subs, src.Subs)
}

func mergeCounters(path string, to, from []*CounterInfo) []string {
	var missing []string
	for _, t := range to {
		if t == nil {
			continue
		}
		f := findCounter(from, t.Name)
		if f == nil {
			missing = append(missing, joinPath(path, t.Name))
			continue
		}
		if t.IsLeaf() {
			t.Counter = copyValue(f.Counter)
			continue
		}
		missing = append(missing, mergeCounters(joinPath(path, t.Name), t.Subs, f.Subs)...)
	}
	return missing
}

func copyValue(v *string) *string {
	if v == nil {
		return nil
	}
	s := *v
	return &s
}

// Project returns a copy of wanted carrying the values found in full. It lets
// a source that always reads everything hand back only the wanted subset.
func Project(full, wanted *Entities) *Entities {
	out := wanted.Shape()
	if out == nil {
		return nil
	}
	out.SetCounters(full)
	return out
}

// ProjectFilled is Project with every deepest leaf that full did not supply
// set to Unavailable, so a partial read never mixes absent and present
// values. Wanted entities that full no longer has are left out, so the
// snapshot reports them as gone instead of hiding them behind sentinels.
func ProjectFilled(full, wanted *Entities) *Entities {
	out := Project(full, wanted)
	if out == nil {
		return nil
	}
	if full != nil {
		kept := out.Subs[:0]
		for _, e := range out.Subs {
			if e != nil && full.Entity(e.Name) != nil {
				kept = append(kept, e)
			}
		}
		out.Subs = kept
	}
	deepest := out.DeepestLevel()
	out.walk(func(c *CounterInfo, depth int, _ string) {
		if depth == deepest && c.Counter == nil {
			c.SetValue(Unavailable)
		}
	})
	return out
}

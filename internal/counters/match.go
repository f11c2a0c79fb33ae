package counters

// Match reports whether c and o are structurally equivalent: equal names,
// equal values when matchCounters is set, and children that pair up one to
// one in any order.
func (c *CounterInfo) Match(o *CounterInfo, matchCounters bool) bool {
	if c == nil || o == nil {
		return c == o
	}
	if c.Name != o.Name {
		return false
	}
	if matchCounters && !sameValue(c.Counter, o.Counter) {
		return false
	}
	return matchLists(c.Subs, o.Subs, func(x, y *CounterInfo) bool {
		return x.Match(y, matchCounters)
	})
}

// Match reports whether e and o are structurally equivalent. Availability is
// not part of the structure.
func (e *Entity) Match(o *Entity, matchCounters bool) bool {
	if e == nil || o == nil {
		return e == o
	}
	if e.Name != o.Name {
		return false
	}
	return matchLists(e.Subs, o.Subs, func(x, y *CounterInfo) bool {
		return x.Match(y, matchCounters)
	})
}

// Match reports whether es and o hold equivalent entities in any order. The
// timestamp is ignored.
func (es *Entities) Match(o *Entities, matchCounters bool) bool {
	if es == nil || o == nil {
		return es == o
	}
	return matchLists(es.Subs, o.Subs, func(x, y *Entity) bool {
		return x.Match(y, matchCounters)
	})
}

// matchLists pairs every element of a with a distinct element of b. A nil
// list only matches a nil list. Greedy pairing is complete because eq is an
// equivalence relation.
func matchLists[T any](a, b []T, eq func(x, y T) bool) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	if len(a) != len(b) {
		return false
	}
	used := make([]bool, len(b))
	paired := 0
	for _, x := range a {
		for j, y := range b {
			if used[j] || !eq(x, y) {
				continue
			}
			used[j] = true
			paired++
			break
		}
	}
	return paired == len(a)
}

func sameValue(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

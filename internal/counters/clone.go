package counters

// Clone returns a deep copy of c. A nil children list stays nil.
func (c *CounterInfo) Clone() *CounterInfo {
	if c == nil {
		return nil
	}
	out := &CounterInfo{Name: c.Name}
	if c.Counter != nil {
		v := *c.Counter
		out.Counter = &v
	}
	out.Subs = cloneCounters(c.Subs)
	return out
}

// Clone returns a deep copy of e.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	return &Entity{
		Name:        e.Name,
		IsAvailable: e.IsAvailable,
		Subs:        cloneCounters(e.Subs),
	}
}

// Clone returns a deep copy of es including its timestamp.
func (es *Entities) Clone() *Entities {
	if es == nil {
		return nil
	}
	out := &Entities{Timestamp: es.Timestamp}
	if es.Subs != nil {
		out.Subs = make([]*Entity, len(es.Subs))
		for i, e := range es.Subs {
			out.Subs[i] = e.Clone()
		}
	}
	return out
}

// Shape returns a deep copy of es with every value and the timestamp
// removed. It turns a discovery or values tree into a wanted tree.
func (es *Entities) Shape() *Entities {
	out := es.Clone()
	if out == nil {
		return nil
	}
	out.Timestamp = 0
	for _, e := range out.Subs {
		if e != nil {
			clearValues(e.Subs)
		}
	}
	return out
}

func cloneCounters(list []*CounterInfo) []*CounterInfo {
	if list == nil {
		return nil
	}
	out := make([]*CounterInfo, len(list))
	for i, c := range list {
		out[i] = c.Clone()
	}
	return out
}

func clearValues(list []*CounterInfo) {
	for _, c := range list {
		if c == nil {
			continue
		}
		c.Counter = nil
		clearValues(c.Subs)
	}
}

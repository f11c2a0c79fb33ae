package counters

import (
	"math/rand/v2"

	perrors "perfwatch/internal/errors"
)

// RandomWanted draws a plausible wanted tree from a discovery tree. At every
// branching level each eligible sibling is kept with probability one half and
// the draw is repeated until at least one is kept, so no selected node ends
// up with an empty children list. Only available entities that expose
// counters are eligible. Values are not copied.
func RandomWanted(available *Entities, rng *rand.Rand) (*Entities, error) {
	if available == nil {
		return nil, perrors.MalformedTree("discovery tree is nil", "")
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	var eligible []*Entity
	for _, e := range available.Subs {
		if e != nil && e.IsAvailable && len(e.Subs) > 0 {
			eligible = append(eligible, e)
		}
	}
	if len(eligible) == 0 {
		return nil, perrors.MalformedTree("discovery tree has no available entity with counters", "")
	}

	out := &Entities{}
	for _, e := range pick(eligible, rng) {
		out.Subs = append(out.Subs, &Entity{
			Name:        e.Name,
			IsAvailable: e.IsAvailable,
			Subs:        randomCounters(e.Subs, rng),
		})
	}
	return out, nil
}

func randomCounters(list []*CounterInfo, rng *rand.Rand) []*CounterInfo {
	var candidates []*CounterInfo
	for _, c := range list {
		if c != nil {
			candidates = append(candidates, c)
		}
	}
	chosen := pick(candidates, rng)
	out := make([]*CounterInfo, 0, len(chosen))
	for _, c := range chosen {
		n := &CounterInfo{Name: c.Name}
		switch {
		case len(c.Subs) > 0:
			n.Subs = randomCounters(c.Subs, rng)
		case c.Subs != nil:
			n.Subs = []*CounterInfo{}
		}
		out = append(out, n)
	}
	return out
}

// pick keeps each element with probability one half, retrying until the
// result is non-empty. An empty input yields an empty result.
func pick[T any](list []T, rng *rand.Rand) []T {
	if len(list) == 0 {
		return nil
	}
	for {
		var kept []T
		for _, x := range list {
			if rng.IntN(2) == 1 {
				kept = append(kept, x)
			}
		}
		if len(kept) > 0 {
			return kept
		}
	}
}

// AtLeastOnePerLevel reports whether every selected entity and group in es
// keeps at least one child. It is the invariant RandomWanted guarantees.
func AtLeastOnePerLevel(es *Entities) bool {
	if es == nil || len(es.Subs) == 0 {
		return false
	}
	for _, e := range es.Subs {
		if e == nil || len(e.Subs) == 0 {
			return false
		}
		if !nonEmptyGroups(e.Subs) {
			return false
		}
	}
	return true
}

func nonEmptyGroups(list []*CounterInfo) bool {
	for _, c := range list {
		if c == nil {
			return false
		}
		if c.Subs != nil && len(c.Subs) == 0 {
			return false
		}
		if !nonEmptyGroups(c.Subs) {
			return false
		}
	}
	return true
}

package counters

import (
	"strings"

	perrors "perfwatch/internal/errors"
)

// AllWanted selects everything a discovery tree offers that a monitor can
// actually watch: every available entity that has counters, with all of its
// counters. Values are not copied.
func AllWanted(available *Entities) (*Entities, error) {
	if available == nil {
		return nil, perrors.MalformedTree("discovery tree is nil", "")
	}
	out := &Entities{}
	for _, e := range available.Subs {
		if e == nil || !e.IsAvailable || len(e.Subs) == 0 {
			continue
		}
		out.Subs = append(out.Subs, &Entity{
			Name:        e.Name,
			IsAvailable: true,
			Subs:        cloneCounters(e.Subs),
		})
	}
	if len(out.Subs) == 0 {
		return nil, perrors.MalformedTree("discovery tree has no available entity with counters", "")
	}
	return out.Shape(), nil
}

// Select builds a wanted tree from slash separated paths such as
// "Host/CPU/Core0" or "Host/Memory". A path naming a group selects the
// whole group. Paths are resolved against available so leaves and groups
// keep the shape the source reports.
func Select(available *Entities, paths ...string) (*Entities, error) {
	if available == nil {
		return nil, perrors.MalformedTree("discovery tree is nil", "")
	}
	out := &Entities{}
	for _, p := range paths {
		parts := splitPath(p)
		if len(parts) == 0 {
			continue
		}
		src := available.Entity(parts[0])
		if src == nil {
			return nil, perrors.StructuralMismatch("unknown entity " + parts[0])
		}
		dst := out.Entity(parts[0])
		if dst == nil {
			dst = &Entity{Name: src.Name, IsAvailable: src.IsAvailable}
			out.Subs = append(out.Subs, dst)
		}
		if len(parts) == 1 {
			dst.Subs = cloneCounters(src.Subs)
			continue
		}
		if err := selectPath(&dst.Subs, src.Subs, parts[0], parts[1:]); err != nil {
			return nil, err
		}
	}
	if len(out.Subs) == 0 {
		return nil, perrors.MalformedTree("no counters selected", "")
	}
	return out.Shape(), nil
}

// Retain returns the part of wanted that available still offers: entities
// that are gone or no longer available are dropped, as are counters the
// source stopped reporting and nodes left without children. The dropped
// paths are returned in wanted order. The result is nil when nothing is
// left.
func Retain(wanted, available *Entities) (*Entities, []string) {
	if wanted == nil {
		return nil, nil
	}
	out := &Entities{}
	var dropped []string
	for _, w := range wanted.Subs {
		if w == nil {
			continue
		}
		a := available.Entity(w.Name)
		if a == nil || !a.IsAvailable {
			dropped = append(dropped, w.Name)
			continue
		}
		subs, gone := retainCounters(w.Name, w.Subs, a.Subs)
		dropped = append(dropped, gone...)
		if len(subs) == 0 {
			if len(gone) == 0 {
				dropped = append(dropped, w.Name)
			}
			continue
		}
		out.Subs = append(out.Subs, &Entity{Name: w.Name, IsAvailable: true, Subs: subs})
	}
	if len(out.Subs) == 0 {
		return nil, dropped
	}
	return out.Shape(), dropped
}

func retainCounters(path string, wanted, offered []*CounterInfo) ([]*CounterInfo, []string) {
	var kept []*CounterInfo
	var dropped []string
	for _, w := range wanted {
		if w == nil {
			continue
		}
		p := joinPath(path, w.Name)
		o := findCounter(offered, w.Name)
		if o == nil || w.IsLeaf() != o.IsLeaf() {
			dropped = append(dropped, p)
			continue
		}
		if w.IsLeaf() {
			kept = append(kept, w.Clone())
			continue
		}
		subs, gone := retainCounters(p, w.Subs, o.Subs)
		dropped = append(dropped, gone...)
		if len(subs) > 0 {
			kept = append(kept, &CounterInfo{Name: w.Name, Subs: subs})
		}
	}
	return kept, dropped
}

func selectPath(dst *[]*CounterInfo, offered []*CounterInfo, parent string, parts []string) error {
	path := joinPath(parent, parts[0])
	src := findCounter(offered, parts[0])
	if src == nil {
		return perrors.StructuralMismatch("unknown counter " + path)
	}
	node := findCounter(*dst, parts[0])
	if node == nil {
		node = &CounterInfo{Name: src.Name}
		*dst = append(*dst, node)
	}
	if len(parts) == 1 {
		node.Subs = cloneCounters(src.Subs)
		return nil
	}
	if src.IsLeaf() {
		return perrors.StructuralMismatch("counter " + path + " has no children")
	}
	return selectPath(&node.Subs, src.Subs, path, parts[1:])
}

func splitPath(p string) []string {
	var parts []string
	for _, part := range strings.Split(p, PathSeparator) {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}

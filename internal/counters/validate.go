package counters

import (
	"fmt"
	"strings"

	perrors "perfwatch/internal/errors"
)

// Validation is the outcome of a successful ValidateCounters call.
type Validation struct {
	// Values are the deepest-level values of the snapshot in tree order.
	Values []string
	// Warnings name counters that carry a value above the deepest level.
	Warnings []string
}

// ValidateCounters checks a values tree against the wanted tree it was
// requested with. It fails with a MalformedTree error on duplicate sibling
// names, on deepest-level siblings mixing absent and present values, on a
// negative wanted level or when the node counts differ, and with a
// StructuralMismatch error when an entity appeared or vanished or the
// shapes do not match.
func ValidateCounters(snapshot, wanted *Entities) (*Validation, error) {
	if snapshot == nil {
		return nil, perrors.MalformedTree("received tree is nil", "")
	}
	if wanted == nil {
		return nil, perrors.MalformedTree("wanted tree is nil", "")
	}

	level := wanted.DeepestLevel()
	if level < 0 {
		return nil, perrors.MalformedTree(fmt.Sprintf("wanted level is negative (%d): wanted tree selects no counters", level), "")
	}

	if path, dup := snapshot.DuplicatePath(); dup {
		return nil, perrors.MalformedTree(fmt.Sprintf("duplicate counter name %s", path), path)
	}

	deepest := snapshot.DeepestLevel()
	if path, mixed := snapshot.mixedNulls(deepest); mixed {
		return nil, perrors.MalformedTree(
			fmt.Sprintf("counters under %s mix absent and present values; report %q instead of omitting a value", path, Unavailable),
			path)
	}

	if msg, changed := entityChange(snapshot, wanted); changed {
		return nil, perrors.StructuralMismatch(msg)
	}

	received, want := snapshot.NodeCount(), wanted.NodeCount()
	if received != want {
		return nil, perrors.MalformedTree(fmt.Sprintf("#received (%d) != #wanted (%d)", received, want), "")
	}

	if !snapshot.Match(wanted, false) {
		return nil, perrors.StructuralMismatch(fmt.Sprintf("received tree does not match wanted tree: %s", describeMismatch(snapshot, wanted)))
	}

	return &Validation{
		Values:   snapshot.DeepestValues(),
		Warnings: snapshot.valuesAbove(deepest),
	}, nil
}

// ValidateWanted checks a caller-supplied wanted tree against what the
// source has. Every wanted path must exist in available, selected entities
// must be available and every selected node must keep at least one child
// where the source offers children.
func ValidateWanted(wanted, available *Entities) error {
	if wanted == nil || len(wanted.Subs) == 0 {
		return perrors.MalformedTree("wanted tree selects no entities", "")
	}
	if wanted.DeepestLevel() < 0 {
		return perrors.MalformedTree("wanted level is negative: wanted tree selects no counters", "")
	}
	if path, dup := wanted.DuplicatePath(); dup {
		return perrors.MalformedTree(fmt.Sprintf("duplicate counter name %s", path), path)
	}
	if available == nil {
		return nil
	}
	for _, w := range wanted.Subs {
		if w == nil {
			return perrors.MalformedTree("wanted tree holds a nil entity", "")
		}
		a := available.Entity(w.Name)
		if a == nil {
			return perrors.StructuralMismatch(fmt.Sprintf("entity %s is not offered by the source", w.Name))
		}
		if !a.IsAvailable {
			return perrors.MalformedTree(fmt.Sprintf("entity %s is not available", w.Name), w.Name)
		}
		if len(w.Subs) == 0 {
			return perrors.MalformedTree(fmt.Sprintf("entity %s selects no counters", w.Name), w.Name)
		}
		if err := containsCounters(w.Name, w.Subs, a.Subs); err != nil {
			return err
		}
	}
	return nil
}

func containsCounters(path string, wanted, offered []*CounterInfo) error {
	for _, w := range wanted {
		if w == nil {
			return perrors.MalformedTree(fmt.Sprintf("nil counter under %s", path), path)
		}
		p := joinPath(path, w.Name)
		o := findCounter(offered, w.Name)
		if o == nil {
			return perrors.StructuralMismatch(fmt.Sprintf("counter %s is not offered by the source", p))
		}
		switch {
		case w.IsLeaf() && !o.IsLeaf():
			return perrors.MalformedTree(fmt.Sprintf("counter %s selects no children", p), p)
		case !w.IsLeaf() && o.IsLeaf():
			return perrors.StructuralMismatch(fmt.Sprintf("counter %s has no children at the source", p))
		case !w.IsLeaf():
			if err := containsCounters(p, w.Subs, o.Subs); err != nil {
				return err
			}
		}
	}
	return nil
}

// entityChange reports the first wanted entity missing from got, or the
// first entity got has that was not wanted.
func entityChange(got, want *Entities) (string, bool) {
	for _, w := range want.Subs {
		if w != nil && got.Entity(w.Name) == nil {
			return fmt.Sprintf("entity %s vanished from the source", w.Name), true
		}
	}
	for _, g := range got.Subs {
		if g != nil && want.Entity(g.Name) == nil {
			return fmt.Sprintf("entity %s was not wanted", g.Name), true
		}
	}
	return "", false
}

// describeMismatch names the first entity or counter present on one side
// only, for operator-facing messages.
func describeMismatch(got, want *Entities) string {
	gotPaths := pathSet(got)
	wantPaths := pathSet(want)
	var extra, missing []string
	for _, p := range orderedPaths(want) {
		if _, ok := gotPaths[p]; !ok {
			missing = append(missing, p)
		}
	}
	for _, p := range orderedPaths(got) {
		if _, ok := wantPaths[p]; !ok {
			extra = append(extra, p)
		}
	}
	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "missing "+strings.Join(limit(missing, 5), ", "))
	}
	if len(extra) > 0 {
		parts = append(parts, "unexpected "+strings.Join(limit(extra, 5), ", "))
	}
	if len(parts) == 0 {
		return "children differ in shape"
	}
	return strings.Join(parts, "; ")
}

func orderedPaths(es *Entities) []string {
	var paths []string
	if es == nil {
		return nil
	}
	for _, e := range es.Subs {
		if e != nil {
			paths = append(paths, e.Name)
		}
	}
	es.walk(func(_ *CounterInfo, _ int, path string) {
		paths = append(paths, path)
	})
	return paths
}

func pathSet(es *Entities) map[string]struct{} {
	paths := orderedPaths(es)
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
	}
	return set
}

func limit(list []string, n int) []string {
	if len(list) <= n {
		return list
	}
	return append(list[:n:n], fmt.Sprintf("(+%d more)", len(list)-n))
}

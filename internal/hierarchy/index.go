// Package hierarchy indexes the organizational unit tree for ancestor and
// descendant queries.
//
// Units are stored in an arena keyed by id and linked through id adjacency,
// never through pointers. Every traversal keeps a visited set, so a parent
// chain corrupted into a cycle still terminates in O(n).
//
// An Index is an immutable snapshot. Callers build a fresh one per request
// from UnitRepository.FindAllWithHierarchy instead of caching it.
package hierarchy

import (
	"sort"

	"github.com/sgc-labs/sgc-go/internal/domain"
)

type Index struct {
	units    map[domain.UnitID]domain.Unit
	children map[domain.UnitID][]domain.UnitID
}

func New(units []domain.Unit) *Index {
	idx := &Index{
		units:    make(map[domain.UnitID]domain.Unit, len(units)),
		children: make(map[domain.UnitID][]domain.UnitID),
	}
	for _, u := range units {
		idx.units[u.ID] = u
	}
	for _, u := range units {
		if u.ParentID == nil || *u.ParentID == u.ID {
			continue
		}
		idx.children[*u.ParentID] = append(idx.children[*u.ParentID], u.ID)
	}
	for parent := range idx.children {
		kids := idx.children[parent]
		sort.Slice(kids, func(i, j int) bool { return kids[i] < kids[j] })
	}
	return idx
}

func (idx *Index) Len() int {
	return len(idx.units)
}

func (idx *Index) Unit(id domain.UnitID) (domain.Unit, bool) {
	u, ok := idx.units[id]
	return u, ok
}

func (idx *Index) Children(id domain.UnitID) []domain.UnitID {
	return append([]domain.UnitID(nil), idx.children[id]...)
}

// Descendants returns every unit reachable below id, excluding id itself.
func (idx *Index) Descendants(id domain.UnitID) map[domain.UnitID]struct{} {
	out := make(map[domain.UnitID]struct{})
	visited := map[domain.UnitID]struct{}{id: {}}
	queue := []domain.UnitID{id}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, child := range idx.children[current] {
			if _, seen := visited[child]; seen {
				continue
			}
			visited[child] = struct{}{}
			out[child] = struct{}{}
			queue = append(queue, child)
		}
	}
	return out
}

// Subtree returns id plus all of its descendants.
func (idx *Index) Subtree(id domain.UnitID) map[domain.UnitID]struct{} {
	out := idx.Descendants(id)
	out[id] = struct{}{}
	return out
}

// Ancestors walks parent pointers upward, nearest first.
func (idx *Index) Ancestors(id domain.UnitID) []domain.UnitID {
	var out []domain.UnitID
	visited := map[domain.UnitID]struct{}{id: {}}
	current, ok := idx.units[id]
	for ok && current.ParentID != nil {
		parent := *current.ParentID
		if _, seen := visited[parent]; seen {
			break
		}
		visited[parent] = struct{}{}
		out = append(out, parent)
		current, ok = idx.units[parent]
	}
	return out
}

// AncestorChainContains reports whether candidate appears above id.
func (idx *Index) AncestorChainContains(id, candidate domain.UnitID) bool {
	for _, ancestor := range idx.Ancestors(id) {
		if ancestor == candidate {
			return true
		}
	}
	return false
}

// Expand returns the union of the subtrees rooted at ids, sorted.
func (idx *Index) Expand(ids []domain.UnitID) []domain.UnitID {
	set := make(map[domain.UnitID]struct{})
	for _, id := range ids {
		for member := range idx.Subtree(id) {
			set[member] = struct{}{}
		}
	}
	return SortedIDs(set)
}

func SortedIDs(set map[domain.UnitID]struct{}) []domain.UnitID {
	out := make([]domain.UnitID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

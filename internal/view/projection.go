// Package view derives display-ready task lists from a collection snapshot.
// Nothing here mutates or feeds back into canonical state.
package view

import (
	"sort"

	"github.com/nhle/taskdesk/internal/model"
	"github.com/nhle/taskdesk/internal/tasks"
)

// SortKey selects the display order.
type SortKey string

const (
	CreatedAsc  SortKey = "created-asc"
	CreatedDesc SortKey = "created-desc"
	DueAsc      SortKey = "due-asc"
	DueDesc     SortKey = "due-desc"
)

var sortKeys = []SortKey{CreatedDesc, CreatedAsc, DueAsc, DueDesc}

var sortLabels = map[SortKey]string{
	CreatedAsc:  "Oldest first",
	CreatedDesc: "Newest first",
	DueAsc:      "Due soonest",
	DueDesc:     "Due latest",
}

// SortKeys returns the keys in the order the UI cycles through them.
func SortKeys() []SortKey {
	return append([]SortKey(nil), sortKeys...)
}

// ParseSortKey maps a configuration or flag value to a SortKey.
func ParseSortKey(s string) (SortKey, bool) {
	k := SortKey(s)
	_, ok := sortLabels[k]
	return k, ok
}

// Label is the human-readable name of the key.
func (k SortKey) Label() string {
	if l, ok := sortLabels[k]; ok {
		return l
	}
	return "Server order"
}

// Next returns the key after k in the UI cycle.
func (k SortKey) Next() SortKey {
	for i, v := range sortKeys {
		if v == k {
			return sortKeys[(i+1)%len(sortKeys)]
		}
	}
	return sortKeys[0]
}

// Project filters and orders the snapshot's tasks. The override filter
// replaces the snapshot filter when non-nil. Sorting is stable; an unknown
// key keeps the canonical order. The result is a fresh slice.
func Project(snap tasks.Snapshot, override *tasks.Filter, key SortKey) []model.Task {
	f := snap.Filter
	if override != nil {
		f = *override
	}

	out := make([]model.Task, 0, len(snap.Tasks))
	for _, t := range snap.Tasks {
		if f.Matches(t) {
			out = append(out, t.Clone())
		}
	}

	if less := lessFunc(key, out); less != nil {
		sort.SliceStable(out, less)
	}
	return out
}

func lessFunc(key SortKey, list []model.Task) func(i, j int) bool {
	switch key {
	case CreatedAsc:
		return func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) }
	case CreatedDesc:
		return func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) }
	case DueAsc:
		// Missing due dates sort last.
		return func(i, j int) bool {
			a, b := list[i].DueDate, list[j].DueDate
			switch {
			case a == nil:
				return false
			case b == nil:
				return true
			default:
				return a.Before(*b)
			}
		}
	case DueDesc:
		// Missing due dates sort first.
		return func(i, j int) bool {
			a, b := list[i].DueDate, list[j].DueDate
			switch {
			case a == nil:
				return b != nil
			case b == nil:
				return false
			default:
				return a.After(*b)
			}
		}
	default:
		return nil
	}
}

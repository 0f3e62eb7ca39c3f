// Package party defines device identities and their deterministic mapping
// onto the small positive integers FROST uses internally.
package party

import (
	"errors"
	"sort"
)

// ID is an opaque device identifier. It is unique within a session but
// carries no other structure the core relies on.
type ID string

// IDSlice is a sortable, searchable list of device identifiers.
type IDSlice []ID

func (s IDSlice) Len() int           { return len(s) }
func (s IDSlice) Less(i, j int) bool { return s[i] < s[j] }
func (s IDSlice) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }

// Sorted returns a sorted copy of s.
func (s IDSlice) Sorted() IDSlice {
	out := make(IDSlice, len(s))
	copy(out, s)
	sort.Sort(out)
	return out
}

// Contains reports whether id appears in s.
func (s IDSlice) Contains(id ID) bool {
	for _, x := range s {
		if x == id {
			return true
		}
	}
	return false
}

// Unique reports whether every element of s is distinct.
func (s IDSlice) Unique() bool {
	seen := make(map[ID]struct{}, len(s))
	for _, id := range s {
		if _, ok := seen[id]; ok {
			return false
		}
		seen[id] = struct{}{}
	}
	return true
}

// ErrNotParticipant is returned when an ID is not present in a roster whose
// index it was asked for.
var ErrNotParticipant = errors.New("party: id is not a participant")

// IndexMap is the stable device_id <-> index mapping for one session,
// derived once from the sorted participant list (spec.md §3).
type IndexMap struct {
	ids     IDSlice // sorted; ids[i] has index i+1
	indexOf map[ID]int
}

// DeriveIndices computes the device_id -> index map for a participant
// roster. The mapping is a pure function of the sorted ID list, so every
// participant who is handed the same roster independently derives the same
// map (spec.md Testable Property 2).
func DeriveIndices(participants []ID) (*IndexMap, error) {
	if len(participants) == 0 {
		return nil, errors.New("party: empty participant list")
	}
	roster := IDSlice(participants).Sorted()
	if !IDSlice(participants).Unique() {
		return nil, errors.New("party: duplicate participant id")
	}
	indexOf := make(map[ID]int, len(roster))
	for i, id := range roster {
		indexOf[id] = i + 1
	}
	return &IndexMap{ids: roster, indexOf: indexOf}, nil
}

// Index returns the 1-based index for id.
func (m *IndexMap) Index(id ID) (int, error) {
	idx, ok := m.indexOf[id]
	if !ok {
		return 0, ErrNotParticipant
	}
	return idx, nil
}

// ID returns the device identifier holding the given 1-based index.
func (m *IndexMap) ID(index int) (ID, error) {
	if index < 1 || index > len(m.ids) {
		return "", ErrNotParticipant
	}
	return m.ids[index-1], nil
}

// N returns the number of participants in the roster.
func (m *IndexMap) N() int { return len(m.ids) }

// IDs returns the sorted roster.
func (m *IndexMap) IDs() IDSlice { return m.ids }

// Indices returns every index 1..n.
func (m *IndexMap) Indices() []int {
	out := make([]int, len(m.ids))
	for i := range out {
		out[i] = i + 1
	}
	return out
}

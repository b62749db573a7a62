package models

import "sort"

// SortAtomsCanonical sorts atoms by (timestampUtc ASC, role per the
// user-before-assistant rule, atomStableId ASC) — the raw-entry content
// ordering from spec §3's rawEntry.contentHash definition.
func SortAtomsCanonical(atoms []MessageAtom) {
	sort.SliceStable(atoms, func(i, j int) bool {
		return lessCanonical(atoms[i], atoms[j])
	})
}

// SortAtomsForBundle sorts atoms by (source ASC, timestampUtc ASC, role per
// the user-before-assistant rule, atomStableId ASC) — the bundle ordering
// from spec §4.D / §9.1.
func SortAtomsForBundle(atoms []MessageAtom) {
	sort.SliceStable(atoms, func(i, j int) bool {
		if atoms[i].Source != atoms[j].Source {
			return atoms[i].Source < atoms[j].Source
		}
		return lessCanonical(atoms[i], atoms[j])
	})
}

func lessCanonical(a, b MessageAtom) bool {
	if !a.TimestampUTC.Equal(b.TimestampUTC) {
		return a.TimestampUTC.Before(b.TimestampUTC)
	}
	if a.Role != b.Role {
		return a.Role.Before(b.Role)
	}
	return a.AtomStableID < b.AtomStableID
}

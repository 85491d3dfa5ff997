package flowfile

import (
	"fmt"
	"strings"
)

// FirstInFirstOutPrioritizer orders records by entry date, oldest first.
type FirstInFirstOutPrioritizer struct{}

func (FirstInFirstOutPrioritizer) Compare(a, b Record) int {
	return a.EntryDate().Compare(b.EntryDate())
}

// NewestFirstPrioritizer orders records by entry date, newest first.
type NewestFirstPrioritizer struct{}

func (NewestFirstPrioritizer) Compare(a, b Record) int {
	return b.EntryDate().Compare(a.EntryDate())
}

// OldestLineagePrioritizer orders records by lineage start date, so the
// records that have been in the flow longest are processed first.
type OldestLineagePrioritizer struct{}

func (OldestLineagePrioritizer) Compare(a, b Record) int {
	return a.LineageStartDate().Compare(b.LineageStartDate())
}

// AttributePrioritizer orders records by the lexicographic value of a
// single attribute. Records missing the attribute sort last.
type AttributePrioritizer struct {
	Attribute string
}

func (p AttributePrioritizer) Compare(a, b Record) int {
	av, aok := a.Attributes()[p.Attribute]
	bv, bok := b.Attributes()[p.Attribute]
	switch {
	case !aok && !bok:
		return 0
	case !aok:
		return 1
	case !bok:
		return -1
	}
	return strings.Compare(av, bv)
}

// PrioritizerByName resolves a configured prioritizer name. Names of the
// form "attribute:<name>" resolve to an AttributePrioritizer.
func PrioritizerByName(name string) (Prioritizer, error) {
	if attr, ok := strings.CutPrefix(name, "attribute:"); ok {
		if attr == "" {
			return nil, fmt.Errorf("attribute prioritizer requires an attribute name")
		}
		return AttributePrioritizer{Attribute: attr}, nil
	}
	switch name {
	case "first-in-first-out":
		return FirstInFirstOutPrioritizer{}, nil
	case "newest-first":
		return NewestFirstPrioritizer{}, nil
	case "oldest-lineage":
		return OldestLineagePrioritizer{}, nil
	}
	return nil, fmt.Errorf("unknown prioritizer %q", name)
}

package reference

import (
	"fmt"
	"sort"
	"strings"
)

// AllTissues is the sentinel tissue selection meaning "no tissue restriction".
const AllTissues = "All"

// TissueFilter restricts rows to a set of tissues. The zero value selects all tissues.
type TissueFilter struct {
	names []string
	set   map[string]struct{}
}

// NewTissueFilter builds a filter from selected tissue names. An empty selection
// or one containing "All" selects every tissue.
func NewTissueFilter(names ...string) TissueFilter {
	f := TissueFilter{set: make(map[string]struct{}, len(names))}
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if n == AllTissues {
			return TissueFilter{}
		}
		if _, ok := f.set[n]; ok {
			continue
		}
		f.set[n] = struct{}{}
		f.names = append(f.names, n)
	}
	if len(f.names) == 0 {
		return TissueFilter{}
	}
	return f
}

// All reports whether the filter selects every tissue.
func (f TissueFilter) All() bool {
	return len(f.names) == 0
}

// Allows reports whether rows from tissue pass the filter.
func (f TissueFilter) Allows(tissue string) bool {
	if f.All() {
		return true
	}
	_, ok := f.set[tissue]
	return ok
}

// Names returns the selected tissues, or ["All"].
func (f TissueFilter) Names() []string {
	if f.All() {
		return []string{AllTissues}
	}
	out := make([]string, len(f.names))
	copy(out, f.names)
	return out
}

// String joins the selected tissue names with ", ".
func (f TissueFilter) String() string {
	return strings.Join(f.Names(), ", ")
}

// ListTissues returns the tissues present for species ordered by descending row
// count, ties in first-seen order, with "All" prepended at index 0.
func ListTissues(rows []Row, species Species) []string {
	counts := make(map[string]int)
	var order []string
	for _, r := range rows {
		if r.Species != species || r.Tissue == "" {
			continue
		}
		if _, ok := counts[r.Tissue]; !ok {
			order = append(order, r.Tissue)
		}
		counts[r.Tissue]++
	}
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	return append([]string{AllTissues}, order...)
}

// ValidateTissues checks that every tissue in filter is present for species.
func ValidateTissues(rows []Row, species Species, filter TissueFilter) error {
	if !species.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidSpecies, int(species))
	}
	if filter.All() {
		return nil
	}
	known := make(map[string]struct{})
	for _, r := range rows {
		if r.Species == species {
			known[r.Tissue] = struct{}{}
		}
	}
	var unknown []string
	for _, n := range filter.names {
		if _, ok := known[n]; !ok {
			unknown = append(unknown, n)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("%w: %s not present for %s", ErrInvalidTissue, strings.Join(unknown, ", "), species)
	}
	return nil
}

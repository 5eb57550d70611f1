package reference

import (
	"github.com/celltaxonomy/server/internal/genes"
	"github.com/montanaflynn/stats"
)

// Profile lists the known markers of one cell type.
type Profile struct {
	CellType string
	Markers  []string
}

// Profiles maps cell types to their known marker keys, in first-seen order.
// Every cell type has at least one marker.
type Profiles struct {
	order   []string
	markers map[string]map[string]struct{}
}

// NewProfiles builds Profiles from explicit marker lists. Markers are reduced to
// comparison keys; repeated cell types are merged and empty profiles dropped.
func NewProfiles(profiles ...Profile) Profiles {
	p := Profiles{markers: make(map[string]map[string]struct{}, len(profiles))}
	for _, pr := range profiles {
		for _, m := range pr.Markers {
			p.add(pr.CellType, m)
		}
	}
	return p
}

// BuildProfiles groups rows by cell type, splitting each Cell_Marker field on commas.
func BuildProfiles(rows []Row) Profiles {
	p := Profiles{markers: make(map[string]map[string]struct{})}
	for _, r := range rows {
		for _, m := range genes.SplitField(r.Marker) {
			p.add(r.CellType, m)
		}
	}
	return p
}

func (p *Profiles) add(cellType, marker string) {
	key := genes.Key(marker)
	if cellType == "" || key == "" {
		return
	}
	set, ok := p.markers[cellType]
	if !ok {
		set = make(map[string]struct{})
		p.markers[cellType] = set
		p.order = append(p.order, cellType)
	}
	set[key] = struct{}{}
}

// Len returns the number of cell types.
func (p Profiles) Len() int {
	return len(p.order)
}

// CellTypes returns the cell types in first-seen order.
func (p Profiles) CellTypes() []string {
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

// Markers returns the marker keys of cellType. The map is shared and must not be modified.
func (p Profiles) Markers(cellType string) (map[string]struct{}, bool) {
	m, ok := p.markers[cellType]
	return m, ok
}

// Restrict returns the profiles of the given cell types, in the given order.
// Unknown cell types are skipped.
func (p Profiles) Restrict(cellTypes []string) Profiles {
	out := Profiles{markers: make(map[string]map[string]struct{}, len(cellTypes))}
	for _, ct := range cellTypes {
		m, ok := p.markers[ct]
		if !ok {
			continue
		}
		if _, dup := out.markers[ct]; dup {
			continue
		}
		out.markers[ct] = m
		out.order = append(out.order, ct)
	}
	return out
}

// Summary describes the reference content for one species and tissue selection.
type Summary struct {
	Species              Species  `json:"species"`
	Tissues              []string `json:"tissues"`
	Rows                 int      `json:"rows"`
	CellTypes            int      `json:"cell_types"`
	TissueCount          int      `json:"tissue_count"`
	Markers              int      `json:"markers"`
	MeanMarkersPerType   float64  `json:"mean_markers_per_cell_type"`
	MedianMarkersPerType float64  `json:"median_markers_per_cell_type"`
}

// Summarize reports row, cell type, tissue and marker counts for species
// restricted by filter.
func Summarize(rows []Row, species Species, filter TissueFilter) Summary {
	var selected []Row
	tissues := make(map[string]struct{})
	for _, r := range rows {
		if r.Species != species || !filter.Allows(r.Tissue) {
			continue
		}
		selected = append(selected, r)
		tissues[r.Tissue] = struct{}{}
	}

	profiles := BuildProfiles(selected)
	allMarkers := make(map[string]struct{})
	perType := make(stats.Float64Data, 0, profiles.Len())
	for _, ct := range profiles.order {
		m := profiles.markers[ct]
		perType = append(perType, float64(len(m)))
		for k := range m {
			allMarkers[k] = struct{}{}
		}
	}

	s := Summary{
		Species:     species,
		Tissues:     filter.Names(),
		Rows:        len(selected),
		CellTypes:   profiles.Len(),
		TissueCount: len(tissues),
		Markers:     len(allMarkers),
	}
	if len(perType) > 0 {
		if mean, err := stats.Mean(perType); err == nil {
			s.MeanMarkersPerType, _ = stats.Round(mean, 2)
		}
		if median, err := stats.Median(perType); err == nil {
			s.MedianMarkersPerType = median
		}
	}
	return s
}

// Package matching ranks candidate cell types by how many reference rows match a
// query marker set.
//
// Both rankings share one filter-and-group step (Group); they differ only in the
// Scorer applied to each group's row count.
package matching

import (
	"math"
	"sort"
	"strings"

	"github.com/celltaxonomy/server/internal/genes"
	"github.com/celltaxonomy/server/internal/reference"
)

// DefaultTopN is the number of candidates returned when topN <= 0.
const DefaultTopN = 5

// weightOffset is added to ln(1+count) in InverseLogScore.
const weightOffset = 100.0

// Candidate is one cell type group after filtering.
type Candidate struct {
	CellType string  `json:"cell_type"`
	Count    int     `json:"count"`
	Score    float64 `json:"score"`
}

// Scorer maps a group's matched row count to a ranking score. Higher ranks first.
type Scorer func(count int) float64

// CountScore ranks by raw matched row count.
func CountScore(count int) float64 {
	return float64(count)
}

// InverseLogScore is 1 / (ln(1+count) + 100). It decreases strictly with count.
func InverseLogScore(count int) float64 {
	return 1 / (math.Log1p(float64(count)) + weightOffset)
}

// Group restricts rows to the tissue filter and counts, per cell type, the
// marker genes of each row that match a query gene. A Cell_Marker field listing
// several comma-separated genes counts once per matching gene, as if the row had
// been split into one row per gene. Groups are returned in the order their cell
// type was first seen. Score is left zero.
//
// rows must already be restricted to one species.
func Group(rows []reference.Row, filter reference.TissueFilter, markers genes.MarkerSet) []Candidate {
	if markers.Len() == 0 {
		return []Candidate{}
	}
	keys := markers.Keys()

	index := make(map[string]int)
	groups := []Candidate{}
	for _, r := range rows {
		if !filter.Allows(r.Tissue) {
			continue
		}
		n := matchCount(r.Marker, keys)
		if n == 0 {
			continue
		}
		i, ok := index[r.CellType]
		if !ok {
			i = len(groups)
			index[r.CellType] = i
			groups = append(groups, Candidate{CellType: r.CellType})
		}
		groups[i].Count += n
	}
	return groups
}

func matchCount(field string, keys map[string]struct{}) int {
	n := 0
	for _, g := range genes.SplitField(field) {
		if _, ok := keys[genes.Key(g)]; ok {
			n++
		}
	}
	return n
}

// Rank scores the groups produced by Group and returns the topN highest, ties in
// first-seen order.
func Rank(rows []reference.Row, filter reference.TissueFilter, markers genes.MarkerSet, topN int, score Scorer) []Candidate {
	return rankGroups(Group(rows, filter, markers), topN, score)
}

func rankGroups(groups []Candidate, topN int, score Scorer) []Candidate {
	if topN <= 0 {
		topN = DefaultTopN
	}
	for i := range groups {
		groups[i].Score = score(groups[i].Count)
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Score > groups[j].Score
	})
	if len(groups) > topN {
		groups = groups[:topN]
	}
	return groups
}

// RankByCount returns the names of the topN cell types by matched row count.
func RankByCount(rows []reference.Row, filter reference.TissueFilter, markers genes.MarkerSet, topN int) []string {
	return Names(Rank(rows, filter, markers, topN, CountScore))
}

// RankByWeightedScore returns the names of the topN cell types by InverseLogScore.
func RankByWeightedScore(rows []reference.Row, filter reference.TissueFilter, markers genes.MarkerSet, topN int) []string {
	return Names(Rank(rows, filter, markers, topN, InverseLogScore))
}

// Names returns the cell type names of candidates, in order.
func Names(candidates []Candidate) []string {
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.CellType
	}
	return out
}

// FilterByPanel returns a new slice with the rows that list a gene of panel.
// A multi-gene marker field is narrowed to its panel genes, so later matching
// cannot reach genes outside the panel. rows is not modified.
func FilterByPanel(rows []reference.Row, panel genes.MarkerSet) []reference.Row {
	keys := panel.Keys()
	out := make([]reference.Row, 0)
	for _, r := range rows {
		tokens := genes.SplitField(r.Marker)
		kept := make([]string, 0, len(tokens))
		for _, g := range tokens {
			if _, ok := keys[genes.Key(g)]; ok {
				kept = append(kept, g)
			}
		}
		if len(kept) == 0 {
			continue
		}
		if len(kept) < len(tokens) {
			r.Marker = strings.Join(kept, ",")
		}
		out = append(out, r)
	}
	return out
}

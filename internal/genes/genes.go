// Package genes parses free-text marker gene lists and panel files into marker sets.
//
// Gene names keep the case they were entered with. Comparison between genes from
// different sources goes through Key, which is derived at comparison time only.
package genes

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// MarkerSet is a set of gene names in first-seen order.
// The zero value is an empty set.
type MarkerSet struct {
	genes []string
	index map[string]struct{}
}

// NewMarkerSet builds a set from gene names, trimming each and dropping empties
// and exact duplicates.
func NewMarkerSet(genes ...string) MarkerSet {
	m := MarkerSet{index: make(map[string]struct{}, len(genes))}
	for _, g := range genes {
		g = strings.TrimSpace(g)
		if g == "" {
			continue
		}
		if _, ok := m.index[g]; ok {
			continue
		}
		m.index[g] = struct{}{}
		m.genes = append(m.genes, g)
	}
	return m
}

// Parse splits text on commas and whitespace. Consecutive separators collapse
// and empty tokens are dropped. Case is preserved.
func Parse(text string) MarkerSet {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
	return NewMarkerSet(fields...)
}

// Key returns the comparison key for a gene name.
func Key(gene string) string {
	g := norm.NFKC.String(strings.TrimSpace(gene))
	// cases.Caser is stateful; one per call keeps Key safe across goroutines.
	return cases.Lower(language.Und).String(g)
}

// SplitField splits a reference marker field that may list several genes
// separated by commas. Tokens are trimmed and empties dropped.
func SplitField(field string) []string {
	parts := strings.Split(field, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Genes returns the gene names in first-seen order.
func (m MarkerSet) Genes() []string {
	out := make([]string, len(m.genes))
	copy(out, m.genes)
	return out
}

// Len returns the number of genes.
func (m MarkerSet) Len() int {
	return len(m.genes)
}

// Has reports whether the exact gene name is in the set.
func (m MarkerSet) Has(gene string) bool {
	_, ok := m.index[gene]
	return ok
}

// Keys returns the comparison keys of all genes.
func (m MarkerSet) Keys() map[string]struct{} {
	keys := make(map[string]struct{}, len(m.genes))
	for _, g := range m.genes {
		keys[Key(g)] = struct{}{}
	}
	return keys
}

// Equal reports whether both sets hold the same gene names, ignoring order.
func (m MarkerSet) Equal(other MarkerSet) bool {
	if m.Len() != other.Len() {
		return false
	}
	for _, g := range m.genes {
		if !other.Has(g) {
			return false
		}
	}
	return true
}

// Split partitions the set into genes present in panel and genes absent from it,
// comparing by Key.
func (m MarkerSet) Split(panel MarkerSet) (kept, dropped MarkerSet) {
	panelKeys := panel.Keys()
	var in, out []string
	for _, g := range m.genes {
		if _, ok := panelKeys[Key(g)]; ok {
			in = append(in, g)
		} else {
			out = append(out, g)
		}
	}
	return NewMarkerSet(in...), NewMarkerSet(out...)
}

// String joins the genes with ", ".
func (m MarkerSet) String() string {
	return strings.Join(m.genes, ", ")
}

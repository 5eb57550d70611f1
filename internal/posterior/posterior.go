// Package posterior scores a fixed set of candidate cell types against a query
// marker set with a normalized likelihood-times-prior model.
package posterior

import (
	"errors"
	"sort"

	"github.com/celltaxonomy/server/internal/genes"
	"github.com/celltaxonomy/server/internal/reference"
)

// ErrEmptyCandidateSet is returned when there are no candidates to score.
var ErrEmptyCandidateSet = errors.New("empty candidate set")

// Result is the normalized posterior of one candidate.
type Result struct {
	CellType    string  `json:"cell_type"`
	Likelihood  float64 `json:"likelihood"`
	Probability float64 `json:"probability"`
}

// Prior returns the unnormalized prior weight of a cell type. Negative weights are
// treated as zero.
type Prior func(cellType string) float64

// Uniform gives every candidate the same prior.
func Uniform(string) float64 { return 1 }

// Compute scores the candidates in profiles with a uniform prior.
func Compute(markers genes.MarkerSet, profiles reference.Profiles) ([]Result, error) {
	return ComputeWithPrior(markers, profiles, Uniform)
}

// ComputeWithPrior scores the candidates in profiles. The likelihood of a candidate
// is the fraction of its known markers present in the query. Posteriors are
// normalized to sum to 1; when every candidate scores zero the result is uniform.
// Results are sorted by descending probability, ties in profile order.
func ComputeWithPrior(markers genes.MarkerSet, profiles reference.Profiles, prior Prior) ([]Result, error) {
	cellTypes := profiles.CellTypes()
	n := len(cellTypes)
	if n == 0 {
		return nil, ErrEmptyCandidateSet
	}
	if prior == nil {
		prior = Uniform
	}

	priors := make([]float64, n)
	var priorSum float64
	for i, ct := range cellTypes {
		if p := prior(ct); p > 0 {
			priors[i] = p
			priorSum += p
		}
	}
	for i := range priors {
		if priorSum > 0 {
			priors[i] /= priorSum
		} else {
			priors[i] = 1 / float64(n)
		}
	}

	query := markers.Keys()
	results := make([]Result, n)
	var total float64
	for i, ct := range cellTypes {
		known, _ := profiles.Markers(ct)
		l := likelihood(query, known)
		results[i] = Result{CellType: ct, Likelihood: l, Probability: l * priors[i]}
		total += results[i].Probability
	}

	for i := range results {
		if total > 0 {
			results[i].Probability /= total
		} else {
			results[i].Probability = 1 / float64(n)
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Probability > results[j].Probability
	})
	return results, nil
}

func likelihood(query, known map[string]struct{}) float64 {
	if len(known) == 0 {
		return 0
	}
	var hits int
	for k := range known {
		if _, ok := query[k]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(known))
}

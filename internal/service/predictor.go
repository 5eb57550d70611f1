package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/celltaxonomy/server/internal/genes"
	"github.com/celltaxonomy/server/internal/matching"
	"github.com/celltaxonomy/server/internal/posterior"
	"github.com/celltaxonomy/server/internal/reference"
	"github.com/celltaxonomy/server/internal/refine"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// RankedCandidate is one cell type in the consolidated candidate set.
type RankedCandidate struct {
	CellType      string  `json:"cell_type"`
	Count         int     `json:"count"`
	WeightedScore float64 `json:"weighted_score"`
	Posterior     float64 `json:"posterior"`
}

// Prediction is the result of one query.
type Prediction struct {
	Species  reference.Species `json:"species"`
	Tissues  []string          `json:"tissues"`
	Mode     Mode              `json:"mode"`
	Panel    string            `json:"panel,omitempty"`
	Markers  []string          `json:"markers"`
	ByCount  []string          `json:"by_count"`
	ByWeight []string          `json:"by_weight"`
	// Candidates is the union of both rankings, sorted by posterior.
	Candidates  []RankedCandidate `json:"candidates"`
	Diagnostics []string          `json:"diagnostics,omitempty"`
}

// Predictor runs queries against a shared, read-only reference store.
type Predictor struct {
	store  *reference.Store
	panels *PanelRegistry
	logger *zap.Logger

	refiner       refine.Refiner
	refineTimeout time.Duration
	maxCandidates int
}

// NewPredictor creates a predictor. panels may be nil.
func NewPredictor(store *reference.Store, panels *PanelRegistry, logger *zap.Logger) *Predictor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Predictor{
		store:         store,
		panels:        panels,
		logger:        logger.Named("predictor"),
		refineTimeout: 30 * time.Second,
		maxCandidates: 4,
	}
}

// LoadReference loads the reference table and logs its size.
func LoadReference(path string, logger *zap.Logger) (*reference.Store, error) {
	start := time.Now()
	store, err := reference.Load(path)
	if err != nil {
		return nil, err
	}
	fields := []zap.Field{
		zap.String("path", path),
		zap.String("rows", humanize.Comma(int64(store.Len()))),
		zap.Int("skipped", store.Skipped()),
		zap.Duration("elapsed", time.Since(start)),
	}
	for _, sp := range reference.AllSpecies {
		fields = append(fields, zap.Int(sp.String(), len(store.Species(sp))))
	}
	logger.Info("loaded reference", fields...)
	return store, nil
}

// Store returns the reference store.
func (p *Predictor) Store() *reference.Store {
	return p.store
}

// Panels returns the preset panel registry.
func (p *Predictor) Panels() *PanelRegistry {
	return p.panels
}

// Tissues lists the tissues of species, "All" first.
func (p *Predictor) Tissues(species reference.Species) ([]string, error) {
	if !species.Valid() {
		return nil, fmt.Errorf("%w: %d", reference.ErrInvalidSpecies, int(species))
	}
	return reference.ListTissues(p.store.Species(species), species), nil
}

// Summary reports reference statistics for species and tissues.
func (p *Predictor) Summary(species reference.Species, tissues reference.TissueFilter) (reference.Summary, error) {
	rows := p.store.Species(species)
	if err := reference.ValidateTissues(rows, species, tissues); err != nil {
		return reference.Summary{}, err
	}
	return reference.Summarize(rows, species, tissues), nil
}

// Predict dispatches q on its mode.
func (p *Predictor) Predict(q Query) (*Prediction, error) {
	switch q.Mode {
	case ModeBase, "":
		return p.predictBase(q)
	case ModePreset:
		return p.predictPreset(q)
	case ModeCustom, ModeUpload:
		return p.PredictWithCustomPanel(q)
	}
	return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidQuery, q.Mode)
}

func (p *Predictor) predictBase(q Query) (*Prediction, error) {
	rows, err := p.speciesRows(q)
	if err != nil {
		return nil, err
	}
	pred := newPrediction(q, ModeBase)
	p.rank(pred, rows, q.Tissues, q.Markers, q.TopN)
	return pred, nil
}

// predictPreset drops the query genes the panel does not measure before ranking.
// A query without species takes the panel's; a different species is rejected.
func (p *Predictor) predictPreset(q Query) (*Prediction, error) {
	panel := p.panels.Get(q.Panel)
	if panel == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPanel, q.Panel)
	}
	switch {
	case q.Species == 0:
		q.Species = panel.Species
	case q.Species != panel.Species:
		return nil, fmt.Errorf("%w: panel %s is for %s, not %s", reference.ErrInvalidSpecies, panel.ID, panel.Species, q.Species)
	}

	rows, err := p.speciesRows(q)
	if err != nil {
		return nil, err
	}

	kept, dropped := q.Markers.Split(panel.Genes)
	pred := newPrediction(q, ModePreset)
	pred.Panel = panel.ID
	pred.Markers = kept.Genes()
	if dropped.Len() > 0 {
		pred.Diagnostics = append(pred.Diagnostics,
			fmt.Sprintf("%d of %d genes not in panel %s and dropped: %s", dropped.Len(), q.Markers.Len(), panel.Name, dropped))
	}
	p.rank(pred, rows, q.Tissues, kept, q.TopN)
	return pred, nil
}

// PredictWithCustomPanel restricts the species rows to the tissue filter and to
// rows whose marker is in q.CustomPanel, then ranks them against q.Markers.
// The weighted ranking is the primary result.
func (p *Predictor) PredictWithCustomPanel(q Query) (*Prediction, error) {
	if q.CustomPanel.Len() == 0 {
		return nil, fmt.Errorf("%w: empty custom panel", ErrInvalidQuery)
	}
	rows, err := p.speciesRows(q)
	if err != nil {
		return nil, err
	}

	mode := q.Mode
	if mode != ModeUpload {
		mode = ModeCustom
	}
	pred := newPrediction(q, mode)

	_, outside := q.Markers.Split(q.CustomPanel)
	if outside.Len() > 0 {
		pred.Diagnostics = append(pred.Diagnostics,
			fmt.Sprintf("%d of %d genes not in the custom panel and cannot match: %s", outside.Len(), q.Markers.Len(), outside))
	}

	restricted := matching.FilterByPanel(rows, q.CustomPanel)
	p.rank(pred, restricted, q.Tissues, q.Markers, q.TopN)
	return pred, nil
}

func (p *Predictor) speciesRows(q Query) ([]reference.Row, error) {
	if !q.Species.Valid() {
		return nil, fmt.Errorf("%w: %d", reference.ErrInvalidSpecies, int(q.Species))
	}
	rows := p.store.Species(q.Species)
	if err := reference.ValidateTissues(rows, q.Species, q.Tissues); err != nil {
		return nil, err
	}
	return rows, nil
}

func newPrediction(q Query, mode Mode) *Prediction {
	return &Prediction{
		Species:    q.Species,
		Tissues:    q.Tissues.Names(),
		Mode:       mode,
		Markers:    q.Markers.Genes(),
		ByCount:    []string{},
		ByWeight:   []string{},
		Candidates: []RankedCandidate{},
	}
}

// rank fills both rankings from rows and scores their union with the species
// profiles of the store.
func (p *Predictor) rank(pred *Prediction, rows []reference.Row, tissues reference.TissueFilter, markers genes.MarkerSet, topN int) {
	byCount := matching.Rank(rows, tissues, markers, topN, matching.CountScore)
	byWeight := matching.Rank(rows, tissues, markers, topN, matching.InverseLogScore)
	pred.ByCount = matching.Names(byCount)
	pred.ByWeight = matching.Names(byWeight)

	if len(byCount) == 0 && len(byWeight) == 0 {
		pred.Diagnostics = append(pred.Diagnostics, "no reference rows matched the marker genes")
		return
	}

	counts := make(map[string]int, len(byCount)+len(byWeight))
	var union []string
	for _, ranking := range [][]matching.Candidate{byCount, byWeight} {
		for _, c := range ranking {
			if _, ok := counts[c.CellType]; ok {
				continue
			}
			counts[c.CellType] = c.Count
			union = append(union, c.CellType)
		}
	}

	profiles := p.store.Profiles(pred.Species).Restrict(union)
	results, err := posterior.Compute(markers, profiles)
	if errors.Is(err, posterior.ErrEmptyCandidateSet) {
		pred.Diagnostics = append(pred.Diagnostics, "no candidate profiles to score")
		return
	}

	for _, r := range results {
		pred.Candidates = append(pred.Candidates, RankedCandidate{
			CellType:      r.CellType,
			Count:         counts[r.CellType],
			WeightedScore: matching.InverseLogScore(counts[r.CellType]),
			Posterior:     r.Probability,
		})
	}
	p.logger.Debug("ranked candidates",
		zap.String("species", pred.Species.String()),
		zap.Int("markers", markers.Len()),
		zap.Int("candidates", len(pred.Candidates)),
	)
}

// RefineResult is a prediction with an optional refined selection.
type RefineResult struct {
	Prediction *Prediction       `json:"prediction"`
	Candidates []string          `json:"refine_candidates"`
	Selection  *refine.Selection `json:"selection,omitempty"`
	Degraded   bool              `json:"degraded"`
	Reason     string            `json:"reason,omitempty"`
}

// SetRefiner configures the refinement collaborator. A nil refiner leaves every
// refinement degraded.
func (p *Predictor) SetRefiner(r refine.Refiner, timeout time.Duration, maxCandidates int) {
	p.refiner = r
	if timeout > 0 {
		p.refineTimeout = timeout
	}
	if maxCandidates > 0 {
		p.maxCandidates = min(maxCandidates, refine.MaxCandidates)
	}
}

// PredictAndRefine runs q and then asks the refiner to pick among the top
// candidates. Refinement failures never fail the call: the prediction is returned
// with Degraded set.
func (p *Predictor) PredictAndRefine(ctx context.Context, q Query, style refine.Style) (*RefineResult, error) {
	pred, err := p.Predict(q)
	if err != nil {
		return nil, err
	}
	return p.Refine(ctx, pred, style), nil
}

// Refine asks the refiner to pick among pred's top candidates.
func (p *Predictor) Refine(ctx context.Context, pred *Prediction, style refine.Style) *RefineResult {
	res := &RefineResult{Prediction: pred, Candidates: refineCandidates(pred, p.maxCandidates)}
	if len(res.Candidates) == 0 {
		res.Degraded = true
		res.Reason = refine.ErrNoCandidates.Error()
		return res
	}

	req := refine.Request{
		Species:    pred.Species.String(),
		Tissues:    pred.Tissues,
		Markers:    pred.Markers,
		Candidates: res.Candidates,
		Style:      style,
	}
	sel, err := p.callRefiner(ctx, req)
	if err != nil {
		p.logger.Warn("refinement failed, returning unrefined ranking", zap.Error(err))
		res.Degraded = true
		res.Reason = err.Error()
		return res
	}
	res.Selection = sel
	return res
}

func (p *Predictor) callRefiner(ctx context.Context, req refine.Request) (sel *refine.Selection, err error) {
	if p.refiner == nil {
		return nil, refine.ErrUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, p.refineTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			sel, err = nil, fmt.Errorf("%w: refiner panic: %v", refine.ErrUnavailable, r)
		}
	}()

	sel, err = p.refiner.Refine(ctx, req)
	if err == nil && sel == nil {
		err = fmt.Errorf("%w: empty selection", refine.ErrUnavailable)
	}
	if err != nil && ctx.Err() != nil {
		err = fmt.Errorf("%w: %v", refine.ErrUnavailable, ctx.Err())
	}
	return sel, err
}

// refineCandidates returns up to n cell types in posterior order, falling back to
// the count ranking.
func refineCandidates(pred *Prediction, n int) []string {
	var names []string
	if len(pred.Candidates) > 0 {
		for _, c := range pred.Candidates {
			names = append(names, c.CellType)
		}
	} else {
		names = append(names, pred.ByCount...)
	}
	if len(names) > n {
		names = names[:n]
	}
	return names
}

package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/celltaxonomy/server/internal/jobstore"
	"github.com/celltaxonomy/server/internal/refine"
)

// RefineJobParams are the stored parameters of an asynchronous refinement job.
type RefineJobParams struct {
	Request Request      `json:"request"`
	Style   refine.Style `json:"style"`
}

// ExecuteRefineJob runs a refinement job (called by JobManager worker).
func (p *Predictor) ExecuteRefineJob(ctx context.Context, store *jobstore.Store, jobID string) error {
	// Load job from store
	job, err := store.GetJob(jobID)
	if err != nil {
		return fmt.Errorf("failed to get job: %w", err)
	}
	if job == nil {
		return fmt.Errorf("job not found: %s", jobID)
	}

	var params RefineJobParams
	if err := json.Unmarshal(job.Params, &params); err != nil {
		return fmt.Errorf("failed to unmarshal params: %w", err)
	}
	q, err := params.Request.Query()
	if err != nil {
		return err
	}

	// Phase 1: rank against the reference
	store.UpdateJobPhase(jobID, "predicting")
	pred, err := p.Predict(q)
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	// Phase 2: ask the refiner
	store.UpdateJobPhase(jobID, "refining")
	res := p.Refine(ctx, pred, params.Style)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := store.SaveResult(jobID, data, res.Degraded); err != nil {
		return err
	}
	store.UpdateJobPhase(jobID, "done")
	return nil
}

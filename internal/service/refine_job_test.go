package service

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/celltaxonomy/server/internal/jobstore"
	"github.com/celltaxonomy/server/internal/refine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJob(t *testing.T, store *jobstore.Store, params RefineJobParams) string {
	t.Helper()
	data, err := json.Marshal(params)
	require.NoError(t, err)
	job := &jobstore.Job{ID: t.Name(), Params: data}
	require.NoError(t, store.CreateJob(job))
	return job.ID
}

func TestExecuteRefineJob(t *testing.T) {
	store, err := jobstore.NewStore(filepath.Join(t.TempDir(), "jobs.sqlite"))
	require.NoError(t, err)
	defer store.Close()

	p := newTestPredictor(t)
	p.SetRefiner(&fakeRefiner{reply: "Answer: A\nALB is specific to hepatocytes."}, time.Second, 4)

	id := newJob(t, store, RefineJobParams{
		Request: Request{Species: "Homo sapiens", Markers: "ALB TTR"},
		Style:   refine.StyleReasoning,
	})
	require.NoError(t, p.ExecuteRefineJob(context.Background(), store, id))

	data, err := store.GetResult(id)
	require.NoError(t, err)
	var res RefineResult
	require.NoError(t, json.Unmarshal(data, &res))
	assert.False(t, res.Degraded)
	require.NotNil(t, res.Selection)
	assert.Equal(t, "Hepatocyte", res.Selection.CellType)
	assert.Contains(t, res.Selection.ReasoningHTML, "hepatocytes")

	job, err := store.GetJob(id)
	require.NoError(t, err)
	assert.Equal(t, "done", job.Phase)
	assert.False(t, job.Degraded)
}

func TestExecuteRefineJob_DegradedAndInvalid(t *testing.T) {
	store, err := jobstore.NewStore(filepath.Join(t.TempDir(), "jobs.sqlite"))
	require.NoError(t, err)
	defer store.Close()

	p := newTestPredictor(t)

	t.Run("no refiner", func(t *testing.T) {
		id := newJob(t, store, RefineJobParams{Request: Request{Species: "Homo sapiens", Markers: "CD68"}})
		require.NoError(t, p.ExecuteRefineJob(context.Background(), store, id))
		job, err := store.GetJob(id)
		require.NoError(t, err)
		assert.True(t, job.Degraded)
	})

	t.Run("invalid species", func(t *testing.T) {
		id := newJob(t, store, RefineJobParams{Request: Request{Species: "Danio rerio", Markers: "CD68"}})
		assert.Error(t, p.ExecuteRefineJob(context.Background(), store, id))
	})

	t.Run("missing job", func(t *testing.T) {
		assert.Error(t, p.ExecuteRefineJob(context.Background(), store, "missing"))
	})
}

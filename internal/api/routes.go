// Package api provides HTTP handlers for the cell taxonomy server.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/celltaxonomy/server/internal/cache"
	"github.com/celltaxonomy/server/internal/genes"
	"github.com/celltaxonomy/server/internal/jobstore"
	"github.com/celltaxonomy/server/internal/reference"
	"github.com/celltaxonomy/server/internal/refine"
	"github.com/celltaxonomy/server/internal/render"
	"github.com/celltaxonomy/server/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// maxBodyBytes bounds request bodies; uploaded panels travel inline.
const maxBodyBytes = 4 << 20

// RouterConfig contains router configuration.
type RouterConfig struct {
	Predictor   *service.Predictor
	Cache       *cache.Manager
	Renderer    *render.ChartRenderer
	JobManager  *JobManager
	CORSOrigins []string
	Title       string
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/info", infoHandler(cfg))
		r.Get("/species", speciesHandler())
		r.Get("/species/{species}/tissues", tissuesHandler(cfg.Predictor, cfg.Cache))
		r.Get("/species/{species}/summary", summaryHandler(cfg.Predictor, cfg.Cache))
		r.Get("/panels", panelsHandler(cfg.Predictor))
		r.Post("/genes/parse", parseGenesHandler())

		r.Post("/predict", predictHandler(cfg.Predictor, cfg.Cache))
		r.Post("/predict/chart.png", chartHandler(cfg.Predictor, cfg.Renderer))
		r.Post("/predict/refine", refineHandler(cfg.Predictor))

		// Asynchronous refinement jobs
		r.Route("/refine/jobs", func(r chi.Router) {
			r.Get("/", refineJobListHandler(cfg.JobManager))
			r.Post("/", refineJobSubmitHandler(cfg.JobManager))
			r.Get("/{job_id}", refineJobStatusHandler(cfg.JobManager))
			r.Get("/{job_id}/result", refineJobResultHandler(cfg.JobManager))
			r.Delete("/{job_id}", refineJobCancelHandler(cfg.JobManager))
		})
	})

	return r
}

// errorStatus maps service errors onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, reference.ErrInvalidSpecies),
		errors.Is(err, reference.ErrInvalidTissue),
		errors.Is(err, service.ErrInvalidQuery),
		errors.Is(err, refine.ErrNoCandidates):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrUnknownPanel):
		return http.StatusNotFound
	case errors.Is(err, reference.ErrDataUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), errorStatus(err))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONBytes(w http.ResponseWriter, data []byte, cacheStatus string) {
	w.Header().Set("Content-Type", "application/json")
	if cacheStatus != "" {
		w.Header().Set("X-Cache", cacheStatus)
	}
	w.Write(data)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// decodeQuery reads a service.Request body and validates it.
func decodeQuery(w http.ResponseWriter, r *http.Request) (service.Query, bool) {
	var req service.Request
	if !decodeBody(w, r, &req) {
		return service.Query{}, false
	}
	q, err := req.Query()
	if err != nil {
		writeError(w, err)
		return service.Query{}, false
	}
	return q, true
}

func speciesParam(r *http.Request) (reference.Species, error) {
	raw := chi.URLParam(r, "species")
	if v, err := url.PathUnescape(raw); err == nil {
		raw = v
	}
	return reference.ParseSpecies(raw)
}

// tissuesParam accepts repeated and comma separated tissues values.
func tissuesParam(r *http.Request) reference.TissueFilter {
	var names []string
	for _, v := range r.URL.Query()["tissues"] {
		names = append(names, strings.Split(v, ",")...)
	}
	return reference.NewTissueFilter(names...)
}

// infoHandler reports the server title and reference size.
func infoHandler(cfg RouterConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		store := cfg.Predictor.Store()
		response := map[string]interface{}{
			"title":           cfg.Title,
			"reference":       store.Source(),
			"rows":            store.Len(),
			"skipped_rows":    store.Skipped(),
			"panels":          cfg.Predictor.Panels().IDs(),
			"refine_jobs":     cfg.JobManager != nil,
			"chart_rendering": cfg.Renderer != nil,
		}
		if cfg.Cache != nil {
			response["cache"] = cfg.Cache.Stats()
		}
		writeJSON(w, http.StatusOK, response)
	}
}

// speciesHandler returns the supported species.
func speciesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"species": reference.AllSpecies,
		})
	}
}

// tissuesHandler returns the tissues of a species with "All" first.
func tissuesHandler(p *service.Predictor, c *cache.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		species, err := speciesParam(r)
		if err != nil {
			writeError(w, err)
			return
		}

		key := cache.TissuesKey(species.String())
		if c != nil {
			if data, ok := c.GetQuery(key); ok {
				writeJSONBytes(w, data, "HIT")
				return
			}
		}

		tissues, err := p.Tissues(species)
		if err != nil {
			writeError(w, err)
			return
		}
		data, err := json.Marshal(map[string]interface{}{
			"species": species,
			"tissues": tissues,
		})
		if err != nil {
			http.Error(w, "failed to encode tissues: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if c != nil {
			c.SetQuery(key, data)
		}
		writeJSONBytes(w, data, "MISS")
	}
}

// summaryHandler returns reference statistics for a species and tissue selection.
func summaryHandler(p *service.Predictor, c *cache.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		species, err := speciesParam(r)
		if err != nil {
			writeError(w, err)
			return
		}
		filter := tissuesParam(r)

		key := cache.SummaryKey(species.String(), filter.Names())
		if c != nil {
			if data, ok := c.GetQuery(key); ok {
				writeJSONBytes(w, data, "HIT")
				return
			}
		}

		summary, err := p.Summary(species, filter)
		if err != nil {
			writeError(w, err)
			return
		}
		data, err := json.Marshal(summary)
		if err != nil {
			http.Error(w, "failed to encode summary: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if c != nil {
			c.SetQuery(key, data)
		}
		writeJSONBytes(w, data, "MISS")
	}
}

// panelsHandler returns the configured preset panels.
func panelsHandler(p *service.Predictor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		registry := p.Panels()
		response := map[string]interface{}{
			"panels": registry.Panels(),
		}
		if d := registry.Default(); d != nil {
			response["default"] = d.ID
		}
		writeJSON(w, http.StatusOK, response)
	}
}

type parseGenesRequest struct {
	Text string `json:"text"`
}

// parseGenesHandler splits free text into a deduplicated gene list.
func parseGenesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req parseGenesRequest
		if !decodeBody(w, r, &req) {
			return
		}
		set := genes.Parse(req.Text)
		list := set.Genes()
		if list == nil {
			list = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"genes": list,
			"count": set.Len(),
		})
	}
}

// predictHandler ranks candidate cell types for a query. Serialized predictions
// are cached by the canonical query key.
func predictHandler(p *service.Predictor, c *cache.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, ok := decodeQuery(w, r)
		if !ok {
			return
		}

		key := cache.PredictionKey("predict", q.Key())
		if c != nil {
			if data, ok := c.GetPrediction(key); ok {
				writeJSONBytes(w, data, "HIT")
				return
			}
		}

		pred, err := p.Predict(q)
		if err != nil {
			writeError(w, err)
			return
		}
		data, err := json.Marshal(pred)
		if err != nil {
			http.Error(w, "failed to encode prediction: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if c != nil {
			// Oversized entries are simply not cached.
			_ = c.SetPrediction(key, data)
		}
		writeJSONBytes(w, data, "MISS")
	}
}

// chartHandler renders the posterior of a query as a PNG bar chart.
func chartHandler(p *service.Predictor, renderer *render.ChartRenderer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if renderer == nil {
			http.Error(w, "chart rendering not configured", http.StatusNotImplemented)
			return
		}
		q, ok := decodeQuery(w, r)
		if !ok {
			return
		}

		pred, err := p.Predict(q)
		if err != nil {
			writeError(w, err)
			return
		}
		if len(pred.Candidates) == 0 {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		bars := make([]render.Bar, len(pred.Candidates))
		for i, c := range pred.Candidates {
			bars[i] = render.Bar{Label: c.CellType, Value: c.Posterior}
		}
		img, err := renderer.RenderBars("Posterior probability ("+pred.Species.String()+")", bars)
		if err != nil {
			http.Error(w, "failed to render chart: "+err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		w.Write(img)
	}
}

// refineRequest is a prediction request plus the refinement prompt style.
type refineRequest struct {
	service.Request
	Style string `json:"style,omitempty"`
}

// refineHandler predicts and then refines synchronously. Refinement failures
// still answer 200 with degraded set.
func refineHandler(p *service.Predictor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req refineRequest
		if !decodeBody(w, r, &req) {
			return
		}
		style, err := refine.ParseStyle(req.Style)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		q, err := req.Request.Query()
		if err != nil {
			writeError(w, err)
			return
		}

		res, err := p.PredictAndRefine(r.Context(), q, style)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// Refinement job handlers

func refineJobListHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			http.Error(w, "job manager not configured", http.StatusNotImplemented)
			return
		}

		limit := 50
		if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
			if v, err := strconv.Atoi(limitStr); err == nil && v > 0 {
				limit = min(v, 500)
			}
		}

		jobs, err := jm.List(limit)
		if err != nil {
			http.Error(w, "failed to list jobs: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if jobs == nil {
			jobs = []*jobstore.Job{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"jobs": jobs,
		})
	}
}

func refineJobSubmitHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			http.Error(w, "job manager not configured", http.StatusNotImplemented)
			return
		}

		var req refineRequest
		if !decodeBody(w, r, &req) {
			return
		}
		style, err := refine.ParseStyle(req.Style)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		// Validate up front so bad requests never reach the queue.
		if _, err := req.Request.Query(); err != nil {
			writeError(w, err)
			return
		}

		job, err := jm.Submit(service.RefineJobParams{Request: req.Request, Style: style})
		if err != nil {
			http.Error(w, "failed to submit job: "+err.Error(), http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"job_id": job.ID,
			"status": job.Status,
		})
	}
}

func refineJobStatusHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			http.Error(w, "job manager not configured", http.StatusNotImplemented)
			return
		}

		jobID := chi.URLParam(r, "job_id")
		job := jm.Get(jobID)
		if job == nil {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

func refineJobResultHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			http.Error(w, "job manager not configured", http.StatusNotImplemented)
			return
		}

		jobID := chi.URLParam(r, "job_id")
		job := jm.Get(jobID)
		if job == nil {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		if job.Status != jobstore.JobStatusCompleted {
			http.Error(w, "job not completed (status: "+string(job.Status)+")", http.StatusBadRequest)
			return
		}

		data, err := jm.Result(jobID)
		if err != nil {
			http.Error(w, "failed to load result: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if data == nil {
			http.Error(w, "result not found", http.StatusNotFound)
			return
		}
		writeJSONBytes(w, data, "")
	}
}

// refineJobCancelHandler cancels an unfinished job and deletes a finished one.
func refineJobCancelHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			http.Error(w, "job manager not configured", http.StatusNotImplemented)
			return
		}

		jobID := chi.URLParam(r, "job_id")
		job := jm.Get(jobID)
		if job == nil {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}

		if job.Status.Finished() {
			if err := jm.Delete(jobID); err != nil {
				http.Error(w, "failed to delete job: "+err.Error(), http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"job_id":  jobID,
				"deleted": true,
			})
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"job_id":    jobID,
			"cancelled": jm.Cancel(jobID),
		})
	}
}

package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/celltaxonomy/server/internal/reference"
	"github.com/celltaxonomy/server/internal/service"
)

// newBareRouter builds a router without cache, renderer or job manager.
func newBareRouter(t *testing.T) http.Handler {
	t.Helper()

	store, err := reference.LoadReader(strings.NewReader(testTSV))
	if err != nil {
		t.Fatalf("failed to load reference: %v", err)
	}
	return NewRouter(RouterConfig{
		Predictor:   service.NewPredictor(store, nil, nil),
		CORSOrigins: []string{"http://localhost:3000"},
	})
}

func TestOptionalComponents_NoListen(t *testing.T) {
	router := newBareRouter(t)

	tests := []struct {
		method string
		path   string
		body   string
		want   int
	}{
		{http.MethodPost, "/api/predict/chart.png", `{"species":"Homo sapiens","markers":"ALB"}`, http.StatusNotImplemented},
		{http.MethodPost, "/api/refine/jobs/", `{"species":"Homo sapiens","markers":"ALB"}`, http.StatusNotImplemented},
		{http.MethodGet, "/api/refine/jobs/abc", "", http.StatusNotImplemented},
		{http.MethodGet, "/api/panels", "", http.StatusOK},
		{http.MethodPost, "/api/predict", `{"species":"Homo sapiens","markers":"ALB"}`, http.StatusOK},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, bytes.NewBufferString(tt.body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != tt.want {
			t.Fatalf("%s %s: expected %d, got %d: %s", tt.method, tt.path, tt.want, rec.Code, rec.Body.String())
		}
	}
}

func TestRefineWithoutRefiner_NoListen(t *testing.T) {
	router := newBareRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/predict/refine",
		bytes.NewBufferString(`{"species":"Homo sapiens","markers":"ALB TTR"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"degraded":true`) {
		t.Fatalf("expected degraded response, got %s", rec.Body.String())
	}
}

func TestCORSPreflight_NoListen(t *testing.T) {
	router := newBareRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/predict", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("unexpected allow origin header %q", got)
	}
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{reference.ErrInvalidSpecies, http.StatusBadRequest},
		{reference.ErrInvalidTissue, http.StatusBadRequest},
		{service.ErrInvalidQuery, http.StatusBadRequest},
		{service.ErrUnknownPanel, http.StatusNotFound},
		{reference.ErrDataUnavailable, http.StatusServiceUnavailable},
		{bytes.ErrTooLarge, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := errorStatus(tt.err); got != tt.want {
			t.Fatalf("errorStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

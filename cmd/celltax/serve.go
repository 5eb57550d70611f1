package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/celltaxonomy/server/internal/api"
	"github.com/celltaxonomy/server/internal/cache"
	"github.com/celltaxonomy/server/internal/refine"
	"github.com/celltaxonomy/server/internal/render"
	"github.com/celltaxonomy/server/internal/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func getServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the prediction HTTP server",
		Long: `Load the reference table and preset panels, then serve the prediction API.

LLM refinement is enabled when the API key environment variable named by
refine.api_key_env is set; otherwise refinement requests return the
unrefined ranking marked as degraded.

Examples:
  celltax serve
  celltax serve --port 9000 --reference ./data/cell_taxonomy_resource.txt.gz`,
		RunE: runServe,
	}
	cmd.Flags().Int("port", 0, "HTTP port (overrides server.port)")
	cmd.Flags().String("model", "", "LLM model used for refinement")
	cmd.Flags().Int("refine-timeout", 0, "Refinement timeout in seconds")
	cmd.Flags().String("jobs-db", "", "SQLite path for refinement jobs")
	cmd.Flags().String("colormap", "", "Posterior chart colormap (viridis, plasma, blues)")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	logger.Info("starting cell taxonomy server", zap.Int("port", cfg.Server.Port))

	predictor, err := loadPredictor(ctx)
	if err != nil {
		return err
	}
	configureRefiner(ctx, predictor)

	// Initialize cache manager
	cacheManager, err := cache.NewManager(cache.Config{
		PredictionCacheSizeMB: cfg.Cache.PredictionSizeMB,
		PredictionTTL:         time.Duration(cfg.Cache.PredictionTTLMinutes) * time.Minute,
		QueryCacheSize:        cfg.Cache.QueryCacheSize,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheManager.Close()

	// Initialize job manager for refinement jobs (SQLite persistence)
	jobManager, err := api.NewJobManager(api.JobManagerConfig{
		MaxConcurrent: cfg.Jobs.MaxConcurrent,
		SQLitePath:    cfg.Jobs.SQLitePath,
		RetentionDays: cfg.Jobs.RetentionDays,
		CleanupPeriod: 1 * time.Hour,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize job manager: %w", err)
	}
	logger.Info("refinement job manager",
		zap.Int("max_concurrent", cfg.Jobs.MaxConcurrent),
		zap.Int("retention_days", cfg.Jobs.RetentionDays),
		zap.String("sqlite", cfg.Jobs.SQLitePath),
	)

	// Wire up the predictor as job executor
	jobManager.Executor = predictor.ExecuteRefineJob
	jobManager.Start()
	defer jobManager.Stop()

	renderer, err := render.NewChartRenderer(render.Config{
		Width:      cfg.Render.Width,
		BarHeight:  cfg.Render.BarHeight,
		LabelWidth: cfg.Render.LabelWidth,
		Colormap:   cfg.Render.Colormap,
	})
	if err != nil {
		return fmt.Errorf("invalid render config: %w", err)
	}

	// Set up HTTP router
	router := api.NewRouter(api.RouterConfig{
		Predictor:   predictor,
		Cache:       cacheManager,
		Renderer:    renderer,
		JobManager:  jobManager,
		CORSOrigins: cfg.Server.CORSOrigins,
		Title:       cfg.Server.Title,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60*time.Second + cfg.Refine.Timeout(),
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("url", fmt.Sprintf("http://localhost:%d", cfg.Server.Port)))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
	return nil
}

// configureRefiner attaches the configured LLM refiner to p. Without one,
// refinement requests degrade to the unrefined ranking.
func configureRefiner(ctx context.Context, p *service.Predictor) {
	provider := strings.ToLower(cfg.Refine.Provider)
	if provider == "none" || provider == "" {
		logger.Info("LLM refinement disabled")
		return
	}
	if provider != "gemini" {
		logger.Warn("unknown refinement provider, refinement disabled", zap.String("provider", cfg.Refine.Provider))
		return
	}

	r, err := refine.NewGeminiRefiner(ctx, refine.GeminiConfig{
		APIKey:      cfg.Refine.APIKey(),
		Model:       cfg.Refine.Model,
		Temperature: cfg.Refine.Temperature,
		MaxTokens:   cfg.Refine.MaxTokens,
	})
	if err != nil {
		logger.Warn("LLM refinement unavailable", zap.String("api_key_env", cfg.Refine.APIKeyEnv), zap.Error(err))
		return
	}
	p.SetRefiner(r, cfg.Refine.Timeout(), cfg.Refine.MaxCandidates)
	logger.Info("LLM refinement enabled",
		zap.String("model", r.Model()),
		zap.Duration("timeout", cfg.Refine.Timeout()),
		zap.Int("max_candidates", cfg.Refine.MaxCandidates),
	)
}

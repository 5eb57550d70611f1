package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/celltaxonomy/server/internal/config"
	"github.com/celltaxonomy/server/internal/logging"
	"github.com/celltaxonomy/server/internal/service"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  *zap.Logger
)

func getRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "celltax",
		Short: "Predict cell types from marker genes",
		Long: `celltax ranks candidate cell types for a list of marker genes against the
Cell Taxonomy reference table, estimates posterior probabilities over the
candidates, and optionally asks an LLM to pick the best match.

Configuration precedence (highest to lowest):
  1. CLI flags (--port, --reference, etc.)
  2. Environment variables (CELLTAX_*)
  3. Config file (config/server.yaml)
  4. Built-in defaults

Environment Variables:
  Nested fields use underscores (server.port → CELLTAX_SERVER_PORT).
  A .env file in the working directory is loaded first, so the LLM API key
  (GEMINI_API_KEY by default) can live outside the config file.`,
		Version:       Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// A missing .env file is not an error.
			_ = godotenv.Load()

			result, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			if err := applyOverrides(viper.New(), cmd, result); err != nil {
				return err
			}
			cfg = result

			logger, err = logging.New(cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config/server.yaml",
		"Path to configuration file")
	rootCmd.PersistentFlags().String("reference", "", "Path to the Cell Taxonomy reference table")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug/info/warn/error)")
	rootCmd.PersistentFlags().String("log-format", "", "Log format (console/json)")

	rootCmd.Flags().BoolP("version", "V", false, "version for celltax")

	rootCmd.AddCommand(
		getServeCmd(),
		getPredictCmd(),
		getTissuesCmd(),
		getParseCmd(),
	)
	return rootCmd
}

// overrideKeys maps config keys to the flag names bound under them.
var overrideKeys = map[string]string{
	"server.port":            "port",
	"reference.path":         "reference",
	"log.level":              "log-level",
	"log.format":             "log-format",
	"refine.model":           "model",
	"refine.timeout_seconds": "refine-timeout",
	"jobs.sqlite_path":       "jobs-db",
	"render.colormap":        "colormap",
}

// applyOverrides layers CELLTAX_* environment variables and changed flags of cmd
// on top of the file configuration.
func applyOverrides(v *viper.Viper, cmd *cobra.Command, c *config.Config) error {
	v.SetEnvPrefix("CELLTAX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for key, name := range overrideKeys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind %s: %w", key, err)
		}
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("failed to bind flag --%s: %w", name, err)
			}
		}
	}

	if v.IsSet("server.port") {
		c.Server.Port = v.GetInt("server.port")
	}
	if v.IsSet("reference.path") {
		c.Reference.Path = v.GetString("reference.path")
	}
	if v.IsSet("log.level") {
		c.Log.Level = v.GetString("log.level")
	}
	if v.IsSet("log.format") {
		c.Log.Format = v.GetString("log.format")
	}
	if v.IsSet("refine.model") {
		c.Refine.Model = v.GetString("refine.model")
	}
	if v.IsSet("refine.timeout_seconds") {
		c.Refine.TimeoutSeconds = v.GetInt("refine.timeout_seconds")
	}
	if v.IsSet("jobs.sqlite_path") {
		c.Jobs.SQLitePath = v.GetString("jobs.sqlite_path")
	}
	if v.IsSet("render.colormap") {
		c.Render.Colormap = v.GetString("render.colormap")
	}
	return nil
}

// loadPredictor loads the reference table and preset panels named by cfg.
func loadPredictor(ctx context.Context) (*service.Predictor, error) {
	store, err := service.LoadReference(cfg.Reference.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load reference %s: %w", cfg.Reference.Path, err)
	}

	specs := make([]service.PanelSpec, 0, len(cfg.Panels.IDs()))
	for _, id := range cfg.Panels.IDs() {
		pc := cfg.Panels.Panels[id]
		specs = append(specs, service.PanelSpec{
			ID:      id,
			Name:    pc.Name,
			Species: pc.Species,
			Tissues: pc.Tissues,
			Path:    pc.Path,
			Header:  pc.Header,
		})
	}
	panels, err := service.LoadPanels(ctx, specs, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load panels: %w", err)
	}

	return service.NewPredictor(store, panels, logger), nil
}

// Package config handles configuration loading for the cell taxonomy server.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Reference ReferenceConfig `yaml:"reference"`
	Panels    PanelsConfig    `yaml:"panels"`
	Cache     CacheConfig     `yaml:"cache"`
	Refine    RefineConfig    `yaml:"refine"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Render    RenderConfig    `yaml:"render"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
	Title       string   `yaml:"title"`
}

// ReferenceConfig points at the Cell Taxonomy table (plain, .gz or .zst).
type ReferenceConfig struct {
	Path string `yaml:"path"`
}

// PanelConfig describes one preset gene panel file.
type PanelConfig struct {
	Name    string   `yaml:"name"`
	Species string   `yaml:"species"`
	Tissues []string `yaml:"tissues"`
	Path    string   `yaml:"path"`
	Header  bool     `yaml:"header"`
}

// PanelsConfig holds the preset panels keyed by ID, in YAML order.
type PanelsConfig struct {
	Panels map[string]PanelConfig
	Order  []string
}

// UnmarshalYAML decodes the panel mapping while keeping key order.
func (p *PanelsConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("panels: expected mapping, got %v", node.Tag)
	}
	p.Panels = make(map[string]PanelConfig, len(node.Content)/2)
	p.Order = p.Order[:0]
	for i := 0; i+1 < len(node.Content); i += 2 {
		id := node.Content[i].Value
		var pc PanelConfig
		if err := node.Content[i+1].Decode(&pc); err != nil {
			return fmt.Errorf("panels.%s: %w", id, err)
		}
		if _, dup := p.Panels[id]; !dup {
			p.Order = append(p.Order, id)
		}
		p.Panels[id] = pc
	}
	return nil
}

// IDs returns the panel IDs in config order.
func (p PanelsConfig) IDs() []string {
	return p.Order
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	PredictionSizeMB     int `yaml:"prediction_size_mb"`
	PredictionTTLMinutes int `yaml:"prediction_ttl_minutes"`
	QueryCacheSize       int `yaml:"query_cache_size"`
}

// RefineConfig configures the LLM refinement collaborator.
type RefineConfig struct {
	Provider       string  `yaml:"provider"`
	Model          string  `yaml:"model"`
	APIKeyEnv      string  `yaml:"api_key_env"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	MaxCandidates  int     `yaml:"max_candidates"`
	Temperature    float32 `yaml:"temperature"`
	MaxTokens      int32   `yaml:"max_tokens"`
}

// Timeout returns the per-call refinement timeout.
func (r RefineConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// APIKey reads the API key from the configured environment variable.
func (r RefineConfig) APIKey() string {
	if r.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(r.APIKeyEnv)
}

// JobsConfig contains refinement job queue settings.
type JobsConfig struct {
	MaxConcurrent int    `yaml:"max_concurrent"`
	SQLitePath    string `yaml:"sqlite_path"`
	RetentionDays int    `yaml:"retention_days"`
}

// RenderConfig contains posterior chart settings.
type RenderConfig struct {
	Width      int    `yaml:"width"`
	BarHeight  int    `yaml:"bar_height"`
	LabelWidth int    `yaml:"label_width"`
	Colormap   string `yaml:"colormap"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return default config if file doesn't exist
		return DefaultConfig(), nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			Title:       "Cell Taxonomy Predictor",
		},
		Reference: ReferenceConfig{
			Path: "./data/cell_taxonomy_resource.txt.gz",
		},
		Cache: CacheConfig{
			PredictionSizeMB:     64,
			PredictionTTLMinutes: 30,
			QueryCacheSize:       256,
		},
		Refine: RefineConfig{
			Provider:       "gemini",
			Model:          "gemini-2.0-flash",
			APIKeyEnv:      "GEMINI_API_KEY",
			TimeoutSeconds: 30,
			MaxCandidates:  4,
			Temperature:    0.2,
			MaxTokens:      1024,
		},
		Jobs: JobsConfig{
			MaxConcurrent: 2,
			SQLitePath:    "./data/refine_jobs.sqlite",
			RetentionDays: 7,
		},
		Render: RenderConfig{
			Width:      640,
			BarHeight:  28,
			LabelWidth: 220,
			Colormap:   "viridis",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if cfg.Server.Title == "" {
		cfg.Server.Title = defaults.Server.Title
	}
	if cfg.Reference.Path == "" {
		cfg.Reference.Path = defaults.Reference.Path
	}
	if cfg.Cache.PredictionSizeMB == 0 {
		cfg.Cache.PredictionSizeMB = defaults.Cache.PredictionSizeMB
	}
	if cfg.Cache.PredictionTTLMinutes == 0 {
		cfg.Cache.PredictionTTLMinutes = defaults.Cache.PredictionTTLMinutes
	}
	if cfg.Cache.QueryCacheSize == 0 {
		cfg.Cache.QueryCacheSize = defaults.Cache.QueryCacheSize
	}
	if cfg.Refine.Provider == "" {
		cfg.Refine.Provider = defaults.Refine.Provider
	}
	if cfg.Refine.Model == "" {
		cfg.Refine.Model = defaults.Refine.Model
	}
	if cfg.Refine.APIKeyEnv == "" {
		cfg.Refine.APIKeyEnv = defaults.Refine.APIKeyEnv
	}
	if cfg.Refine.TimeoutSeconds == 0 {
		cfg.Refine.TimeoutSeconds = defaults.Refine.TimeoutSeconds
	}
	if cfg.Refine.MaxCandidates == 0 {
		cfg.Refine.MaxCandidates = defaults.Refine.MaxCandidates
	}
	if cfg.Refine.MaxTokens == 0 {
		cfg.Refine.MaxTokens = defaults.Refine.MaxTokens
	}
	if cfg.Jobs.MaxConcurrent == 0 {
		cfg.Jobs.MaxConcurrent = defaults.Jobs.MaxConcurrent
	}
	if cfg.Jobs.SQLitePath == "" {
		cfg.Jobs.SQLitePath = defaults.Jobs.SQLitePath
	}
	if cfg.Jobs.RetentionDays == 0 {
		cfg.Jobs.RetentionDays = defaults.Jobs.RetentionDays
	}
	if cfg.Render.Width == 0 {
		cfg.Render.Width = defaults.Render.Width
	}
	if cfg.Render.BarHeight == 0 {
		cfg.Render.BarHeight = defaults.Render.BarHeight
	}
	if cfg.Render.LabelWidth == 0 {
		cfg.Render.LabelWidth = defaults.Render.LabelWidth
	}
	if cfg.Render.Colormap == "" {
		cfg.Render.Colormap = defaults.Render.Colormap
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = defaults.Log.Format
	}
}

package service

import (
	"context"
	"fmt"

	"github.com/celltaxonomy/server/internal/genes"
	"github.com/celltaxonomy/server/internal/reference"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// PanelSpec describes a preset panel file to load.
type PanelSpec struct {
	ID      string
	Name    string
	Species string
	Tissues []string
	Path    string
	Header  bool
}

// Panel is a loaded preset gene panel.
type Panel struct {
	ID      string
	Name    string
	Species reference.Species
	Tissues reference.TissueFilter
	Genes   genes.MarkerSet
}

// PanelInfo contains information about a panel for the API response.
type PanelInfo struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Species reference.Species `json:"species"`
	Tissues []string          `json:"tissues"`
	Genes   int               `json:"genes"`
}

// PanelRegistry holds the preset panels in config order.
type PanelRegistry struct {
	panels       map[string]*Panel
	defaultPanel string
	panelOrder   []string
}

// NewPanelRegistry creates an empty panel registry.
func NewPanelRegistry() *PanelRegistry {
	return &PanelRegistry{panels: make(map[string]*Panel)}
}

// Register adds a panel. The first registered panel becomes the default.
func (r *PanelRegistry) Register(p *Panel) {
	if _, ok := r.panels[p.ID]; !ok {
		r.panelOrder = append(r.panelOrder, p.ID)
	}
	if r.defaultPanel == "" {
		r.defaultPanel = p.ID
	}
	r.panels[p.ID] = p
}

// Get returns the panel with id, or nil if not found.
func (r *PanelRegistry) Get(id string) *Panel {
	if r == nil {
		return nil
	}
	return r.panels[id]
}

// Default returns the default panel, or nil when none are configured.
func (r *PanelRegistry) Default() *Panel {
	if r == nil {
		return nil
	}
	return r.panels[r.defaultPanel]
}

// IDs returns all panel IDs in config order.
func (r *PanelRegistry) IDs() []string {
	if r == nil {
		return nil
	}
	return r.panelOrder
}

// Panels returns panel info for all registered panels.
func (r *PanelRegistry) Panels() []PanelInfo {
	infos := make([]PanelInfo, 0, len(r.IDs()))
	for _, id := range r.IDs() {
		p := r.panels[id]
		infos = append(infos, PanelInfo{
			ID:      p.ID,
			Name:    p.Name,
			Species: p.Species,
			Tissues: p.Tissues.Names(),
			Genes:   p.Genes.Len(),
		})
	}
	return infos
}

// LoadPanels reads every panel file concurrently. Any failure aborts the load.
func LoadPanels(ctx context.Context, specs []PanelSpec, logger *zap.Logger) (*PanelRegistry, error) {
	loaded := make([]*Panel, len(specs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, spec := range specs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			p, err := loadPanel(spec)
			if err != nil {
				return err
			}
			loaded[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	registry := NewPanelRegistry()
	for _, p := range loaded {
		registry.Register(p)
		logger.Info("loaded panel",
			zap.String("panel", p.ID),
			zap.String("species", p.Species.String()),
			zap.String("genes", humanize.Comma(int64(p.Genes.Len()))),
		)
	}
	return registry, nil
}

func loadPanel(spec PanelSpec) (*Panel, error) {
	species, err := reference.ParseSpecies(spec.Species)
	if err != nil {
		return nil, fmt.Errorf("panel %s: %w", spec.ID, err)
	}
	set, err := genes.LoadPanel(spec.Path, spec.Header)
	if err != nil {
		return nil, fmt.Errorf("panel %s: %w", spec.ID, err)
	}
	if set.Len() == 0 {
		return nil, fmt.Errorf("panel %s: no genes in %s", spec.ID, spec.Path)
	}
	name := spec.Name
	if name == "" {
		name = spec.ID
	}
	return &Panel{
		ID:      spec.ID,
		Name:    name,
		Species: species,
		Tissues: reference.NewTissueFilter(spec.Tissues...),
		Genes:   set,
	}, nil
}

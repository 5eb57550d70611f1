// Package service runs cell type predictions against the loaded reference.
package service

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/celltaxonomy/server/internal/genes"
	"github.com/celltaxonomy/server/internal/reference"
)

var (
	// ErrInvalidQuery indicates a request that cannot be turned into a Query.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrUnknownPanel indicates a preset panel ID that is not configured.
	ErrUnknownPanel = errors.New("unknown panel")
)

// Mode selects the marker database a query is matched against.
type Mode string

const (
	// ModeBase matches against the full reference.
	ModeBase Mode = "base"
	// ModePreset restricts the query genes to a configured panel.
	ModePreset Mode = "preset"
	// ModeCustom restricts the reference to a free-text gene panel.
	ModeCustom Mode = "custom"
	// ModeUpload restricts the reference to an uploaded single-column panel file.
	ModeUpload Mode = "upload"
)

// ParseMode accepts the mode names; "" is ModeBase.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeBase, nil
	case ModeBase, ModePreset, ModeCustom, ModeUpload:
		return m, nil
	}
	return "", fmt.Errorf("%w: unknown mode %q", ErrInvalidQuery, s)
}

// Query is the immutable context of one prediction. It is passed by value.
type Query struct {
	Species     reference.Species
	Tissues     reference.TissueFilter
	Markers     genes.MarkerSet
	TopN        int
	Mode        Mode
	Panel       string
	CustomPanel genes.MarkerSet
}

// Key returns a canonical string identifying the query, independent of gene and
// tissue order.
func (q Query) Key() string {
	var b strings.Builder
	b.WriteString(q.Species.String())
	b.WriteString("|")
	b.WriteString(string(q.Mode))
	b.WriteString("|")
	b.WriteString(strconv.Itoa(q.TopN))
	b.WriteString("|")
	b.WriteString(sortedJoin(q.Tissues.Names()))
	b.WriteString("|")
	b.WriteString(sortedJoin(q.Markers.Genes()))
	b.WriteString("|")
	b.WriteString(q.Panel)
	b.WriteString("|")
	b.WriteString(sortedJoin(q.CustomPanel.Genes()))
	return b.String()
}

func sortedJoin(values []string) string {
	sort.Strings(values)
	return strings.Join(values, ",")
}

// Request is the wire form of a Query.
type Request struct {
	Species string   `json:"species"`
	Tissues []string `json:"tissues,omitempty"`
	Markers string   `json:"markers"`
	TopN    int      `json:"top_n,omitempty"`
	Mode    string   `json:"mode,omitempty"`
	Panel   string   `json:"panel,omitempty"`
	// CustomPanel is free text for ModeCustom and file contents for ModeUpload.
	CustomPanel string `json:"custom_panel,omitempty"`
	PanelHeader bool   `json:"panel_header,omitempty"`
}

// Query validates the request and converts it. Species errors wrap
// reference.ErrInvalidSpecies; everything else wraps ErrInvalidQuery.
func (r Request) Query() (Query, error) {
	mode, err := ParseMode(r.Mode)
	if err != nil {
		return Query{}, err
	}

	q := Query{
		Tissues: reference.NewTissueFilter(r.Tissues...),
		Markers: genes.Parse(r.Markers),
		TopN:    r.TopN,
		Mode:    mode,
	}
	if q.TopN < 0 {
		return Query{}, fmt.Errorf("%w: top_n must not be negative", ErrInvalidQuery)
	}
	if q.Markers.Len() == 0 {
		return Query{}, fmt.Errorf("%w: no marker genes given", ErrInvalidQuery)
	}

	switch mode {
	case ModePreset:
		if strings.TrimSpace(r.Panel) == "" {
			return Query{}, fmt.Errorf("%w: preset mode requires a panel", ErrInvalidQuery)
		}
		q.Panel = strings.TrimSpace(r.Panel)
	case ModeCustom:
		q.CustomPanel = genes.Parse(r.CustomPanel)
	case ModeUpload:
		panel, err := genes.ReadPanel(strings.NewReader(r.CustomPanel), r.PanelHeader)
		if err != nil {
			return Query{}, fmt.Errorf("%w: failed to read panel: %v", ErrInvalidQuery, err)
		}
		q.CustomPanel = panel
	}
	if (mode == ModeCustom || mode == ModeUpload) && q.CustomPanel.Len() == 0 {
		return Query{}, fmt.Errorf("%w: %s mode requires a non-empty gene panel", ErrInvalidQuery, mode)
	}

	// Preset panels carry their own species.
	if mode != ModePreset || r.Species != "" {
		sp, err := reference.ParseSpecies(r.Species)
		if err != nil {
			return Query{}, err
		}
		q.Species = sp
	}
	return q, nil
}

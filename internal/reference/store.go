// Package reference loads the Cell Taxonomy marker table and exposes read-only,
// species-filtered views of it.
package reference

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Required column names of the reference table.
const (
	ColumnSpecies  = "Species"
	ColumnTissue   = "Tissue_standard"
	ColumnCellType = "Cell_standard"
	ColumnMarker   = "Cell_Marker"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// Row is one cell type to marker association.
type Row struct {
	Species  Species
	Tissue   string
	CellType string
	Marker   string
	// Metadata holds the remaining columns of the row, keyed by header name.
	Metadata map[string]string
}

// Store holds the loaded reference rows. It is never modified after
// construction, so it can be shared between concurrent queries.
type Store struct {
	source    string
	rows      []Row
	bySpecies map[Species][]Row
	profiles  map[Species]Profiles
	skipped   int
}

// NewStore wraps rows in a Store and precomputes the per-species rows and
// marker profiles.
func NewStore(rows []Row) *Store {
	s := &Store{
		rows:      rows,
		bySpecies: make(map[Species][]Row, len(AllSpecies)),
		profiles:  make(map[Species]Profiles, len(AllSpecies)),
	}
	for _, sp := range AllSpecies {
		s.bySpecies[sp] = FilterBySpecies(rows, sp)
		s.profiles[sp] = BuildProfiles(s.bySpecies[sp])
	}
	return s
}

// Load reads the reference table from path. Gzip and zstd compressed files are
// detected from their magic bytes.
func Load(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open %s: %v", ErrDataUnavailable, path, err)
	}
	defer f.Close()

	s, err := LoadReader(f)
	if err != nil {
		return nil, err
	}
	s.source = path
	return s, nil
}

// LoadReader reads the reference table from r.
func LoadReader(r io.Reader) (*Store, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	head, _ := br.Peek(4)

	var src io.Reader = br
	switch {
	case bytes.HasPrefix(head, gzipMagic):
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to open gzip stream: %v", ErrDataUnavailable, err)
		}
		defer gz.Close()
		src = gz
	case bytes.HasPrefix(head, zstdMagic):
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to open zstd stream: %v", ErrDataUnavailable, err)
		}
		defer zr.Close()
		src = zr
	}

	rows, skipped, err := parseTSV(src)
	if err != nil {
		return nil, err
	}
	s := NewStore(rows)
	s.skipped = skipped
	return s, nil
}

func parseTSV(r io.Reader) ([]Row, int, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.LazyQuotes = true
	cr.ReuseRecord = false

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, 0, fmt.Errorf("%w: empty reference table", ErrDataUnavailable)
		}
		return nil, 0, fmt.Errorf("%w: failed to read header: %v", ErrDataUnavailable, err)
	}
	cr.FieldsPerRecord = len(header)

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	var missing []string
	for _, name := range []string{ColumnSpecies, ColumnTissue, ColumnCellType, ColumnMarker} {
		if _, ok := col[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, 0, fmt.Errorf("%w: missing required columns: %s", ErrDataUnavailable, strings.Join(missing, ", "))
	}

	var (
		rows    []Row
		skipped int
	)
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("%w: line %d: %v", ErrDataUnavailable, line, err)
		}

		cellType := strings.TrimSpace(rec[col[ColumnCellType]])
		marker := strings.TrimSpace(rec[col[ColumnMarker]])
		if cellType == "" || marker == "" {
			skipped++
			continue
		}
		species, err := ParseSpecies(rec[col[ColumnSpecies]])
		if err != nil {
			return nil, 0, fmt.Errorf("%w: line %d: %v", ErrDataUnavailable, line, err)
		}

		row := Row{
			Species:  species,
			Tissue:   strings.TrimSpace(rec[col[ColumnTissue]]),
			CellType: cellType,
			Marker:   marker,
		}
		for name, i := range col {
			switch name {
			case ColumnSpecies, ColumnTissue, ColumnCellType, ColumnMarker:
				continue
			}
			if v := strings.TrimSpace(rec[i]); v != "" {
				if row.Metadata == nil {
					row.Metadata = make(map[string]string)
				}
				row.Metadata[name] = v
			}
		}
		rows = append(rows, row)
	}

	return rows, skipped, nil
}

// Source returns the path the store was loaded from, if any.
func (s *Store) Source() string {
	return s.source
}

// Len returns the number of rows.
func (s *Store) Len() int {
	return len(s.rows)
}

// Skipped returns the number of rows dropped at load for lacking a cell type or marker.
func (s *Store) Skipped() int {
	return s.skipped
}

// Rows returns all rows. The slice is shared and must not be modified.
func (s *Store) Rows() []Row {
	return s.rows
}

// Species returns the rows for species. The slice is shared and must not be modified.
func (s *Store) Species(species Species) []Row {
	return s.bySpecies[species]
}

// Profiles returns the marker profiles of every cell type of species, built
// from all of its rows. The result is shared; use Restrict to select from it.
func (s *Store) Profiles(species Species) Profiles {
	return s.profiles[species]
}

// FilterBySpecies returns a new slice with the rows belonging to species.
func FilterBySpecies(rows []Row, species Species) []Row {
	out := make([]Row, 0, len(rows)/2)
	for _, r := range rows {
		if r.Species == species {
			out = append(out, r)
		}
	}
	return out
}

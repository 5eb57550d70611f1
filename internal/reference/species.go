package reference

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDataUnavailable indicates the reference table is missing or malformed.
	ErrDataUnavailable = errors.New("reference data unavailable")
	// ErrInvalidSpecies indicates a species outside the supported set.
	ErrInvalidSpecies = errors.New("invalid species")
	// ErrInvalidTissue indicates a tissue filter that is not a subset of the
	// tissues known for the selected species.
	ErrInvalidTissue = errors.New("invalid tissue")
)

// Species is one of the organisms covered by the reference table.
type Species int

const (
	HomoSapiens Species = iota + 1
	MusMusculus
)

// AllSpecies lists the supported species in display order.
var AllSpecies = []Species{HomoSapiens, MusMusculus}

// ParseSpecies accepts the literal reference values ("Homo sapiens", "Mus musculus"),
// case-insensitively, and the aliases "human" and "mouse".
func ParseSpecies(s string) (Species, error) {
	switch strings.ToLower(strings.Join(strings.Fields(s), " ")) {
	case "homo sapiens", "human", "homo_sapiens":
		return HomoSapiens, nil
	case "mus musculus", "mouse", "mus_musculus":
		return MusMusculus, nil
	}
	return 0, fmt.Errorf("%w: %q (expected \"Homo sapiens\" or \"Mus musculus\")", ErrInvalidSpecies, s)
}

// String returns the literal value used in the reference table.
func (s Species) String() string {
	switch s {
	case HomoSapiens:
		return "Homo sapiens"
	case MusMusculus:
		return "Mus musculus"
	}
	return fmt.Sprintf("Species(%d)", int(s))
}

// Valid reports whether s is a supported species.
func (s Species) Valid() bool {
	return s == HomoSapiens || s == MusMusculus
}

// MarshalText implements encoding.TextMarshaler.
func (s Species) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSpecies, int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Species) UnmarshalText(text []byte) error {
	v, err := ParseSpecies(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

package reference

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTSV = "Species\tTissue_standard\tCell_standard\tCell_Marker\tPMID\n" +
	"Homo sapiens\tLiver\tHepatocyte\tALB\t111\n" +
	"Homo sapiens\tLiver\tHepatocyte\tTTR\t111\n" +
	"Homo sapiens\tLiver\tKupffer cell\tCD68\t\n" +
	"Homo sapiens\tBlood\tT cell\tCD3E,CD3D\t222\n" +
	"Homo sapiens\tBlood\tB cell\tMS4A1\t222\n" +
	"Homo sapiens\tBlood\tB cell\tCD19\t222\n" +
	"Mus musculus\tLiver\tHepatocyte\tAlb\t333\n" +
	"Mus musculus\tIntestine\tEnterocyte\tVil1\t333\n" +
	"Homo sapiens\tLiver\t\tAPOA1\t444\n"

func TestLoadReader_Plain(t *testing.T) {
	s, err := LoadReader(strings.NewReader(sampleTSV))
	require.NoError(t, err)

	assert.Equal(t, 8, s.Len())
	assert.Equal(t, 1, s.Skipped())
	assert.Len(t, s.Species(HomoSapiens), 6)
	assert.Len(t, s.Species(MusMusculus), 2)

	first := s.Rows()[0]
	assert.Equal(t, HomoSapiens, first.Species)
	assert.Equal(t, "Liver", first.Tissue)
	assert.Equal(t, "Hepatocyte", first.CellType)
	assert.Equal(t, "ALB", first.Marker)
	assert.Equal(t, "111", first.Metadata["PMID"])
	assert.Nil(t, s.Rows()[2].Metadata)
}

func TestLoadReader_Compressed(t *testing.T) {
	t.Run("gzip", func(t *testing.T) {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		_, err := zw.Write([]byte(sampleTSV))
		require.NoError(t, err)
		require.NoError(t, zw.Close())

		s, err := LoadReader(&buf)
		require.NoError(t, err)
		assert.Equal(t, 8, s.Len())
	})

	t.Run("zstd", func(t *testing.T) {
		var buf bytes.Buffer
		zw, err := zstd.NewWriter(&buf)
		require.NoError(t, err)
		_, err = zw.Write([]byte(sampleTSV))
		require.NoError(t, err)
		require.NoError(t, zw.Close())

		s, err := LoadReader(&buf)
		require.NoError(t, err)
		assert.Equal(t, 8, s.Len())
	})
}

func TestLoad_DataUnavailable(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content *string
	}{
		{name: "missing file"},
		{name: "empty file", content: ptr("")},
		{name: "missing columns", content: ptr("Species\tTissue_standard\nHomo sapiens\tLiver\n")},
		{name: "ragged row", content: ptr("Species\tTissue_standard\tCell_standard\tCell_Marker\nHomo sapiens\tLiver\n")},
		{name: "unknown species", content: ptr("Species\tTissue_standard\tCell_standard\tCell_Marker\nDanio rerio\tLiver\tHepatocyte\tfabp10a\n")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(tt.name, " ", "_")+".tsv")
			if tt.content != nil {
				require.NoError(t, os.WriteFile(path, []byte(*tt.content), 0644))
			}
			_, err := Load(path)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrDataUnavailable)
		})
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cell_taxonomy_resource.txt")
	require.NoError(t, os.WriteFile(path, []byte(sampleTSV), 0644))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, s.Source())
}

func TestParseSpecies(t *testing.T) {
	for _, in := range []string{"Homo sapiens", "homo sapiens", "HUMAN", " Homo  sapiens "} {
		sp, err := ParseSpecies(in)
		require.NoError(t, err, in)
		assert.Equal(t, HomoSapiens, sp)
	}
	sp, err := ParseSpecies("mouse")
	require.NoError(t, err)
	assert.Equal(t, MusMusculus, sp)
	assert.Equal(t, "Mus musculus", sp.String())

	_, err = ParseSpecies("Rattus norvegicus")
	assert.ErrorIs(t, err, ErrInvalidSpecies)
}

func TestListTissues(t *testing.T) {
	s, err := LoadReader(strings.NewReader(sampleTSV))
	require.NoError(t, err)

	// Blood has 3 rows, Liver 3: tie keeps first-seen order.
	assert.Equal(t, []string{"All", "Liver", "Blood"}, ListTissues(s.Rows(), HomoSapiens))
	assert.Equal(t, []string{"All", "Liver", "Intestine"}, ListTissues(s.Rows(), MusMusculus))

	rows := []Row{
		{Species: HomoSapiens, Tissue: "Brain", CellType: "Neuron", Marker: "RBFOX3"},
		{Species: HomoSapiens, Tissue: "Brain", CellType: "Neuron", Marker: "SYP"},
		{Species: HomoSapiens, Tissue: "Kidney", CellType: "Podocyte", Marker: "NPHS1"},
	}
	got := ListTissues(rows, HomoSapiens)
	assert.Equal(t, "All", got[0])
	assert.Equal(t, []string{"All", "Brain", "Kidney"}, got)

	assert.Equal(t, []string{"All"}, ListTissues(nil, HomoSapiens))
}

func TestValidateTissues(t *testing.T) {
	s, err := LoadReader(strings.NewReader(sampleTSV))
	require.NoError(t, err)

	assert.NoError(t, ValidateTissues(s.Rows(), HomoSapiens, NewTissueFilter("All")))
	assert.NoError(t, ValidateTissues(s.Rows(), HomoSapiens, NewTissueFilter("Liver", "Blood")))

	err = ValidateTissues(s.Rows(), MusMusculus, NewTissueFilter("Blood"))
	assert.ErrorIs(t, err, ErrInvalidTissue)

	err = ValidateTissues(s.Rows(), Species(9), NewTissueFilter())
	assert.ErrorIs(t, err, ErrInvalidSpecies)
}

func TestTissueFilter(t *testing.T) {
	assert.True(t, NewTissueFilter().All())
	assert.True(t, NewTissueFilter("Liver", "All").All())
	assert.True(t, TissueFilter{}.Allows("anything"))

	f := NewTissueFilter("Liver", " Liver ", "Blood")
	assert.False(t, f.All())
	assert.Equal(t, []string{"Liver", "Blood"}, f.Names())
	assert.True(t, f.Allows("Blood"))
	assert.False(t, f.Allows("Brain"))
}

func TestBuildProfiles(t *testing.T) {
	s, err := LoadReader(strings.NewReader(sampleTSV))
	require.NoError(t, err)

	p := BuildProfiles(s.Species(HomoSapiens))
	assert.Equal(t, []string{"Hepatocyte", "Kupffer cell", "T cell", "B cell"}, p.CellTypes())

	tcell, ok := p.Markers("T cell")
	require.True(t, ok)
	assert.Contains(t, tcell, "cd3e")
	assert.Contains(t, tcell, "cd3d")

	restricted := p.Restrict([]string{"B cell", "Unknown", "Hepatocyte", "B cell"})
	assert.Equal(t, []string{"B cell", "Hepatocyte"}, restricted.CellTypes())
}

func TestStoreProfiles(t *testing.T) {
	s, err := LoadReader(strings.NewReader(sampleTSV))
	require.NoError(t, err)

	assert.Equal(t, BuildProfiles(s.Species(HomoSapiens)), s.Profiles(HomoSapiens))
	assert.Equal(t, []string{"Hepatocyte", "Enterocyte"}, s.Profiles(MusMusculus).CellTypes())
	assert.Zero(t, s.Profiles(Species(0)).Len())
}

func TestNewProfiles_DropsEmpty(t *testing.T) {
	p := NewProfiles(
		Profile{CellType: "Hepatocyte", Markers: []string{"alb", "ttr"}},
		Profile{CellType: "Ghost", Markers: []string{" ", ""}},
		Profile{CellType: "Hepatocyte", Markers: []string{"ALB"}},
	)
	assert.Equal(t, []string{"Hepatocyte"}, p.CellTypes())
	m, _ := p.Markers("Hepatocyte")
	assert.Len(t, m, 2)
}

func TestSummarize(t *testing.T) {
	s, err := LoadReader(strings.NewReader(sampleTSV))
	require.NoError(t, err)

	all := Summarize(s.Rows(), HomoSapiens, NewTissueFilter())
	assert.Equal(t, 6, all.Rows)
	assert.Equal(t, 4, all.CellTypes)
	assert.Equal(t, 2, all.TissueCount)
	assert.Equal(t, 7, all.Markers)
	assert.InDelta(t, 1.75, all.MeanMarkersPerType, 1e-9)
	assert.InDelta(t, 2.0, all.MedianMarkersPerType, 1e-9)

	liver := Summarize(s.Rows(), HomoSapiens, NewTissueFilter("Liver"))
	assert.Equal(t, 2, liver.CellTypes)
	assert.Equal(t, []string{"Liver"}, liver.Tissues)
}

func ptr(s string) *string { return &s }

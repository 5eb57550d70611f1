package matching

import (
	"fmt"
	"testing"

	"github.com/celltaxonomy/server/internal/genes"
	"github.com/celltaxonomy/server/internal/reference"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func row(tissue, cellType, marker string) reference.Row {
	return reference.Row{Species: reference.HomoSapiens, Tissue: tissue, CellType: cellType, Marker: marker}
}

func liverRows() []reference.Row {
	return []reference.Row{
		row("Liver", "Hepatocyte", "alb"),
		row("Liver", "Hepatocyte", "ttr"),
		row("Liver", "Kupffer", "cd68"),
	}
}

func TestRankByCount_FirstSeenTieBreak(t *testing.T) {
	got := RankByCount(liverRows(), reference.NewTissueFilter("All"), genes.Parse("alb, cd68"), 5)
	assert.Equal(t, []string{"Hepatocyte", "Kupffer"}, got)
}

func TestRankByCount_CaseInsensitiveMatch(t *testing.T) {
	markers := genes.Parse("ALB TTR Cd68")
	got := Rank(liverRows(), reference.TissueFilter{}, markers, 5, CountScore)
	require.Len(t, got, 2)
	assert.Equal(t, Candidate{CellType: "Hepatocyte", Count: 2, Score: 2}, got[0])
	assert.Equal(t, Candidate{CellType: "Kupffer", Count: 1, Score: 1}, got[1])

	// The query keeps its original casing.
	assert.Equal(t, []string{"ALB", "TTR", "Cd68"}, markers.Genes())
}

func TestRankByCount_OrdersByCount(t *testing.T) {
	rows := []reference.Row{
		row("Blood", "B cell", "CD19"),
		row("Blood", "T cell", "CD3E"),
		row("Blood", "T cell", "CD3D"),
		row("Blood", "T cell", "CD2"),
		row("Blood", "NK cell", "NCAM1"),
		row("Blood", "NK cell", "CD2"),
	}
	got := RankByCount(rows, reference.TissueFilter{}, genes.Parse("CD19 CD3E CD3D CD2 NCAM1"), 0)
	assert.Equal(t, []string{"T cell", "NK cell", "B cell"}, got)
}

func TestRank_TopNLimit(t *testing.T) {
	var rows []reference.Row
	var markers []string
	for i := 0; i < 12; i++ {
		m := fmt.Sprintf("G%d", i)
		markers = append(markers, m)
		rows = append(rows, row("Brain", fmt.Sprintf("Type%d", i), m))
	}
	set := genes.NewMarkerSet(markers...)

	assert.Len(t, RankByCount(rows, reference.TissueFilter{}, set, 3), 3)
	assert.Len(t, RankByCount(rows, reference.TissueFilter{}, set, 0), DefaultTopN)
	assert.Len(t, RankByWeightedScore(rows, reference.TissueFilter{}, set, 20), 12)
}

func TestRank_TissueFilter(t *testing.T) {
	rows := append(liverRows(),
		row("Blood", "Monocyte", "CD68"),
		row("Blood", "Monocyte", "CD14"),
	)
	markers := genes.Parse("cd68,cd14")

	assert.Equal(t, []string{"Monocyte", "Kupffer"}, RankByCount(rows, reference.TissueFilter{}, markers, 5))
	assert.Equal(t, []string{"Kupffer"}, RankByCount(rows, reference.NewTissueFilter("Liver"), markers, 5))

	// Tissues absent for the species match nothing rather than failing.
	assert.Empty(t, RankByCount(rows, reference.NewTissueFilter("Kidney"), markers, 5))
}

func TestRank_NoMatches(t *testing.T) {
	got := RankByCount(liverRows(), reference.TissueFilter{}, genes.Parse("GFAP"), 5)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	assert.Empty(t, RankByWeightedScore(nil, reference.TissueFilter{}, genes.Parse("ALB"), 5))
	assert.Empty(t, RankByCount(liverRows(), reference.TissueFilter{}, genes.MarkerSet{}, 5))
}

func TestRank_NeverReturnsUnfilteredCellTypes(t *testing.T) {
	rows := append(liverRows(), row("Blood", "Monocyte", "CD68"))
	got := RankByWeightedScore(rows, reference.NewTissueFilter("Liver"), genes.Parse("CD68 ALB"), 5)
	assert.ElementsMatch(t, []string{"Hepatocyte", "Kupffer"}, got)
	assert.NotContains(t, got, "Monocyte")
}

func TestRank_Deterministic(t *testing.T) {
	rows := []reference.Row{
		row("Lung", "AT1", "AGER"),
		row("Lung", "AT2", "SFTPC"),
		row("Lung", "Club", "SCGB1A1"),
		row("Lung", "AT2", "SFTPB"),
		row("Lung", "Ciliated", "FOXJ1"),
		row("Lung", "AT1", "PDPN"),
	}
	markers := genes.Parse("AGER SFTPC SCGB1A1 SFTPB FOXJ1 PDPN")

	first := RankByCount(rows, reference.TissueFilter{}, markers, 5)
	weighted := RankByWeightedScore(rows, reference.TissueFilter{}, markers, 5)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, RankByCount(rows, reference.TissueFilter{}, markers, 5))
		assert.Equal(t, weighted, RankByWeightedScore(rows, reference.TissueFilter{}, markers, 5))
	}
	assert.Equal(t, []string{"AT1", "AT2", "Club", "Ciliated"}, first)
	assert.Equal(t, []string{"Club", "Ciliated", "AT1", "AT2"}, weighted)
}

func TestInverseLogScore(t *testing.T) {
	assert.InDelta(t, 1/(0.6931471805599453+100), InverseLogScore(1), 1e-12)
	assert.InDelta(t, 0.01, InverseLogScore(0), 1e-12)

	for c := 1; c < 1000; c++ {
		require.Greater(t, InverseLogScore(c), InverseLogScore(c+1), "count %d", c)
	}
	assert.Greater(t, InverseLogScore(1), InverseLogScore(100))
}

func TestRankByWeightedScore_RarerFirst(t *testing.T) {
	var rows []reference.Row
	for i := 0; i < 100; i++ {
		rows = append(rows, row("Liver", "Hepatocyte", "ALB"))
	}
	rows = append(rows, row("Liver", "Stellate", "DES"))
	markers := genes.Parse("ALB DES")

	byCount := Rank(rows, reference.TissueFilter{}, markers, 5, CountScore)
	require.Len(t, byCount, 2)
	assert.Equal(t, "Hepatocyte", byCount[0].CellType)
	assert.Equal(t, 100, byCount[0].Count)

	byWeight := Rank(rows, reference.TissueFilter{}, markers, 5, InverseLogScore)
	require.Len(t, byWeight, 2)
	assert.Equal(t, "Stellate", byWeight[0].CellType)
	assert.Equal(t, 1, byWeight[0].Count)
	assert.Greater(t, byWeight[0].Score, byWeight[1].Score)
}

func TestGroup_DoesNotMutateRows(t *testing.T) {
	rows := []reference.Row{row("Liver", "Hepatocyte", "ALB")}
	Group(rows, reference.TissueFilter{}, genes.Parse("alb"))
	assert.Equal(t, "ALB", rows[0].Marker)
}

func TestFilterByPanel(t *testing.T) {
	rows := liverRows()
	got := FilterByPanel(rows, genes.Parse("ALB CD68"))
	require.Len(t, got, 2)
	assert.Equal(t, "Hepatocyte", got[0].CellType)
	assert.Equal(t, "Kupffer", got[1].CellType)
	assert.Len(t, rows, 3)

	assert.Empty(t, FilterByPanel(rows, genes.MarkerSet{}))
}

func TestRank_MultiMarkerField(t *testing.T) {
	rows := []reference.Row{
		row("Blood", "T cell", "CD3E, CD3D"),
		row("Blood", "B cell", "MS4A1"),
		row("Blood", "NK cell", "NCAM1"),
		row("Blood", "NK cell", "CD3E"),
	}

	got := Rank(rows, reference.TissueFilter{}, genes.Parse("cd3e"), 5, CountScore)
	assert.Equal(t, []Candidate{
		{CellType: "T cell", Count: 1, Score: 1},
		{CellType: "NK cell", Count: 1, Score: 1},
	}, got)

	// Each matching gene of the field counts, like one row per gene.
	got = Rank(rows, reference.TissueFilter{}, genes.Parse("CD3E CD3D NCAM1"), 5, CountScore)
	require.Len(t, got, 2)
	assert.Equal(t, Candidate{CellType: "T cell", Count: 2, Score: 2}, got[0])
	assert.Equal(t, Candidate{CellType: "NK cell", Count: 2, Score: 2}, got[1])

	// Rankings agree with the profiles built from the same rows.
	profiles := reference.BuildProfiles(rows)
	tcell, ok := profiles.Markers("T cell")
	require.True(t, ok)
	assert.Contains(t, tcell, "cd3e")
	assert.Contains(t, RankByCount(rows, reference.TissueFilter{}, genes.Parse("CD3D"), 5), "T cell")
}

func TestFilterByPanel_MultiMarkerField(t *testing.T) {
	rows := []reference.Row{
		row("Blood", "T cell", "CD3E,CD3D"),
		row("Blood", "B cell", "MS4A1"),
	}

	got := FilterByPanel(rows, genes.Parse("CD3E"))
	require.Len(t, got, 1)
	assert.Equal(t, "T cell", got[0].CellType)
	assert.Equal(t, "CD3E", got[0].Marker)
	assert.Equal(t, "CD3E,CD3D", rows[0].Marker)

	// CD3D is outside the panel and must not match through the narrowed row.
	assert.Empty(t, RankByCount(got, reference.TissueFilter{}, genes.Parse("CD3D"), 5))

	all := FilterByPanel(rows, genes.Parse("CD3E CD3D"))
	require.Len(t, all, 1)
	assert.Equal(t, "CD3E,CD3D", all[0].Marker)
}

package main

import (
	"fmt"

	"github.com/celltaxonomy/server/internal/reference"
	"github.com/celltaxonomy/server/internal/service"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func getTissuesCmd() *cobra.Command {
	var species string
	var summary bool

	cmd := &cobra.Command{
		Use:   "tissues",
		Short: "List the tissues of a species",
		Long: `List the tissues recorded for a species, most frequent first, with "All"
at the top. With --summary, also print reference statistics.

Examples:
  celltax tissues --species mouse
  celltax tissues --species human --summary`,
		RunE: func(cmd *cobra.Command, args []string) error {
			sp, err := reference.ParseSpecies(species)
			if err != nil {
				return err
			}
			store, err := service.LoadReference(cfg.Reference.Path, logger)
			if err != nil {
				return err
			}
			p := service.NewPredictor(store, nil, logger)

			tissues, err := p.Tissues(sp)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, t := range tissues {
				fmt.Fprintln(out, t)
			}

			if summary {
				s, err := p.Summary(sp, reference.NewTissueFilter())
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "\n%s: %s rows, %s cell types, %s tissues, %s markers\n",
					s.Species,
					humanize.Comma(int64(s.Rows)),
					humanize.Comma(int64(s.CellTypes)),
					humanize.Comma(int64(s.TissueCount)),
					humanize.Comma(int64(s.Markers)),
				)
				fmt.Fprintf(out, "markers per cell type: mean %.2f, median %.1f\n",
					s.MeanMarkersPerType, s.MedianMarkersPerType)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&species, "species", "s", "Homo sapiens", "Species (Homo sapiens, Mus musculus, human, mouse)")
	cmd.Flags().BoolVar(&summary, "summary", false, "Print reference statistics")
	return cmd
}

package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/celltaxonomy/server/internal/genes"
	"github.com/spf13/cobra"
)

func getParseCmd() *cobra.Command {
	var panelFile string
	var header bool

	cmd := &cobra.Command{
		Use:   "parse [text...]",
		Short: "Parse a free-text gene list or a panel file",
		Long: `Print the deduplicated genes parsed from free text (arguments or standard
input), or from the first column of a panel file with --panel-file.

Examples:
  celltax parse "ALB, TTR  CD68"
  celltax parse --panel-file mouse_liver.tsv --header`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var set genes.MarkerSet
			switch {
			case panelFile != "":
				f, err := os.Open(panelFile)
				if err != nil {
					return fmt.Errorf("failed to open panel file: %w", err)
				}
				defer f.Close()
				set, err = genes.ReadPanel(f, header)
				if err != nil {
					return err
				}
			case len(args) > 0:
				set = genes.Parse(strings.Join(args, " "))
			default:
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read stdin: %w", err)
				}
				set = genes.Parse(string(data))
			}

			out := cmd.OutOrStdout()
			for _, g := range set.Genes() {
				fmt.Fprintln(out, g)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&panelFile, "panel-file", "", "Read genes from the first column of a panel file")
	cmd.Flags().BoolVar(&header, "header", false, "Panel file has a header line")
	return cmd
}

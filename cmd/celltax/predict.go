package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/celltaxonomy/server/internal/refine"
	"github.com/celltaxonomy/server/internal/service"
	"github.com/spf13/cobra"
)

var (
	predictSpecies     string
	predictTissues     []string
	predictTopN        int
	predictMode        string
	predictPanel       string
	predictPanelFile   string
	predictPanelHeader bool
	predictRefine      bool
	predictStyle       string
	predictJSON        bool
)

func getPredictCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "predict [genes...]",
		Short: "Rank candidate cell types for marker genes",
		Long: `Rank candidate cell types for a list of marker genes and print both
rankings with posterior probabilities.

Genes may be separated by commas or whitespace. With no arguments the gene
list is read from standard input.

Examples:
  celltax predict --species human ALB TTR CD68
  celltax predict --species mouse --tissues Liver "Alb, Clec4f"
  celltax predict --mode preset --panel mouse-liver Alb Cd68
  celltax predict --species human --panel-file panel.tsv --panel-header CD3E CD4
  celltax predict --species human --refine --style reasoning ALB TTR`,
		RunE: runPredict,
	}
	cmd.Flags().StringVarP(&predictSpecies, "species", "s", "Homo sapiens", "Species (Homo sapiens, Mus musculus, human, mouse)")
	cmd.Flags().StringSliceVarP(&predictTissues, "tissues", "t", nil, "Tissues to restrict to (default All)")
	cmd.Flags().IntVarP(&predictTopN, "top", "n", 0, "Number of candidates per ranking (default 5)")
	cmd.Flags().StringVar(&predictMode, "mode", "", "Dataset mode: base, preset, custom, upload")
	cmd.Flags().StringVar(&predictPanel, "panel", "", "Preset panel ID (preset mode)")
	cmd.Flags().StringVar(&predictPanelFile, "panel-file", "", "Gene panel file (upload mode)")
	cmd.Flags().BoolVar(&predictPanelHeader, "panel-header", false, "Panel file has a header line")
	cmd.Flags().BoolVar(&predictRefine, "refine", false, "Ask the LLM to select among the top candidates")
	cmd.Flags().StringVar(&predictStyle, "style", "letter", "Refinement prompt style: letter, reasoning")
	cmd.Flags().BoolVar(&predictJSON, "json", false, "Print JSON instead of a table")
	cmd.Flags().String("model", "", "LLM model used for refinement")
	cmd.Flags().Int("refine-timeout", 0, "Refinement timeout in seconds")
	return cmd
}

func runPredict(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	markers := strings.Join(args, " ")
	if len(args) == 0 {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("failed to read genes from stdin: %w", err)
		}
		markers = string(data)
	}

	req := service.Request{
		Species:     predictSpecies,
		Tissues:     predictTissues,
		Markers:     markers,
		TopN:        predictTopN,
		Mode:        predictMode,
		Panel:       predictPanel,
		PanelHeader: predictPanelHeader,
	}
	if req.Panel != "" && req.Mode == "" {
		req.Mode = string(service.ModePreset)
	}
	// Presets carry their species; only an explicit --species is checked against it.
	if req.Mode == string(service.ModePreset) && !cmd.Flags().Changed("species") {
		req.Species = ""
	}
	if predictPanelFile != "" {
		data, err := os.ReadFile(predictPanelFile)
		if err != nil {
			return fmt.Errorf("failed to read panel file: %w", err)
		}
		req.CustomPanel = string(data)
		if req.Mode == "" {
			req.Mode = string(service.ModeUpload)
		}
	}

	q, err := req.Query()
	if err != nil {
		return err
	}
	style, err := refine.ParseStyle(predictStyle)
	if err != nil {
		return err
	}

	predictor, err := loadPredictor(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !predictRefine {
		pred, err := predictor.Predict(q)
		if err != nil {
			return err
		}
		if predictJSON {
			return writeJSON(out, pred)
		}
		printPrediction(out, pred)
		return nil
	}

	configureRefiner(ctx, predictor)
	res, err := predictor.PredictAndRefine(ctx, q, style)
	if err != nil {
		return err
	}
	if predictJSON {
		return writeJSON(out, res)
	}
	printPrediction(out, res.Prediction)
	printRefinement(out, res)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printPrediction(w io.Writer, pred *service.Prediction) {
	fmt.Fprintf(w, "Species: %s\n", pred.Species)
	fmt.Fprintf(w, "Tissues: %s\n", strings.Join(pred.Tissues, ", "))
	if pred.Panel != "" {
		fmt.Fprintf(w, "Panel:   %s\n", pred.Panel)
	}
	fmt.Fprintf(w, "Markers: %s\n\n", strings.Join(pred.Markers, ", "))

	fmt.Fprintf(w, "By count:  %s\n", strings.Join(pred.ByCount, ", "))
	fmt.Fprintf(w, "By weight: %s\n\n", strings.Join(pred.ByWeight, ", "))

	if len(pred.Candidates) > 0 {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "CELL TYPE\tCOUNT\tWEIGHTED\tPOSTERIOR")
		for _, c := range pred.Candidates {
			fmt.Fprintf(tw, "%s\t%d\t%.6f\t%.3f\n", c.CellType, c.Count, c.WeightedScore, c.Posterior)
		}
		tw.Flush()
	}
	for _, d := range pred.Diagnostics {
		fmt.Fprintf(w, "note: %s\n", d)
	}
}

func printRefinement(w io.Writer, res *service.RefineResult) {
	fmt.Fprintln(w)
	if res.Degraded {
		fmt.Fprintf(w, "Refinement unavailable: %s\n", res.Reason)
		return
	}
	sel := res.Selection
	fmt.Fprintf(w, "Refined: %s", sel.CellType)
	if sel.Letter != "" {
		fmt.Fprintf(w, " (option %s)", sel.Letter)
	}
	fmt.Fprintln(w)
	if sel.Reasoning != "" {
		fmt.Fprintf(w, "\n%s\n", sel.Reasoning)
	}
}

package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/xhad/lumina/pkg/rag"
	"github.com/xhad/lumina/server"
)

var (
	askTopK        int
	askTemperature float64
	askFilter      map[string]string
	askJSON        bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer one question from the indexed documents",
	Args:  askArgs,
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().IntVarP(&askTopK, "top-k", "k", 0, "passages to retrieve (default from config)")
	askCmd.Flags().Float64VarP(&askTemperature, "temperature", "t", 0, "sampling temperature between 0 and 2 (default from config)")
	askCmd.Flags().StringToStringVarP(&askFilter, "filter", "f", nil, "only retrieve chunks whose metadata matches (key=value)")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "output the result as JSON")
	rootCmd.AddCommand(askCmd)
}

func askArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.MinimumNArgs(1)(cmd, args); err != nil {
		return err
	}
	return checkTopK(askTopK)
}

// checkTopK bounds a --top-k flag the way POST /ask bounds top_k. Zero means the configured default.
func checkTopK(k int) error {
	if k != 0 && (k < 1 || k > server.MaxTopK) {
		return fmt.Errorf("--top-k must be between 1 and %d, got %d", server.MaxTopK, k)
	}
	return nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	question := strings.Join(args, " ")

	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := rag.QueryOptions{
		TopK:   askTopK,
		Filter: parsePairs(askFilter),
	}
	if cmd.Flags().Changed("temperature") {
		opts.Temperature = &askTemperature
	}

	out := cmd.OutOrStdout()
	var spinner interface{ Finish() error }
	if !askJSON {
		spinner = getSpinner(cmd.ErrOrStderr(), " Searching documents...")
	}
	result, err := a.engine.Query(cmd.Context(), question, opts)
	if spinner != nil {
		_ = spinner.Finish()
	}
	if err != nil {
		return fmt.Errorf("failed to answer question: %w", err)
	}

	if askJSON {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	fmt.Fprintf(out, "%s %s\n", color.CyanString("Answer:"), result.Answer)
	printSources(out, result.Sources)
	fmt.Fprintln(out, color.HiBlackString("\n%.0f ms", result.LatencyMS))
	return nil
}

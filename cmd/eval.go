package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/xhad/lumina/pkg/eval"
	"github.com/xhad/lumina/server"
)

var (
	evalDataset string
	evalOutput  string
	evalKs      []int
)

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Measure retrieval precision on a labelled question set",
	Long: `Reads a CSV with question and expected_doc_ids columns (ids separated by '|'),
retrieves passages for each question and reports precision@k. Expected ids may be
chunk ids or source refs. The full report is written as JSON.`,
	Args: evalArgs,
	RunE: runEval,
}

func init() {
	evalCmd.Flags().StringVar(&evalDataset, "dataset", "eval_dataset.csv", "path to the evaluation CSV")
	evalCmd.Flags().StringVarP(&evalOutput, "output", "o", "eval_report.json", "where to write the JSON report")
	evalCmd.Flags().IntSliceVar(&evalKs, "k", eval.DefaultKs, "cut-offs for precision@k")
	rootCmd.AddCommand(evalCmd)
}

func evalArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.NoArgs(cmd, args); err != nil {
		return err
	}
	for _, k := range evalKs {
		if k < 1 || k > server.MaxTopK {
			return fmt.Errorf("--k values must be between 1 and %d, got %d", server.MaxTopK, k)
		}
	}
	return nil
}

func runEval(cmd *cobra.Command, args []string) error {
	f, err := os.Open(evalDataset)
	if err != nil {
		return fmt.Errorf("failed to open dataset: %w", err)
	}
	examples, err := eval.LoadDataset(f)
	f.Close()
	if err != nil {
		return err
	}
	if len(examples) == 0 {
		color.Yellow("No evaluation examples found in %s", evalDataset)
		return nil
	}

	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	evaluator := eval.New(a.engine, evalKs, logger)
	spinner := getSpinner(cmd.ErrOrStderr(), fmt.Sprintf(" Evaluating %d questions...", len(examples)))
	report := evaluator.Run(cmd.Context(), examples)
	_ = spinner.Finish()

	if err := writeReport(evalOutput, report); err != nil {
		return err
	}
	printSummary(cmd.OutOrStdout(), report, evaluator.Ks())
	fmt.Fprintf(cmd.OutOrStdout(), "\nDetailed results saved to: %s\n", evalOutput)
	return nil
}

func writeReport(path string, report eval.Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func printSummary(out io.Writer, report eval.Report, ks []int) {
	m := report.Metrics
	rule := strings.Repeat("=", 60)

	fmt.Fprintln(out, rule)
	fmt.Fprintln(out, color.CyanString("EVALUATION RESULTS"))
	fmt.Fprintln(out, rule)
	for _, k := range ks {
		fmt.Fprintf(out, "Precision@%d: %.4f\n", k, m.Precision[k])
	}
	fmt.Fprintf(out, "\nAverage Retrieval Latency: %.2f ms\n", m.AvgLatencyMS)
	fmt.Fprintf(out, "Total Questions: %d\n", m.TotalQuestions)
	fmt.Fprintf(out, "Successful Queries: %d\n", m.SuccessfulQueries)
	if m.FailedQueries > 0 {
		fmt.Fprintln(out, color.RedString("Failed Queries: %d", m.FailedQueries))
	} else {
		fmt.Fprintf(out, "Failed Queries: %d\n", m.FailedQueries)
	}
	fmt.Fprintln(out, rule)
}

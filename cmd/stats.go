package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var statsFilter map[string]string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show how many chunks are indexed",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().StringToStringVarP(&statsFilter, "filter", "f", nil, "only count chunks whose metadata matches (key=value)")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	if cfg == nil {
		return errNoConfig
	}
	vs, err := openStore(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer vs.Close()

	out := cmd.OutOrStdout()
	health := color.GreenString("healthy")
	if err := vs.Ping(cmd.Context()); err != nil {
		health = color.RedString("unhealthy: %v", err)
	}

	fmt.Fprintf(out, "Table:     %s\n", cfg.Database.TableName)
	fmt.Fprintf(out, "Dimension: %d\n", cfg.Database.VectorDim)
	fmt.Fprintf(out, "Database:  %s\n", health)
	fmt.Fprintf(out, "Chunks:    %d\n", vs.Count(cmd.Context(), parsePairs(statsFilter)))
	return nil
}

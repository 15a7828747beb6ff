package main

import (
	"bufio"
	"fmt"
	"regexp"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/xhad/lumina/pkg/rag"
)

var urlRegex = regexp.MustCompile(`https?://[^\s]+`)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Ask questions interactively",
	Long: `Starts a question loop over the indexed documents. A line containing a URL
crawls and ingests that site first. Type 'exit' to quit.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, color.CyanString("\nChat with your knowledge base (type 'exit' to quit)"))

	scanner := bufio.NewScanner(cmd.InOrStdin())
	userPrompt := color.New(color.FgGreen).FprintfFunc()
	assistantPrompt := color.New(color.FgCyan).FprintfFunc()

	for {
		userPrompt(out, "\nYou: ")
		if !scanner.Scan() {
			break
		}

		query := strings.TrimSpace(scanner.Text())
		if strings.EqualFold(query, "exit") {
			break
		}
		if query == "" {
			continue
		}

		if url := urlRegex.FindString(query); url != "" {
			fmt.Fprintln(out, color.BlueString("\nDetected URL: %s", url))
			result, err := ingestSite(ctx, cmd, a, url, nil)
			if err != nil {
				fmt.Fprintln(out, color.RedString("Failed to ingest URL: %v", err))
				continue
			}
			fmt.Fprintln(out, color.GreenString("✓ Stored %d chunks", result.TotalChunks()))

			query = strings.TrimSpace(strings.Replace(query, url, "", 1))
			if query == "" {
				continue
			}
		}

		spinner := getSpinner(cmd.ErrOrStderr(), " Generating response...")
		result, err := a.engine.Query(ctx, query, rag.QueryOptions{})
		_ = spinner.Finish()
		if err != nil {
			fmt.Fprintln(out, color.RedString("Error: %v", err))
			continue
		}

		assistantPrompt(out, "\nAssistant: %s\n", result.Answer)
		printSources(out, result.Sources)
	}

	return scanner.Err()
}

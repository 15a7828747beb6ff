package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xhad/lumina/internal/logging"
	cfgPkg "github.com/xhad/lumina/pkg/config"
)

var (
	configPath string
	logLevel   string
	logFormat  string

	cfg    *cfgPkg.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "lumina",
	Short: "Question answering over your documents",
	Long: `lumina indexes text, markdown, HTML files and documentation sites into a
pgvector table and answers questions from the closest passages.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (DEBUG, INFO, WARNING, ERROR)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (text or json)")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	loaded, err := cfgPkg.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		loaded.Log.Level = logLevel
	}
	if logFormat != "" {
		loaded.Log.Format = logFormat
	}

	if errs := loaded.Validate(); len(errs) > 0 {
		msgs := make([]string, 0, len(errs))
		for _, e := range errs {
			msgs = append(msgs, e.Error())
		}
		return fmt.Errorf("invalid configuration:\n  %s", strings.Join(msgs, "\n  "))
	}

	cfg = loaded
	logger = logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	return nil
}

// parsePairs turns key=value flag values into metadata. Nil when there are none.
func parsePairs(pairs map[string]string) map[string]interface{} {
	if len(pairs) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(pairs))
	for k, v := range pairs {
		out[k] = v
	}
	return out
}

var errNoConfig = errors.New("configuration not loaded")

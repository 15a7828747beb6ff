package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/lumina/internal/logging"
	"github.com/xhad/lumina/internal/models"
	cfgPkg "github.com/xhad/lumina/pkg/config"
	"github.com/xhad/lumina/pkg/eval"
	"github.com/xhad/lumina/pkg/store"
)

func TestRootCmd_Subcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"ingest", "ask", "chat", "serve", "stats", "eval"} {
		assert.True(t, names[want], "missing %s command", want)
	}
}

func TestAskCmd_RequiresQuestion(t *testing.T) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"ask"})
	defer rootCmd.SetArgs(nil)

	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires at least 1 arg(s)")
}

func TestAskCmd_TopKBound(t *testing.T) {
	t.Cleanup(func() { askTopK = 0; rootCmd.SetArgs(nil) })

	for _, k := range []string{"21", "5000", "-3"} {
		buf := new(bytes.Buffer)
		rootCmd.SetOut(buf)
		rootCmd.SetErr(buf)
		rootCmd.SetArgs([]string{"ask", "--top-k", k, "what is lumina?"})

		err := rootCmd.Execute()
		require.Error(t, err, k)
		assert.Contains(t, err.Error(), "--top-k must be between 1 and 20", k)
		askTopK = 0
	}

	assert.NoError(t, checkTopK(0))
	assert.NoError(t, checkTopK(20))
}

func TestEvalCmd_Flags(t *testing.T) {
	flag := evalCmd.Flags().Lookup("k")
	require.NotNil(t, flag)
	assert.Equal(t, "[1,3,5]", flag.DefValue)
	require.NotNil(t, evalCmd.Flags().Lookup("dataset"))
	require.NotNil(t, evalCmd.Flags().Lookup("output"))

	t.Cleanup(func() { evalKs = eval.DefaultKs; rootCmd.SetArgs(nil) })
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"eval", "--k", "1,50"})

	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--k values must be between 1 and 20")
}

func TestWriteReportAndSummary(t *testing.T) {
	report := eval.Report{
		Metrics: eval.Metrics{
			Precision:         map[int]float64{1: 0.5, 3: 0.25},
			AvgLatencyMS:      12.5,
			TotalQuestions:    4,
			SuccessfulQueries: 3,
			FailedQueries:     1,
		},
		Results: []eval.Result{{Question: "q", ExpectedIDs: []string{"a"}, Precision: map[int]float64{1: 1, 3: 0.33}}},
	}

	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, writeReport(path, report))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded eval.Report
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, report.Metrics.Precision, decoded.Metrics.Precision)
	assert.Len(t, decoded.Results, 1)

	buf := new(bytes.Buffer)
	printSummary(buf, report, []int{1, 3})
	out := buf.String()
	assert.Contains(t, out, "Precision@1: 0.5000")
	assert.Contains(t, out, "Precision@3: 0.2500")
	assert.Contains(t, out, "Average Retrieval Latency: 12.50 ms")
	assert.Contains(t, out, "Failed Queries: 1")
}

func TestOpenStore_Memory(t *testing.T) {
	config := cfgPkg.Default()
	config.Database.URL = "memory://"
	config.Database.VectorDim = 3

	vs, err := openStore(context.Background(), config, logging.Discard())
	require.NoError(t, err)
	defer vs.Close()

	require.IsType(t, &store.MemoryStore{}, vs)
	assert.NoError(t, vs.Ping(context.Background()))
	_, err = vs.Upsert(context.Background(), "c1", "text", []float32{1, 0, 0}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, vs.Count(context.Background(), nil))
}

func TestIngestCmd_Flags(t *testing.T) {
	flag := ingestCmd.Flags().Lookup("recursive")
	require.NotNil(t, flag)
	assert.Equal(t, "r", flag.Shorthand)
	assert.Equal(t, "false", flag.DefValue)

	require.NotNil(t, ingestCmd.Flags().Lookup("metadata"))
	require.NotNil(t, ingestCmd.Flags().Lookup("max-depth"))
}

func TestAskCmd_Flags(t *testing.T) {
	flag := askCmd.Flags().Lookup("top-k")
	require.NotNil(t, flag)
	assert.Equal(t, "k", flag.Shorthand)
	require.NotNil(t, askCmd.Flags().Lookup("filter"))
	require.NotNil(t, askCmd.Flags().Lookup("json"))
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retrieval:\n  top_k: 7\n"), 0644))

	for _, key := range []string{"LLM_PROVIDER", "AZURE_OPENAI_ENDPOINT", "AZURE_OPENAI_API_KEY", "TOP_K_RESULTS", "LOG_LEVEL"} {
		t.Setenv(key, "")
	}
	prevPath, prevLevel := configPath, logLevel
	t.Cleanup(func() { configPath, logLevel, cfg, logger = prevPath, prevLevel, nil, nil })

	t.Run("valid", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "sk-test")
		t.Setenv("DATABASE_URL", "postgres://localhost:5432/rag")
		configPath = path
		logLevel = "debug"

		require.NoError(t, loadConfig(rootCmd, nil))
		require.NotNil(t, cfg)
		assert.Equal(t, 7, cfg.Retrieval.TopK)
		assert.Equal(t, "debug", cfg.Log.Level)
		assert.NotNil(t, logger)
	})

	t.Run("invalid lists every problem", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "")
		t.Setenv("DATABASE_URL", "")
		configPath = path
		logLevel = ""

		err := loadConfig(rootCmd, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "llm.api_key")
		assert.Contains(t, err.Error(), "database.url")
	})
}

func TestRetryPolicy(t *testing.T) {
	config := cfgPkg.Default()
	config.LLM.MaxRetries = 4

	p := retryPolicy(config)
	assert.Equal(t, 4, p.MaxAttempts)
	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 10*time.Second, p.Delay(5))
}

func TestParsePairs(t *testing.T) {
	assert.Nil(t, parsePairs(nil))
	assert.Equal(t, map[string]interface{}{"lang": "go"}, parsePairs(map[string]string{"lang": "go"}))
}

func TestIsURL(t *testing.T) {
	assert.True(t, isURL("https://docs.example.com"))
	assert.True(t, isURL("http://localhost:8080/docs"))
	assert.False(t, isURL("docs/readme.md"))
}

func TestPrintSources(t *testing.T) {
	buf := new(bytes.Buffer)
	printSources(buf, []models.RetrievedDocument{
		{ID: "abc", Text: strings.Repeat("word ", 100), Score: 0.91, Metadata: map[string]interface{}{"source_ref": "guide.md"}},
		{ID: "def", Text: "short", Score: 0.5},
	})

	out := buf.String()
	assert.Contains(t, out, "[1] guide.md (0.910)")
	assert.Contains(t, out, "[2] def (0.500)")
	assert.Contains(t, out, "...")
}

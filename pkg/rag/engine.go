// Package rag answers questions from indexed documents: retrieve, assemble a prompt, generate.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xhad/lumina/internal/errs"
	"github.com/xhad/lumina/internal/logging"
	"github.com/xhad/lumina/internal/models"
	"github.com/xhad/lumina/internal/types"
	"github.com/xhad/lumina/pkg/llm"
)

const (
	DefaultTopK        = 5
	DefaultTemperature = 0.7

	// NoResultsAnswer is returned without calling the model when retrieval finds nothing.
	NoResultsAnswer = "I couldn't find any relevant information to answer your question."
)

type EngineConfig struct {
	Embedder      types.Embedder
	Store         types.VectorStore
	Generator     types.Generator
	Counter       types.TokenCounter
	TopK          int
	ContextBudget int
	Temperature   float64
	Logger        *slog.Logger
}

// QueryOptions override the engine defaults for one question. Zero values keep the defaults.
type QueryOptions struct {
	TopK        int
	Filter      map[string]interface{}
	Temperature *float64
}

type Engine struct {
	config EngineConfig
	logger *slog.Logger
}

func NewEngine(config EngineConfig) (*Engine, error) {
	if config.Embedder == nil || config.Store == nil || config.Generator == nil {
		return nil, fmt.Errorf("embedder, store and generator are required")
	}
	if config.Counter == nil {
		config.Counter = llm.ApproxCounter{}
	}
	if config.TopK <= 0 {
		config.TopK = DefaultTopK
	}
	if config.ContextBudget <= 0 {
		config.ContextBudget = DefaultContextBudget
	}
	if config.Temperature == 0 {
		config.Temperature = DefaultTemperature
	}
	return &Engine{
		config: config,
		logger: logging.OrDiscard(config.Logger).With("component", "rag"),
	}, nil
}

// Retrieve embeds the question and returns the closest documents.
func (e *Engine) Retrieve(ctx context.Context, question string, topK int, filter map[string]interface{}) ([]models.RetrievedDocument, error) {
	if topK <= 0 {
		topK = e.config.TopK
	}

	vector, err := e.config.Embedder.Embed(ctx, question)
	if err != nil {
		e.logger.Error("retrieval_failed", "question", preview(question), "error", err)
		return nil, err
	}

	docs, err := e.config.Store.Search(ctx, vector, topK, filter)
	if err != nil {
		e.logger.Error("retrieval_failed", "question", preview(question), "error", err)
		return nil, err
	}

	e.logger.Info("retrieval_completed", "query_length", len(question), "num_results", len(docs), "top_k", topK)
	return docs, nil
}

// Query runs retrieval and generation for one question. Sources keep their retrieval scores.
func (e *Engine) Query(ctx context.Context, question string, opts QueryOptions) (*models.QueryResult, error) {
	start := time.Now()

	if strings.TrimSpace(question) == "" {
		return nil, errs.Validationf("question cannot be empty")
	}
	temperature := e.config.Temperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}
	if temperature < 0 || temperature > 2 {
		return nil, errs.Validationf("temperature must be between 0 and 2, got %v", temperature)
	}

	e.logger.Info("rag_query_started", "question", preview(question))

	docs, err := e.Retrieve(ctx, question, opts.TopK, opts.Filter)
	if err != nil {
		e.logger.Error("rag_query_failed", "question", preview(question), "error", err)
		return nil, err
	}

	if len(docs) == 0 {
		e.logger.Warn("no_documents_retrieved", "question", preview(question))
		return &models.QueryResult{
			Answer:    NoResultsAnswer,
			Sources:   []models.RetrievedDocument{},
			LatencyMS: msSince(start),
		}, nil
	}

	prompt := BuildPrompt(question, docs, e.config.ContextBudget, e.config.Counter)
	e.logger.Info("prompt_built",
		"num_docs", prompt.NumDocs,
		"context_tokens", prompt.ContextTokens,
		"prompt_length", len(prompt.Text),
	)

	answer, err := e.config.Generator.Generate(ctx, prompt.Text, temperature)
	if err != nil {
		e.logger.Error("rag_query_failed", "question", preview(question), "error", err)
		return nil, err
	}

	result := &models.QueryResult{
		Answer:    answer,
		Sources:   docs,
		LatencyMS: msSince(start),
	}
	e.logger.Info("rag_query_completed",
		"question_length", len(question),
		"num_sources", len(docs),
		"answer_length", len(answer),
		"latency_ms", result.LatencyMS,
	)
	return result, nil
}

func preview(s string) string {
	r := []rune(s)
	if len(r) > 100 {
		return string(r[:100])
	}
	return s
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}

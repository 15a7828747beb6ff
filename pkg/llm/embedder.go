package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/xhad/lumina/internal/errs"
	"github.com/xhad/lumina/internal/logging"
	"github.com/xhad/lumina/pkg/retry"
)

const (
	DefaultEmbeddingModel = "text-embedding-3-small"
	DefaultBatchSize      = 100
	DefaultTimeout        = 30 * time.Second
)

// EmbedderConfig represents the configuration for an embedder.
type EmbedderConfig struct {
	Model     string
	Dimension int // 0 disables the dimension check
	BatchSize int
	Timeout   time.Duration
	RateLimit float64 // requests per second, 0 for unlimited
	Retry     retry.Policy
	Logger    *slog.Logger
}

// Embedder turns text into vectors through a remote embedding model.
type Embedder struct {
	config  EmbedderConfig
	client  EmbeddingClient
	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewEmbedderWithConfig(client EmbeddingClient, config EmbedderConfig) (*Embedder, error) {
	if client == nil {
		return nil, fmt.Errorf("embedding client is required")
	}
	if config.Model == "" {
		config.Model = DefaultEmbeddingModel
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Retry.MaxAttempts == 0 {
		config.Retry = retry.DefaultPolicy()
	}

	e := &Embedder{
		config: config,
		client: client,
		logger: logging.OrDiscard(config.Logger).With("component", "embedder"),
	}
	if config.RateLimit > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), 1)
	}
	if e.config.Retry.OnRetry == nil {
		e.config.Retry.OnRetry = func(attempt int, delay time.Duration, err error) {
			e.logger.Warn("embedding_retry", "attempt", attempt, "delay_ms", delay.Milliseconds(), "error", err)
		}
	}
	return e, nil
}

func (e *Embedder) Model() string {
	return e.config.Model
}

// Embed returns the vector for a single non-empty text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		e.logger.Warn("empty_text_embedding_request")
		return nil, errs.Validationf("cannot generate embedding for empty text")
	}

	start := time.Now()
	vectors, err := e.call(ctx, []string{text})
	latency := msSince(start)
	if err != nil {
		e.logger.Error("embedding_api_error",
			"error", err,
			"text_length", len(text),
			"latency_ms", latency,
			"model", e.config.Model,
		)
		return nil, err
	}

	e.logger.Info("embedding_generated",
		"text_length", len(text),
		"embedding_dim", len(vectors[0]),
		"latency_ms", latency,
		"model", e.config.Model,
	)
	return vectors[0], nil
}

// EmbedBatch embeds texts in sequential groups of batchSize, one remote call per group.
// Vectors come back in input order. A failing group aborts the whole batch.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string, batchSize int) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if batchSize <= 0 {
		batchSize = e.config.BatchSize
	}
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			e.logger.Warn("empty_text_embedding_request", "index", i)
			return nil, errs.Validationf("cannot generate embedding for empty text at index %d", i)
		}
	}

	start := time.Now()
	out := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += batchSize {
		end := min(i+batchSize, len(texts))

		vectors, err := e.call(ctx, texts[i:end])
		if err != nil {
			e.logger.Error("batch_embedding_failed",
				"error", err,
				"num_texts", len(texts),
				"batch_start", i,
				"latency_ms", msSince(start),
				"model", e.config.Model,
			)
			return nil, err
		}
		out = append(out, vectors...)
	}

	e.logger.Info("batch_embeddings_generated",
		"num_texts", len(texts),
		"batch_size", batchSize,
		"latency_ms", msSince(start),
		"model", e.config.Model,
	)
	return out, nil
}

func (e *Embedder) call(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := e.config.Retry.Do(ctx, func(ctx context.Context) error {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return errs.Permanent("create embedding", err)
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
		defer cancel()

		vectors, err := e.client.CreateEmbedding(callCtx, texts)
		if err != nil {
			return Classify("create embedding", err)
		}
		if len(vectors) != len(texts) {
			return errs.Permanent("create embedding", fmt.Errorf("expected %d vectors, got %d", len(texts), len(vectors)))
		}
		if e.config.Dimension > 0 {
			for _, v := range vectors {
				if len(v) != e.config.Dimension {
					return errs.DimensionMismatch(e.config.Dimension, len(v))
				}
			}
		}
		out = vectors
		return nil
	})
	return out, err
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}

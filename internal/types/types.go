package types

import (
	"context"

	"github.com/xhad/lumina/internal/models"
)

// Core interfaces
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string, batchSize int) ([][]float32, error)
}

type Generator interface {
	Generate(ctx context.Context, prompt string, temperature float64) (string, error)
}

type VectorStore interface {
	Upsert(ctx context.Context, id, text string, vector []float32, metadata map[string]interface{}) (string, error)
	Search(ctx context.Context, vector []float32, topK int, filter map[string]interface{}) ([]models.RetrievedDocument, error)
	Get(ctx context.Context, id string) (*models.IndexedDocument, bool)
	Count(ctx context.Context, filter map[string]interface{}) int
	Ping(ctx context.Context) error
	Close()
}

// Extractor turns a file into plain text.
type Extractor interface {
	Supports(path string) bool
	Extract(path string) (string, error)
}

// TokenCounter estimates and truncates by model tokens.
type TokenCounter interface {
	Count(text string) int
	Truncate(text string, maxTokens int) string
}

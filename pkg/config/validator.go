package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/xhad/lumina/pkg/llm"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	// Validate provider
	switch strings.ToLower(c.LLM.Provider) {
	case "", string(llm.ProviderOpenAI), string(llm.ProviderAzure), string(llm.ProviderOllama):
	default:
		errors = append(errors, ValidationError{
			Field:   "llm.provider",
			Message: fmt.Sprintf("unknown provider %q, expected openai, azure or ollama", c.LLM.Provider),
		})
	}

	switch llm.ResolveKind(c.ProviderConfig()) {
	case llm.ProviderOpenAI:
		if c.LLM.APIKey == "" {
			errors = append(errors, ValidationError{
				Field:   "llm.api_key",
				Message: "OpenAI API key is required (set OPENAI_API_KEY)",
			})
		}
	case llm.ProviderAzure:
		if c.LLM.Azure.Endpoint == "" || c.LLM.Azure.APIKey == "" {
			errors = append(errors, ValidationError{
				Field:   "llm.azure",
				Message: "Azure endpoint and API key are required",
			})
		}
		if c.LLM.Azure.ChatDeployment == "" || c.LLM.Azure.EmbeddingDeployment == "" {
			errors = append(errors, ValidationError{
				Field:   "llm.azure",
				Message: "Azure chat and embedding deployments are required",
			})
		}
	case llm.ProviderOllama:
		if u, err := url.Parse(c.LLM.OllamaURL); c.LLM.OllamaURL == "" || err != nil || u.Host == "" {
			errors = append(errors, ValidationError{
				Field:   "llm.ollama_url",
				Message: "invalid Ollama base URL",
			})
		}
	}

	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 16384 {
		errors = append(errors, ValidationError{
			Field:   "llm.max_tokens",
			Message: "max_tokens must be between 1 and 16384",
		})
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errors = append(errors, ValidationError{
			Field:   "llm.temperature",
			Message: "temperature must be between 0 and 2",
		})
	}

	if c.LLM.ContextBudget < 1 {
		errors = append(errors, ValidationError{
			Field:   "llm.context_budget",
			Message: "context_budget must be positive",
		})
	}

	if c.LLM.Timeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "llm.timeout",
			Message: "timeout must be positive",
		})
	}

	if c.LLM.MaxRetries < 1 {
		errors = append(errors, ValidationError{
			Field:   "llm.max_retries",
			Message: "max_retries must be at least 1",
		})
	}

	if c.LLM.BatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "llm.batch_size",
			Message: "batch_size must be positive",
		})
	}

	// Validate Database config
	if c.Database.URL == "" {
		errors = append(errors, ValidationError{
			Field:   "database.url",
			Message: "database URL is required (set DATABASE_URL)",
		})
	} else if u, err := url.Parse(c.Database.URL); err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql" && u.Scheme != MemoryScheme) {
		errors = append(errors, ValidationError{
			Field:   "database.url",
			Message: "invalid database URL",
		})
	}

	if c.Database.VectorDim < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.vector_dim",
			Message: "vector_dim must be positive",
		})
	}

	if c.Database.CandidatePool < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.candidate_pool",
			Message: "candidate_pool must be positive",
		})
	}

	if c.Retrieval.TopK < 1 {
		errors = append(errors, ValidationError{
			Field:   "retrieval.top_k",
			Message: "top_k must be positive",
		})
	}

	// Validate Scraper config
	if c.Scraper.MaxDepth < 1 {
		errors = append(errors, ValidationError{
			Field:   "scraper.max_depth",
			Message: "max_depth must be positive",
		})
	}

	if c.Scraper.RateLimit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "scraper.rate_limit",
			Message: "rate_limit must be positive",
		})
	}

	for _, ext := range c.Scraper.AllowedExtensions {
		if !strings.HasPrefix(ext, ".") && ext != "" && ext != "/" {
			errors = append(errors, ValidationError{
				Field:   "scraper.allowed_extensions",
				Message: fmt.Sprintf("invalid extension format: %s", ext),
			})
		}
	}

	// Validate Chunking config
	if c.Chunking.ChunkSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "chunking.chunk_size",
			Message: "chunk_size must be positive",
		})
	}

	if overlap := c.Chunking.Overlap(); overlap < 0 || overlap >= c.Chunking.ChunkSize {
		errors = append(errors, ValidationError{
			Field:   "chunking.chunk_overlap",
			Message: "chunk_overlap must be non-negative and less than chunk_size",
		})
	}

	switch strings.ToUpper(c.Log.Level) {
	case "DEBUG", "INFO", "WARN", "WARNING", "ERROR", "CRITICAL":
	default:
		errors = append(errors, ValidationError{
			Field:   "log.level",
			Message: fmt.Sprintf("unknown log level %q", c.Log.Level),
		})
	}

	if c.Log.Format != "text" && c.Log.Format != "json" {
		errors = append(errors, ValidationError{
			Field:   "log.format",
			Message: "format must be text or json",
		})
	}

	return errors
}

package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

type ProviderKind string

const (
	ProviderOpenAI ProviderKind = "openai"
	ProviderAzure  ProviderKind = "azure"
	ProviderOllama ProviderKind = "ollama"
)

const defaultOllamaURL = "http://localhost:11434"

// EmbeddingClient is the slice of a langchaingo client the embedder needs.
type EmbeddingClient interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// ProviderConfig selects and configures one hosted or local model backend.
type ProviderConfig struct {
	Kind           ProviderKind
	APIKey         string
	BaseURL        string
	ChatModel      string
	EmbeddingModel string

	// Azure deployments. ChatModel and EmbeddingModel name the deployments.
	AzureEndpoint   string
	AzureAPIKey     string
	AzureAPIVersion string

	HTTPClient *http.Client
}

// Provider bundles the chat and embedding clients of the selected backend.
type Provider struct {
	Kind       ProviderKind
	Chat       llms.Model
	Embeddings EmbeddingClient
}

// ResolveKind returns the configured kind, or infers it from credentials:
// an Azure endpoint and key select azure, anything else openai.
func ResolveKind(config ProviderConfig) ProviderKind {
	if config.Kind != "" {
		return ProviderKind(strings.ToLower(string(config.Kind)))
	}
	if config.AzureEndpoint != "" && config.AzureAPIKey != "" {
		return ProviderAzure
	}
	return ProviderOpenAI
}

// NewProvider builds the clients for the resolved backend once, at startup.
func NewProvider(config ProviderConfig) (*Provider, error) {
	kind := ResolveKind(config)

	switch kind {
	case ProviderOpenAI:
		opts := []openai.Option{
			openai.WithToken(config.APIKey),
			openai.WithModel(config.ChatModel),
			openai.WithEmbeddingModel(config.EmbeddingModel),
		}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		if config.HTTPClient != nil {
			opts = append(opts, openai.WithHTTPClient(config.HTTPClient))
		}
		client, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize openai client: %w", err)
		}
		return &Provider{Kind: kind, Chat: client, Embeddings: client}, nil

	case ProviderAzure:
		if config.AzureEndpoint == "" || config.AzureAPIKey == "" {
			return nil, fmt.Errorf("azure provider requires an endpoint and an api key")
		}
		opts := []openai.Option{
			openai.WithAPIType(openai.APITypeAzure),
			openai.WithBaseURL(config.AzureEndpoint),
			openai.WithToken(config.AzureAPIKey),
			openai.WithModel(config.ChatModel),
			openai.WithEmbeddingModel(config.EmbeddingModel),
		}
		if config.AzureAPIVersion != "" {
			opts = append(opts, openai.WithAPIVersion(config.AzureAPIVersion))
		}
		if config.HTTPClient != nil {
			opts = append(opts, openai.WithHTTPClient(config.HTTPClient))
		}
		client, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize azure openai client: %w", err)
		}
		return &Provider{Kind: kind, Chat: client, Embeddings: client}, nil

	case ProviderOllama:
		baseURL := config.BaseURL
		if baseURL == "" {
			baseURL = defaultOllamaURL
		}
		// Ollama binds one model per client, so chat and embeddings get their own.
		chatOpts := []ollama.Option{ollama.WithModel(config.ChatModel), ollama.WithServerURL(baseURL)}
		embedOpts := []ollama.Option{ollama.WithModel(config.EmbeddingModel), ollama.WithServerURL(baseURL)}
		if config.HTTPClient != nil {
			chatOpts = append(chatOpts, ollama.WithHTTPClient(config.HTTPClient))
			embedOpts = append(embedOpts, ollama.WithHTTPClient(config.HTTPClient))
		}
		chat, err := ollama.New(chatOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize ollama chat client: %w", err)
		}
		embed, err := ollama.New(embedOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize ollama embedding client: %w", err)
		}
		return &Provider{Kind: kind, Chat: chat, Embeddings: embed}, nil

	default:
		return nil, fmt.Errorf("unknown provider %q", kind)
	}
}

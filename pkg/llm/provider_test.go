package llm_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/lumina/pkg/llm"
)

func TestResolveKind(t *testing.T) {
	tests := []struct {
		name   string
		config llm.ProviderConfig
		want   llm.ProviderKind
	}{
		{"explicit", llm.ProviderConfig{Kind: "Ollama"}, llm.ProviderOllama},
		{"azure credentials", llm.ProviderConfig{AzureEndpoint: "https://x.openai.azure.com", AzureAPIKey: "k"}, llm.ProviderAzure},
		{"endpoint without key", llm.ProviderConfig{AzureEndpoint: "https://x.openai.azure.com"}, llm.ProviderOpenAI},
		{"default", llm.ProviderConfig{APIKey: "k"}, llm.ProviderOpenAI},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, llm.ResolveKind(tt.config))
		})
	}
}

func TestNewProvider(t *testing.T) {
	t.Run("unknown kind", func(t *testing.T) {
		_, err := llm.NewProvider(llm.ProviderConfig{Kind: "bedrock"})
		assert.Error(t, err)
	})

	t.Run("azure requires credentials", func(t *testing.T) {
		_, err := llm.NewProvider(llm.ProviderConfig{Kind: llm.ProviderAzure})
		assert.Error(t, err)
	})

	t.Run("ollama", func(t *testing.T) {
		p, err := llm.NewProvider(llm.ProviderConfig{
			Kind:           llm.ProviderOllama,
			ChatModel:      "llama3",
			EmbeddingModel: "nomic-embed-text",
		})
		require.NoError(t, err)
		assert.Equal(t, llm.ProviderOllama, p.Kind)
		assert.NotNil(t, p.Chat)
		assert.NotNil(t, p.Embeddings)
	})
}

func TestNewProvider_AzureRoutesToDeployment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasPrefix(r.URL.Path, "/openai/deployments/embed-deploy/embeddings"), r.URL.Path)
		assert.Equal(t, "2024-02-01", r.URL.Query().Get("api-version"))
		assert.Equal(t, "azure-key", r.Header.Get("api-key"))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{1, 0}, "index": 0}},
		})
	}))
	defer srv.Close()

	p, err := llm.NewProvider(llm.ProviderConfig{
		AzureEndpoint:   srv.URL,
		AzureAPIKey:     "azure-key",
		AzureAPIVersion: "2024-02-01",
		ChatModel:       "chat-deploy",
		EmbeddingModel:  "embed-deploy",
	})
	require.NoError(t, err)
	assert.Equal(t, llm.ProviderAzure, p.Kind)

	vectors, err := p.Embeddings.CreateEmbedding(context.Background(), []string{"hello"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}}, vectors)
}

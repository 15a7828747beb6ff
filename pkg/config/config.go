package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/xhad/lumina/pkg/chunker"
	"github.com/xhad/lumina/pkg/llm"
)

// MemoryScheme selects the in-process vector store instead of Postgres.
const MemoryScheme = "memory"

const defaultOllamaURL = "http://localhost:11434"

type AzureConfig struct {
	Endpoint            string `yaml:"endpoint"`
	APIKey              string `yaml:"api_key"`
	APIVersion          string `yaml:"api_version"`
	ChatDeployment      string `yaml:"chat_deployment"`
	EmbeddingDeployment string `yaml:"embedding_deployment"`
}

type LLMConfig struct {
	Provider       string        `yaml:"provider"` // openai, azure or ollama; inferred when empty
	APIKey         string        `yaml:"api_key"`
	BaseURL        string        `yaml:"base_url"`   // OpenAI-compatible endpoint override
	OllamaURL      string        `yaml:"ollama_url"` // used only when the provider resolves to ollama
	Model          string        `yaml:"model"`
	EmbeddingModel string        `yaml:"embedding_model"`
	MaxTokens      int           `yaml:"max_tokens"`
	Temperature    float64       `yaml:"temperature"`
	ContextBudget  int           `yaml:"context_budget"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	BackoffBase    time.Duration `yaml:"backoff_base"`
	BackoffMax     time.Duration `yaml:"backoff_max"`
	RateLimit      float64       `yaml:"rate_limit"` // requests per second, 0 for unlimited
	BatchSize      int           `yaml:"batch_size"`
	Azure          AzureConfig   `yaml:"azure"`
}

type DatabaseConfig struct {
	URL           string `yaml:"url"`
	TableName     string `yaml:"table_name"`
	VectorDim     int    `yaml:"vector_dim"`
	CandidatePool int    `yaml:"candidate_pool"`
	AutoMigrate   *bool  `yaml:"auto_migrate"`
}

type RetrievalConfig struct {
	TopK int `yaml:"top_k"`
}

type ChunkingConfig struct {
	ChunkSize    int  `yaml:"chunk_size"`
	ChunkOverlap *int `yaml:"chunk_overlap"` // nil means the default; 0 disables overlap
}

// Overlap returns the configured overlap, or the default when none was set.
func (c ChunkingConfig) Overlap() int {
	if c.ChunkOverlap == nil {
		return chunker.DefaultChunkOverlap
	}
	return *c.ChunkOverlap
}

type ScraperConfig struct {
	MaxDepth          int      `yaml:"max_depth"`
	MaxPages          int      `yaml:"max_pages"`
	RateLimit         float64  `yaml:"rate_limit"`
	IgnorePatterns    []string `yaml:"ignore_patterns"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Database  DatabaseConfig  `yaml:"database"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Scraper   ScraperConfig   `yaml:"scraper"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
}

// SearchPaths are tried in order when LoadConfig gets no explicit path.
func SearchPaths() []string {
	return []string{
		"config.yaml",
		"config.yml",
		filepath.Join(os.Getenv("HOME"), ".config/lumina/config.yaml"),
		"/etc/lumina/config.yaml",
	}
}

// LoadConfig reads .env, then the YAML file at path or the first file found on SearchPaths,
// then environment overrides, then defaults for anything still unset.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env file: %w", err)
	}

	if path == "" {
		for _, loc := range SearchPaths() {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	var config Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	if err := mergeWithEnv(&config); err != nil {
		return nil, err
	}
	applyDefaults(&config)

	return &config, nil
}

// Default returns a configuration with every default applied and no file or environment.
func Default() *Config {
	config := &Config{}
	applyDefaults(config)
	return config
}

func applyDefaults(config *Config) {
	if config.LLM.Model == "" {
		config.LLM.Model = llm.DefaultChatModel
	}
	if config.LLM.EmbeddingModel == "" {
		config.LLM.EmbeddingModel = llm.DefaultEmbeddingModel
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = llm.DefaultMaxTokens
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.7
	}
	if config.LLM.ContextBudget == 0 {
		config.LLM.ContextBudget = 3000
	}
	if config.LLM.Timeout == 0 {
		config.LLM.Timeout = llm.DefaultTimeout
	}
	if config.LLM.MaxRetries == 0 {
		config.LLM.MaxRetries = 3
	}
	if config.LLM.BackoffBase == 0 {
		config.LLM.BackoffBase = 2 * time.Second
	}
	if config.LLM.BackoffMax == 0 {
		config.LLM.BackoffMax = 10 * time.Second
	}
	if config.LLM.BatchSize == 0 {
		config.LLM.BatchSize = llm.DefaultBatchSize
	}
	if config.LLM.Azure.APIVersion == "" {
		config.LLM.Azure.APIVersion = "2024-02-15-preview"
	}
	if config.LLM.OllamaURL == "" {
		config.LLM.OllamaURL = defaultOllamaURL
	}

	if config.Database.TableName == "" {
		config.Database.TableName = "documents"
	}
	if config.Database.VectorDim == 0 {
		config.Database.VectorDim = 1536
	}
	if config.Database.CandidatePool == 0 {
		config.Database.CandidatePool = 50
	}
	if config.Database.AutoMigrate == nil {
		migrate := true
		config.Database.AutoMigrate = &migrate
	}

	if config.Retrieval.TopK == 0 {
		config.Retrieval.TopK = 5
	}

	if config.Chunking.ChunkSize == 0 {
		config.Chunking.ChunkSize = 512
	}
	if config.Chunking.ChunkOverlap == nil {
		overlap := chunker.DefaultChunkOverlap
		config.Chunking.ChunkOverlap = &overlap
	}

	if config.Scraper.MaxDepth == 0 {
		config.Scraper.MaxDepth = 3
	}
	if config.Scraper.RateLimit == 0 {
		config.Scraper.RateLimit = 2.0
	}
	if len(config.Scraper.AllowedExtensions) == 0 {
		config.Scraper.AllowedExtensions = []string{".html", ".htm", "/", ""}
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8000"
	}

	if config.Log.Level == "" {
		config.Log.Level = "INFO"
	}
	if config.Log.Format == "" {
		config.Log.Format = "text"
	}
}

func mergeWithEnv(config *Config) error {
	strs := map[string]*string{
		"LLM_PROVIDER":               &config.LLM.Provider,
		"OPENAI_API_KEY":             &config.LLM.APIKey,
		"OPENAI_BASE_URL":            &config.LLM.BaseURL,
		"OLLAMA_BASE_URL":            &config.LLM.OllamaURL,
		"LLM_MODEL":                  &config.LLM.Model,
		"EMBEDDING_MODEL":            &config.LLM.EmbeddingModel,
		"AZURE_OPENAI_ENDPOINT":      &config.LLM.Azure.Endpoint,
		"AZURE_OPENAI_API_KEY":       &config.LLM.Azure.APIKey,
		"AZURE_OPENAI_API_VERSION":   &config.LLM.Azure.APIVersion,
		"AZURE_LLM_DEPLOYMENT":       &config.LLM.Azure.ChatDeployment,
		"AZURE_EMBEDDING_DEPLOYMENT": &config.LLM.Azure.EmbeddingDeployment,
		"DATABASE_URL":               &config.Database.URL,
		"LOG_LEVEL":                  &config.Log.Level,
		"LOG_FORMAT":                 &config.Log.Format,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"MAX_CHUNK_SIZE": &config.Chunking.ChunkSize,
		"TOP_K_RESULTS":  &config.Retrieval.TopK,
		"MAX_RETRIES":    &config.LLM.MaxRetries,
		"VECTOR_DIM":     &config.Database.VectorDim,
	}
	if v := os.Getenv("CHUNK_OVERLAP"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid CHUNK_OVERLAP %q: %w", v, err)
		}
		config.Chunking.ChunkOverlap = &n
	}
	for key, dst := range ints {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		*dst = n
	}

	// API_TIMEOUT is in seconds.
	if v := os.Getenv("API_TIMEOUT"); v != "" {
		secs, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid API_TIMEOUT %q: %w", v, err)
		}
		config.LLM.Timeout = time.Duration(secs * float64(time.Second))
	}
	return nil
}

// ProviderConfig resolves the model backend. Azure deployments stand in for model names.
func (c *Config) ProviderConfig() llm.ProviderConfig {
	pc := llm.ProviderConfig{
		Kind:            llm.ProviderKind(strings.ToLower(c.LLM.Provider)),
		APIKey:          c.LLM.APIKey,
		BaseURL:         c.LLM.BaseURL,
		ChatModel:       c.LLM.Model,
		EmbeddingModel:  c.LLM.EmbeddingModel,
		AzureEndpoint:   c.LLM.Azure.Endpoint,
		AzureAPIKey:     c.LLM.Azure.APIKey,
		AzureAPIVersion: c.LLM.Azure.APIVersion,
	}
	switch llm.ResolveKind(pc) {
	case llm.ProviderAzure:
		pc.BaseURL = ""
		pc.ChatModel = c.LLM.Azure.ChatDeployment
		pc.EmbeddingModel = c.LLM.Azure.EmbeddingDeployment
	case llm.ProviderOllama:
		pc.BaseURL = c.LLM.OllamaURL
		if pc.BaseURL == "" {
			pc.BaseURL = defaultOllamaURL
		}
	}
	return pc
}

// UsesMemoryStore reports whether database.url selects the in-process store.
func (c *Config) UsesMemoryStore() bool {
	return strings.HasPrefix(strings.ToLower(c.Database.URL), MemoryScheme+"://")
}

package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"golang.org/x/time/rate"

	"github.com/xhad/lumina/internal/errs"
	"github.com/xhad/lumina/internal/logging"
	"github.com/xhad/lumina/internal/types"
	"github.com/xhad/lumina/pkg/retry"
)

const (
	DefaultChatModel      = "gpt-4o-mini"
	DefaultMaxTokens      = 1000
	DefaultSystemTemplate = "You are a helpful assistant that answers questions based on provided context."
)

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Model          string
	MaxTokens      int
	SystemTemplate string
	Timeout        time.Duration
	RateLimit      float64 // requests per second, 0 for unlimited
	Retry          retry.Policy
	Counter        types.TokenCounter
	Logger         *slog.Logger
}

// ChatEngine is an engine that uses an LLM to generate answers.
type ChatEngine struct {
	config  ChatConfig
	llm     llms.Model
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewWithConfig creates a new ChatEngine with the given configuration.
func NewWithConfig(model llms.Model, config ChatConfig) (*ChatEngine, error) {
	if model == nil {
		return nil, fmt.Errorf("chat model is required")
	}
	if config.Model == "" {
		config.Model = DefaultChatModel
	}
	if config.MaxTokens < 0 {
		return nil, fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = DefaultMaxTokens
	}
	if config.SystemTemplate == "" {
		config.SystemTemplate = DefaultSystemTemplate
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Retry.MaxAttempts == 0 {
		config.Retry = retry.DefaultPolicy()
	}
	if config.Counter == nil {
		config.Counter = ApproxCounter{}
	}

	ce := &ChatEngine{
		config: config,
		llm:    model,
		logger: logging.OrDiscard(config.Logger).With("component", "chat"),
	}
	if config.RateLimit > 0 {
		ce.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), 1)
	}
	if ce.config.Retry.OnRetry == nil {
		ce.config.Retry.OnRetry = func(attempt int, delay time.Duration, err error) {
			ce.logger.Warn("llm_retry", "attempt", attempt, "delay_ms", delay.Milliseconds(), "error", err)
		}
	}
	return ce, nil
}

func (ce *ChatEngine) Model() string {
	return ce.config.Model
}

// Generate sends the prompt as the user turn after the system instruction and returns the
// first choice. Temperature must lie in [0, 2].
func (ce *ChatEngine) Generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", errs.Validationf("prompt cannot be empty")
	}
	if temperature < 0 || temperature > 2 {
		return "", errs.Validationf("temperature must be between 0 and 2, got %v", temperature)
	}

	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, ce.config.SystemTemplate),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}

	start := time.Now()
	var answer string
	err := ce.config.Retry.Do(ctx, func(ctx context.Context) error {
		if ce.limiter != nil {
			if err := ce.limiter.Wait(ctx); err != nil {
				return errs.Permanent("generate", err)
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, ce.config.Timeout)
		defer cancel()

		resp, err := ce.llm.GenerateContent(callCtx, content,
			llms.WithTemperature(temperature),
			llms.WithMaxTokens(ce.config.MaxTokens),
		)
		if err != nil {
			return Classify("generate", err)
		}
		if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
			return errs.Permanent("generate", fmt.Errorf("no response from model"))
		}
		answer = resp.Choices[0].Content
		return nil
	})
	latency := msSince(start)

	promptTokens := ce.config.Counter.Count(ce.config.SystemTemplate) + ce.config.Counter.Count(prompt)
	if err != nil {
		ce.logger.Error("llm_call_failed",
			"error", err,
			"retryable", errs.IsTransient(err),
			"prompt_tokens", promptTokens,
			"latency_ms", latency,
			"model", ce.config.Model,
		)
		return "", err
	}

	responseTokens := ce.config.Counter.Count(answer)
	ce.logger.Info("llm_call_completed",
		"prompt_tokens", promptTokens,
		"response_tokens", responseTokens,
		"total_tokens", promptTokens+responseTokens,
		"latency_ms", latency,
		"model", ce.config.Model,
	)
	return answer, nil
}

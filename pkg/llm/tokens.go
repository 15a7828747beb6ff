package llm

import (
	"log/slog"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	tiktokenloader "github.com/pkoukk/tiktoken-go-loader"

	"github.com/xhad/lumina/internal/logging"
	"github.com/xhad/lumina/internal/types"
)

const fallbackEncoding = "cl100k_base"

// The BPE ranks ship with the binary, so counting never reaches for the network.
func init() {
	tiktoken.SetBpeLoader(tiktokenloader.NewOfflineLoader())
}

// ApproxCounter estimates four characters per token. Used when no BPE encoding is available.
type ApproxCounter struct{}

func (ApproxCounter) Count(text string) int {
	return utf8.RuneCountInString(text) / 4
}

func (ApproxCounter) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= maxTokens*4 {
		return text
	}
	return string(runes[:maxTokens*4])
}

// TiktokenCounter counts with the model's BPE encoding.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTokenCounter picks the encoding for model, falling back to cl100k_base and then to
// ApproxCounter when no encoding can be loaded.
func NewTokenCounter(model string, logger *slog.Logger) types.TokenCounter {
	logger = logging.OrDiscard(logger)

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
	}
	if err != nil {
		logger.Warn("token_encoding_unavailable", "model", model, "error", err)
		return ApproxCounter{}
	}
	return &TiktokenCounter{enc: enc}
}

func (c *TiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// Truncate keeps the first maxTokens tokens. Decoding a cut token sequence can re-encode
// longer, so the prefix shrinks until it fits.
func (c *TiktokenCounter) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	tokens := c.enc.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	for n := maxTokens; n > 0; n-- {
		out := c.enc.Decode(tokens[:n])
		if c.Count(out) <= maxTokens {
			return out
		}
	}
	return ""
}

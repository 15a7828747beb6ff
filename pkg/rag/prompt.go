package rag

import (
	"fmt"
	"strings"

	"github.com/xhad/lumina/internal/models"
	"github.com/xhad/lumina/internal/types"
)

const (
	DefaultContextBudget = 3000

	// MinTruncateTokens is the least remaining budget worth spending on a truncated document.
	MinTruncateTokens = 100
)

const promptTemplate = `You are a helpful AI assistant. Answer the user's question based on the provided context documents. If the context doesn't contain enough information to answer the question, say so honestly.

Context Documents:
%s

User Question: %s

Answer:`

// Prompt is an assembled prompt and what went into its context.
type Prompt struct {
	Text          string
	NumDocs       int
	ContextTokens int
}

// BuildPrompt packs documents into the context in retrieval order until the token budget is spent.
// A document that does not fit is truncated when more than MinTruncateTokens remain, and
// packing stops after it. The document texts never total more than budget tokens.
func BuildPrompt(question string, docs []models.RetrievedDocument, budget int, counter types.TokenCounter) Prompt {
	parts := make([]string, 0, len(docs))
	used := 0

	for i, doc := range docs {
		text := doc.Text
		tokens := counter.Count(text)

		if used+tokens > budget {
			remaining := budget - used
			if remaining <= MinTruncateTokens {
				break
			}
			text = counter.Truncate(text, remaining)
			tokens = counter.Count(text)
			parts = append(parts, fmt.Sprintf("[Document %d]\n%s", i+1, text))
			used += tokens
			break
		}

		parts = append(parts, fmt.Sprintf("[Document %d]\n%s", i+1, text))
		used += tokens
	}

	return Prompt{
		Text:          fmt.Sprintf(promptTemplate, strings.Join(parts, "\n\n"), question),
		NumDocs:       len(parts),
		ContextTokens: used,
	}
}

package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApproxCounter(t *testing.T) {
	c := ApproxCounter{}

	assert.Equal(t, 0, c.Count(""))
	assert.Equal(t, 25, c.Count(strings.Repeat("a", 100)))
	assert.Equal(t, 2, c.Count("héllo wö"))

	text := strings.Repeat("b", 100)
	assert.Equal(t, text, c.Truncate(text, 25))
	assert.Equal(t, strings.Repeat("b", 40), c.Truncate(text, 10))
	assert.Equal(t, "", c.Truncate(text, 0))
	assert.LessOrEqual(t, c.Count(c.Truncate(text, 7)), 7)
}

func TestTiktokenCounter(t *testing.T) {
	c, ok := NewTokenCounter(DefaultChatModel, nil).(*TiktokenCounter)
	require.True(t, ok, "BPE ranks should load offline")

	assert.Equal(t, 0, c.Count(""))
	assert.Equal(t, 2, c.Count("hello world"))

	text := strings.Repeat("retrieval augmented generation ", 50)
	n := c.Count(text)
	assert.Greater(t, n, 100)

	assert.Equal(t, text, c.Truncate(text, n))
	assert.Equal(t, "", c.Truncate(text, 0))

	cut := c.Truncate(text, 20)
	assert.LessOrEqual(t, c.Count(cut), 20)
	assert.True(t, strings.HasPrefix(text, cut))
	assert.NotEmpty(t, cut)

	multi := strings.Repeat("日本語のテキストを数える。", 20)
	assert.LessOrEqual(t, c.Count(c.Truncate(multi, 7)), 7)
}

func TestNewTokenCounter_UnknownModel(t *testing.T) {
	_, ok := NewTokenCounter("no-such-model", nil).(*TiktokenCounter)
	assert.True(t, ok, "unknown models fall back to cl100k_base")
}

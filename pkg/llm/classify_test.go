package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xhad/lumina/internal/errs"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"rate limited", errors.New("API returned unexpected status code: 429: Rate limit reached"), true},
		{"request timeout", errors.New("API returned unexpected status code: 408"), true},
		{"server error", errors.New("API returned unexpected status code: 503: overloaded"), true},
		{"ollama status line", errors.New("502 Bad Gateway"), true},
		{"unauthorized", errors.New("API returned unexpected status code: 401: Incorrect API key"), false},
		{"bad request", errors.New("API returned unexpected status code: 400: invalid input"), false},
		{"deadline", fmt.Errorf("send request: %w", context.DeadlineExceeded), true},
		{"cancelled", fmt.Errorf("send request: %w", context.Canceled), false},
		{"dial failure", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, true},
		{"rate limit text", errors.New("Rate limit exceeded, slow down"), true},
		{"unknown", errors.New("model not found"), false},
		{"dimension numbers are not status codes", errors.New("expected 1536 vectors, got 768"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify("op", tt.err)
			assert.Equal(t, tt.transient, errs.IsTransient(got))
			assert.Equal(t, !tt.transient, errors.Is(got, errs.ErrPermanent))
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestClassify_KeepsExistingKind(t *testing.T) {
	assert.Nil(t, Classify("op", nil))

	v := errs.Validationf("bad")
	assert.Same(t, v, Classify("op", v))

	p := errs.Permanent("inner", errors.New("x"))
	assert.Same(t, p, Classify("outer", p))
}

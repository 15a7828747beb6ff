package llm

import (
	"context"
	"errors"
	"io"
	"net"
	"regexp"
	"strconv"
	"strings"

	"github.com/xhad/lumina/internal/errs"
)

// Provider clients report HTTP failures as text, e.g.
// "API returned unexpected status code: 429: Rate limit reached" or "503 Service Unavailable".
var statusCodeRe = regexp.MustCompile(`(?:status code:?\s*|^|\s)([1-5]\d\d)\b`)

var transientHints = []string{
	"rate limit",
	"too many requests",
	"timeout",
	"timed out",
	"connection reset",
	"connection refused",
	"server overloaded",
	"temporarily unavailable",
}

// Classify tags err as transient or permanent for the retry policy.
// Rate limits, 408 and 5xx responses, network failures and per-call timeouts are transient.
// Cancellation, other 4xx responses and anything unrecognised are permanent.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, errs.ErrTransient) || errors.Is(err, errs.ErrPermanent) || errors.Is(err, errs.ErrValidation) {
		return err
	}

	switch {
	case errors.Is(err, context.Canceled):
		return errs.Permanent(op, err)
	case errors.Is(err, context.DeadlineExceeded):
		return errs.Transient(op, err)
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return errs.Transient(op, err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return errs.Transient(op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errs.Transient(op, err)
	}

	if code, ok := statusCode(err.Error()); ok {
		if code == 429 || code == 408 || code >= 500 {
			return errs.Transient(op, err)
		}
		return errs.Permanent(op, err)
	}

	msg := strings.ToLower(err.Error())
	for _, hint := range transientHints {
		if strings.Contains(msg, hint) {
			return errs.Transient(op, err)
		}
	}
	return errs.Permanent(op, err)
}

func statusCode(msg string) (int, bool) {
	for _, m := range statusCodeRe.FindAllStringSubmatch(msg, -1) {
		code, err := strconv.Atoi(m[1])
		if err == nil && code >= 400 {
			return code, true
		}
	}
	return 0, false
}

package apperr

import (
	"errors"
	"fmt"
)

// Rate limit scopes.
const (
	ScopeEmbedding = "embedding"
	ScopeFeedback  = "feedback"
)

// RateLimitError is returned when a user exceeds an admission window.
// Its message is meant to be shown verbatim so callers can render a
// retry-later notice that includes the current and allowed counts.
type RateLimitError struct {
	// Scope is the limited activity: "embedding" or "feedback".
	Scope string
	// Window names the window that denied the request ("hour" or "day").
	Window string
	// Current is the number of events already counted in the window.
	Current int
	// Limit is the cap for the window.
	Limit int
}

// Error implements error.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %d/%d %s requests in the last %s, please wait before trying again",
		e.Current, e.Limit, e.Scope, e.Window)
}

// Is makes errors.Is(err, ErrRateLimitExceeded) match.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimitExceeded
}

// Code returns CodeRateLimitExceeded.
func (e *RateLimitError) Code() Code {
	return CodeRateLimitExceeded
}

// AsRateLimit extracts a *RateLimitError from err.
func AsRateLimit(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}

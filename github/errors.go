// Package github implements rate-limit aware clients for the GitHub REST
// (v3) and GraphQL (v4) APIs.
//
// Both clients keep a snapshot of the server-reported rate limit and hold
// requests back when the remaining budget drops under a small threshold.
// Failures callers need to discriminate are typed; everything else is a
// wrapped error.
package github

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrEmptyResponse reports that the server returned no response body where
// one was required.
var ErrEmptyResponse = errors.New("server returned empty response body")

// ResponseStatusNotOk reports an unexpected HTTP status.
type ResponseStatusNotOk struct {
	Status int
}

func (e *ResponseStatusNotOk) Error() string {
	return fmt.Sprintf("server returned status %d, expected success", e.Status)
}

// ExceededRateLimit reports that the API rate limit is exhausted. RetryIn
// tells the caller how long to wait before the budget resets.
type ExceededRateLimit struct {
	RetryIn time.Duration
}

func (e *ExceededRateLimit) Error() string {
	return fmt.Sprintf("exceeded rate limit: retry in %s", e.RetryIn)
}

// rateLimitMessagePrefix is how GitHub words the rate-limit rejection in
// the error body of a 403 response.
const rateLimitMessagePrefix = "API rate limit exceeded"

type errorBody struct {
	Message string `json:"message"`
}

// isRateLimitError reports whether a 403 response body carries GitHub's
// rate-limit rejection message.
func isRateLimitError(status int, body []byte) bool {
	if status != 403 {
		return false
	}
	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return false
	}
	return strings.HasPrefix(parsed.Message, rateLimitMessagePrefix)
}

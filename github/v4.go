package github

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	eve "github.com/rustyrobot/rustyrobot/common"
)

const defaultV4Endpoint = "https://api.github.com/graphql"

// V4 is a GraphQL API client. On construction it resolves the authenticated
// login and probes the rate limit; afterwards Query transparently retries
// rate-limited calls once the budget resets.
type V4 struct {
	endpoint string
	token    string
	client   *http.Client
	login    string

	limit guardedLimit

	now   func() time.Time
	sleep func(time.Duration)
}

// NewV4 creates a GraphQL client authenticating with the given token.
func NewV4(token string) (*V4, error) {
	return NewV4At(defaultV4Endpoint, token)
}

// NewV4At creates a GraphQL client against a non-default endpoint.
func NewV4At(endpoint, token string) (*V4, error) {
	g := &V4{
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{Timeout: 30 * time.Second},
		now:      time.Now,
		sleep:    time.Sleep,
	}

	if err := g.probeLogin(); err != nil {
		return nil, err
	}
	if err := g.probeRateLimit(); err != nil {
		return nil, err
	}

	return g, nil
}

// Login returns the account name the client authenticated as.
func (g *V4) Login() string {
	return g.login
}

// RateLimit returns the current rate-limit snapshot.
func (g *V4) RateLimit() RateLimit {
	return g.limit.get()
}

// Query runs a GraphQL query and returns the raw response document.
// Rate-limit rejections are retried transparently after the reported delay;
// every other error is returned to the caller.
func (g *V4) Query(description, query string) (json.RawMessage, error) {
	for {
		g.admit()

		raw, err := g.runQuery(description, query)
		if err == nil {
			g.limit.consume()
			eve.Logger.WithField("request", description).Info("request finished successfully")
			return raw, nil
		}

		var exceeded *ExceededRateLimit
		if errors.As(err, &exceeded) {
			eve.Logger.WithFields(map[string]interface{}{
				"request":  description,
				"retry_in": exceeded.RetryIn,
			}).Warn("exceeded rate limit, retrying after reset")
			g.sleep(exceeded.RetryIn)
			continue
		}

		eve.Logger.WithField("request", description).WithError(err).Error("request failed")
		return nil, err
	}
}

// admit holds the request back while the remaining budget is under the
// threshold, then refreshes the snapshot so admission works off the new
// window instead of the pre-reset one.
func (g *V4) admit() {
	delay := g.limit.get().Delay(g.now())
	if delay <= 0 {
		return
	}

	eve.Logger.WithField("delay", delay).Warn("request limit exceeded, waiting for reset")
	g.sleep(delay)

	if err := g.probeRateLimit(); err != nil {
		eve.Logger.WithError(err).Error("failed to refresh rate limit after reset")
	}
}

type graphqlRequest struct {
	Query string `json:"query"`
}

func (g *V4) runQuery(description, query string) (json.RawMessage, error) {
	payload, err := json.Marshal(graphqlRequest{Query: query})
	if err != nil {
		return nil, fmt.Errorf("failed to encode graphql request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, g.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build graphql request: %w", err)
	}
	req.Header.Set("Authorization", "bearer "+g.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to perform %s query: %w", description, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	eve.Logger.WithFields(map[string]interface{}{
		"request": description,
		"status":  resp.StatusCode,
	}).Debug("graphql response received")

	if len(raw) == 0 {
		return nil, ErrEmptyResponse
	}

	if isRateLimitError(resp.StatusCode, raw) {
		retryIn := g.limit.get().ResetAt.Sub(g.now())
		if retryIn < 0 {
			retryIn = 0
		}
		return nil, &ExceededRateLimit{RetryIn: retryIn}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &ResponseStatusNotOk{Status: resp.StatusCode}
	}

	return raw, nil
}

func (g *V4) probeLogin() error {
	eve.Logger.Info("logging in via OAuth")

	raw, err := g.runQuery("login", "query { viewer { login } }")
	if err != nil {
		return fmt.Errorf("failed to resolve login: %w", err)
	}

	var parsed struct {
		Data struct {
			Viewer struct {
				Login string `json:"login"`
			} `json:"viewer"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("failed to decode login response: %w", err)
	}
	if parsed.Data.Viewer.Login == "" {
		return fmt.Errorf("login response carries no viewer login")
	}

	g.login = parsed.Data.Viewer.Login
	eve.Logger.WithField("login", g.login).Info("logged in")
	return nil
}

func (g *V4) probeRateLimit() error {
	eve.Logger.Info("requesting rate limit")

	raw, err := g.runQuery("rate limit", "query { rateLimit { limit remaining resetAt } }")
	if err != nil {
		return fmt.Errorf("failed to probe rate limit: %w", err)
	}

	var parsed struct {
		Data struct {
			RateLimit struct {
				Limit     uint64    `json:"limit"`
				Remaining uint64    `json:"remaining"`
				ResetAt   time.Time `json:"resetAt"`
			} `json:"rateLimit"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("failed to decode rate limit response: %w", err)
	}

	limit := RateLimit{
		Limit:     parsed.Data.RateLimit.Limit,
		Remaining: parsed.Data.RateLimit.Remaining,
		ResetAt:   parsed.Data.RateLimit.ResetAt,
	}
	g.limit.set(limit)

	eve.Logger.WithFields(map[string]interface{}{
		"limit":     limit.Limit,
		"used":      limit.Limit - limit.Remaining,
		"reset_at":  limit.ResetAt,
	}).Info("rate limit resolved")
	return nil
}

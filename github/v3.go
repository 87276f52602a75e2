package github

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	eve "github.com/rustyrobot/rustyrobot/common"
	"github.com/rustyrobot/rustyrobot/types"
)

const defaultV3BaseURL = "https://api.github.com"

// V3 is a REST API client. The rate-limit snapshot is refreshed from the
// X-RateLimit-* headers of every response; when the remaining budget drops
// under the threshold the client sleeps until the reported reset time
// before sending the next request.
type V3 struct {
	base   string
	token  string
	client *http.Client

	limit guardedLimit

	now   func() time.Time
	sleep func(time.Duration)
}

// NewV3 creates a REST client authenticating with the given token.
func NewV3(token string) *V3 {
	return NewV3At(defaultV3BaseURL, token)
}

// NewV3At creates a REST client against a non-default API base URL.
func NewV3At(base, token string) *V3 {
	return &V3{
		base:   base,
		token:  token,
		client: &http.Client{Timeout: 30 * time.Second},
		now:    time.Now,
		sleep:  time.Sleep,
	}
}

// RateLimit returns the current rate-limit snapshot.
func (g *V3) RateLimit() RateLimit {
	return g.limit.get()
}

// do performs one REST call. Success is any of the accepted statuses; the
// body is returned raw for the caller to decode or ignore.
func (g *V3) do(method, path string, body interface{}, accept ...int) (json.RawMessage, error) {
	if delay := g.limit.get().Delay(g.now()); delay > 0 {
		eve.Logger.WithField("delay", delay).Warn("request limit exceeded, waiting for reset")
		g.sleep(delay)
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, g.base+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "token "+g.token)
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to perform %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if limit, ok := rateLimitFromHeaders(resp.Header); ok {
		eve.Logger.WithFields(map[string]interface{}{
			"remaining": limit.Remaining,
			"reset_at":  limit.ResetAt,
		}).Debug("rate limit snapshot updated")
		g.limit.set(limit)
	}

	if isRateLimitError(resp.StatusCode, raw) {
		retryIn := g.limit.get().ResetAt.Sub(g.now())
		if retryIn < 0 {
			retryIn = 0
		}
		return nil, &ExceededRateLimit{RetryIn: retryIn}
	}

	for _, status := range accept {
		if resp.StatusCode == status {
			return raw, nil
		}
	}
	return nil, &ResponseStatusNotOk{Status: resp.StatusCode}
}

// Fork creates a fork of owner/name under the authenticated account. The
// fork creation is asynchronous on the server side; the returned repository
// describes the fork as accepted.
func (g *V3) Fork(owner, name string) (types.Repository, error) {
	raw, err := g.do(http.MethodPost, fmt.Sprintf("/repos/%s/%s/forks", owner, name), nil, http.StatusAccepted)
	if err != nil {
		return types.Repository{}, fmt.Errorf("failed to fork %s/%s: %w", owner, name, err)
	}
	if len(raw) == 0 {
		return types.Repository{}, ErrEmptyResponse
	}

	var v3 types.V3Repository
	if err := json.Unmarshal(raw, &v3); err != nil {
		return types.Repository{}, fmt.Errorf("failed to decode fork response: %w", err)
	}
	return v3.Canonical(), nil
}

// Delete removes the repository owner/name. Only the 204 status signals
// success; the response carries no body.
func (g *V3) Delete(owner, name string) error {
	_, err := g.do(http.MethodDelete, fmt.Sprintf("/repos/%s/%s", owner, name), nil, http.StatusNoContent)
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", owner, name, err)
	}
	return nil
}

// NewPullRequest describes a pull request to be opened.
type NewPullRequest struct {
	Title string `json:"title"`
	Head  string `json:"head"`
	Base  string `json:"base"`
	Body  string `json:"body"`
}

// PullRequest is the REST projection of a pull request.
type PullRequest struct {
	Number   int64      `json:"number"`
	Title    string     `json:"title"`
	State    string     `json:"state"`
	Merged   bool       `json:"merged"`
	MergedAt *time.Time `json:"merged_at"`
}

// Status maps the REST state fields onto the canonical review status.
func (pr *PullRequest) Status() (types.PRStatus, error) {
	if pr.Merged || pr.MergedAt != nil {
		return types.PRStatusMerged, nil
	}
	return types.ParsePRStatus(pr.State)
}

// CreatePullRequest opens a pull request on owner/name.
func (g *V3) CreatePullRequest(owner, name string, pr NewPullRequest) (PullRequest, error) {
	raw, err := g.do(http.MethodPost, fmt.Sprintf("/repos/%s/%s/pulls", owner, name), pr, http.StatusCreated)
	if err != nil {
		return PullRequest{}, fmt.Errorf("failed to create pull request on %s/%s: %w", owner, name, err)
	}
	if len(raw) == 0 {
		return PullRequest{}, ErrEmptyResponse
	}

	var created PullRequest
	if err := json.Unmarshal(raw, &created); err != nil {
		return PullRequest{}, fmt.Errorf("failed to decode pull request response: %w", err)
	}
	return created, nil
}

// PullRequestsByHead lists the pull requests on owner/name whose head is
// headOwner:branch, in any state.
func (g *V3) PullRequestsByHead(owner, name, headOwner, branch string) ([]PullRequest, error) {
	query := url.Values{}
	query.Set("head", headOwner+":"+branch)
	query.Set("state", "all")

	raw, err := g.do(http.MethodGet, fmt.Sprintf("/repos/%s/%s/pulls?%s", owner, name, query.Encode()), nil, http.StatusOK)
	if err != nil {
		return nil, fmt.Errorf("failed to list pull requests on %s/%s: %w", owner, name, err)
	}
	if len(raw) == 0 {
		return nil, ErrEmptyResponse
	}

	var prs []PullRequest
	if err := json.Unmarshal(raw, &prs); err != nil {
		return nil, fmt.Errorf("failed to decode pull request list: %w", err)
	}
	return prs, nil
}

// PullRequestByNumber fetches one pull request.
func (g *V3) PullRequestByNumber(owner, name string, number int64) (PullRequest, error) {
	raw, err := g.do(http.MethodGet, fmt.Sprintf("/repos/%s/%s/pulls/%d", owner, name, number), nil, http.StatusOK)
	if err != nil {
		return PullRequest{}, fmt.Errorf("failed to fetch pull request %s/%s#%d: %w", owner, name, number, err)
	}
	if len(raw) == 0 {
		return PullRequest{}, ErrEmptyResponse
	}

	var pr PullRequest
	if err := json.Unmarshal(raw, &pr); err != nil {
		return PullRequest{}, fmt.Errorf("failed to decode pull request: %w", err)
	}
	return pr, nil
}

// Notifications fetches the authenticated account's notifications.
func (g *V3) Notifications() (json.RawMessage, error) {
	raw, err := g.do(http.MethodGet, "/notifications", nil, http.StatusOK)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch notifications: %w", err)
	}
	if len(raw) == 0 {
		return nil, ErrEmptyResponse
	}
	return raw, nil
}

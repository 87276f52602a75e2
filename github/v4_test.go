package github

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// graphqlStub answers the construction probes and delegates everything else.
func graphqlStub(t *testing.T, resetAt time.Time, handle http.HandlerFunc) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		var req graphqlRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		switch {
		case strings.Contains(req.Query, "viewer"):
			fmt.Fprint(w, `{"data": {"viewer": {"login": "robot"}}}`)
		case strings.Contains(req.Query, "rateLimit"):
			fmt.Fprintf(w, `{"data": {"rateLimit": {"limit": 5000, "remaining": 4990, "resetAt": %q}}}`,
				resetAt.Format(time.RFC3339))
		default:
			// Stash the decoded query so handlers can inspect it.
			r.Header.Set("X-Test-Query", req.Query)
			handle(w, r)
		}
	}
}

func newTestV4(t *testing.T, resetAt time.Time, handle http.HandlerFunc) (*V4, *time.Duration) {
	t.Helper()
	server := httptest.NewServer(graphqlStub(t, resetAt, handle))
	t.Cleanup(server.Close)

	client, err := NewV4At(server.URL, "test-token")
	require.NoError(t, err)

	var slept time.Duration
	client.sleep = func(d time.Duration) { slept += d }
	return client, &slept
}

func TestNewV4ResolvesLoginAndRateLimit(t *testing.T) {
	resetAt := time.Now().Add(time.Hour).Truncate(time.Second)
	client, _ := newTestV4(t, resetAt, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no query expected")
	})

	assert.Equal(t, "robot", client.Login())
	limit := client.RateLimit()
	assert.Equal(t, uint64(5000), limit.Limit)
	assert.Equal(t, uint64(4990), limit.Remaining)
}

func TestQueryReturnsRawDocument(t *testing.T) {
	client, _ := newTestV4(t, time.Now().Add(time.Hour), func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("X-Test-Query"), "search(")
		fmt.Fprint(w, `{"data": {"search": {"repositoryCount": 1}}}`)
	})

	raw, err := client.Query("search", `query { search(type: REPOSITORY, first: 1) { repositoryCount } }`)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "repositoryCount")
}

func TestQueryRetriesAfterRateLimitReset(t *testing.T) {
	resetAt := time.Now().Add(15 * time.Minute)
	attempts := 0
	client, slept := newTestV4(t, resetAt, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, `{"message": "API rate limit exceeded for robot"}`)
			return
		}
		fmt.Fprint(w, `{"data": {"search": {"repositoryCount": 0}}}`)
	})

	_, err := client.Query("search", "query { x }")
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Greater(t, *slept, 14*time.Minute)
}

func TestQueryHoldsUntilResetWhenBudgetExhausted(t *testing.T) {
	resetAt := time.Now().Add(30 * time.Minute)
	var slept time.Duration
	var sleptBeforeQuery time.Duration
	limitProbes := 0
	queries := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req graphqlRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		switch {
		case strings.Contains(req.Query, "viewer"):
			fmt.Fprint(w, `{"data": {"viewer": {"login": "robot"}}}`)
		case strings.Contains(req.Query, "rateLimit"):
			limitProbes++
			// The construction probe reports an exhausted budget; the
			// refresh after the reset reports a fresh one.
			remaining := 0
			if limitProbes > 1 {
				remaining = 5000
			}
			fmt.Fprintf(w, `{"data": {"rateLimit": {"limit": 5000, "remaining": %d, "resetAt": %q}}}`,
				remaining, resetAt.Format(time.RFC3339))
		default:
			queries++
			sleptBeforeQuery = slept
			fmt.Fprint(w, `{"data": {"search": {"repositoryCount": 0}}}`)
		}
	}))
	t.Cleanup(server.Close)

	client, err := NewV4At(server.URL, "test-token")
	require.NoError(t, err)
	client.sleep = func(d time.Duration) { slept += d }

	_, err = client.Query("search", "query { x }")
	require.NoError(t, err)

	assert.Equal(t, 1, queries)
	assert.GreaterOrEqual(t, sleptBeforeQuery, 29*time.Minute)
	assert.Equal(t, 2, limitProbes)
	// The refreshed window, minus the call just spent.
	assert.Equal(t, uint64(4999), client.RateLimit().Remaining)
}

func TestQuerySpendsBudgetAgainstSnapshot(t *testing.T) {
	client, _ := newTestV4(t, time.Now().Add(time.Hour), func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data": {"search": {"repositoryCount": 0}}}`)
	})

	_, err := client.Query("search", "query { x }")
	require.NoError(t, err)
	_, err = client.Query("search", "query { x }")
	require.NoError(t, err)

	assert.Equal(t, uint64(4988), client.RateLimit().Remaining)
}

func TestQuerySurfacesUnexpectedStatus(t *testing.T) {
	client, _ := newTestV4(t, time.Now().Add(time.Hour), func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, `{"message": "bad gateway"}`)
	})

	_, err := client.Query("search", "query { x }")
	var notOk *ResponseStatusNotOk
	require.ErrorAs(t, err, &notOk)
	assert.Equal(t, http.StatusBadGateway, notOk.Status)
}

func TestQueryEmptyBodyIsAnError(t *testing.T) {
	client, _ := newTestV4(t, time.Now().Add(time.Hour), func(w http.ResponseWriter, r *http.Request) {
		// 200 with no body at all.
	})

	_, err := client.Query("search", "query { x }")
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

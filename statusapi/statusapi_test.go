package statusapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyrobot/rustyrobot/kafka"
)

type fakeWorkers struct {
	running []string
}

func (f *fakeWorkers) Running() []string {
	return append([]string{}, f.running...)
}

type fakeSnapshot struct {
	state kafka.State
}

func (f *fakeSnapshot) Snapshot() kafka.State {
	return f.state
}

func get(t *testing.T, server *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	server := New("fetcher", &fakeWorkers{running: []string{"a", "b"}}, nil)

	rec := get(t, server, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "fetcher", health.Service)
	assert.Equal(t, 2, health.Workers)
}

func TestWorkersAreSorted(t *testing.T) {
	workers := &fakeWorkers{running: []string{
		"producer error drain for rustyrobot.event",
		"handler rustyrobot.github.request/rustyrobot.github",
	}}
	server := New("github", workers, nil)

	rec := get(t, server, "/workers")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp WorkersResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{
		"handler rustyrobot.github.request/rustyrobot.github",
		"producer error drain for rustyrobot.event",
	}, resp.Workers)
}

func TestWorkersEmptyIsAList(t *testing.T) {
	server := New("github", &fakeWorkers{}, nil)

	rec := get(t, server, "/workers")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"workers": []}`, rec.Body.String())
}

func TestStateSnapshot(t *testing.T) {
	snapshot := &fakeSnapshot{state: kafka.State{
		"requests received": json.RawMessage(`3`),
		"last_date":         json.RawMessage(`"2018-01-01"`),
	}}
	server := New("fetcher", &fakeWorkers{}, snapshot)

	rec := get(t, server, "/state")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"requests received": 3, "last_date": "2018-01-01"}`, rec.Body.String())
}

func TestStateWithoutStore(t *testing.T) {
	server := New("forker", &fakeWorkers{}, nil)

	rec := get(t, server, "/state")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())
}

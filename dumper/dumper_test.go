package dumper

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyrobot/rustyrobot/kafka"
	"github.com/rustyrobot/rustyrobot/types"
)

func openTestArchive(t *testing.T) *Archive {
	t.Helper()
	archive, err := Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, archive.Close())
	})
	return archive
}

func repoEvent(name string) kafka.Event {
	return kafka.Event{RepositoryFetched: &types.Repository{
		ID:            "id-" + name,
		NameWithOwner: "owner/" + name,
	}}
}

func TestStoreGroupsEventsByKind(t *testing.T) {
	archive := openTestArchive(t)

	require.NoError(t, archive.Store(repoEvent("one")))
	require.NoError(t, archive.Store(repoEvent("two")))

	forked := repoEvent("one").RepositoryFetched
	require.NoError(t, archive.Store(kafka.Event{RepositoryForked: forked}))

	kinds, err := archive.Kinds()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"RepositoryFetched", "RepositoryForked"}, kinds)

	fetched, err := archive.Count("RepositoryFetched")
	require.NoError(t, err)
	assert.Equal(t, 2, fetched)
}

func TestEventsPreserveArrivalOrder(t *testing.T) {
	archive := openTestArchive(t)

	for _, name := range []string{"first", "second", "third"} {
		require.NoError(t, archive.Store(repoEvent(name)))
	}

	events, err := archive.Events("RepositoryFetched")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "owner/first", events[0].RepositoryFetched.NameWithOwner)
	assert.Equal(t, "owner/second", events[1].RepositoryFetched.NameWithOwner)
	assert.Equal(t, "owner/third", events[2].RepositoryFetched.NameWithOwner)
}

func TestStoreRejectsEmptyEvent(t *testing.T) {
	archive := openTestArchive(t)
	assert.Error(t, archive.Store(kafka.Event{}))
}

func TestCountOfUnknownKindIsZero(t *testing.T) {
	archive := openTestArchive(t)

	count, err := archive.Count("PRCreated")
	require.NoError(t, err)
	assert.Zero(t, count)

	events, err := archive.Events("PRCreated")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestHandlerArchivesEverything(t *testing.T) {
	archive := openTestArchive(t)
	handler := archive.Handler()

	notification := kafka.Event{Notification: json.RawMessage(`{"reason":"mention"}`)}
	require.Nil(t, handler(notification, nil))
	require.Nil(t, handler(repoEvent("one"), nil))

	count, err := archive.Count("Notification")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestHandlerReportsArchiveFailureAsInternal(t *testing.T) {
	archive := openTestArchive(t)
	handler := archive.Handler()

	herr := handler(kafka.Event{}, nil)
	require.NotNil(t, herr)
	assert.True(t, herr.IsInternal())
}

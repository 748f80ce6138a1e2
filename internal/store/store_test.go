package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreEventLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id := uuid.New()
	opened := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveEvent(ctx, id, opened, 0.62, "outputs/snapshots/snapshot_2026-08-30T12-00-00Z.jpg"))

	ev, err := s.GetEvent(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, id.String(), ev.ID)
	assert.True(t, ev.OpenedAt.Equal(opened))
	assert.False(t, ev.ClosedAt.Valid)
	assert.True(t, ev.SnapshotPath.Valid)

	require.NoError(t, s.AttachClip(ctx, id, "outputs/clips/clip_2026-08-30T12-00-00Z.mkv", 160))
	require.NoError(t, s.CloseEvent(ctx, id, opened.Add(21*time.Second), 0.91))

	ev, err = s.GetEvent(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.True(t, ev.ClosedAt.Valid)
	assert.True(t, ev.ClosedAt.Time.Equal(opened.Add(21*time.Second)))
	assert.InDelta(t, 0.91, ev.PeakConfidence, 1e-9)
	assert.Equal(t, 160, ev.ClipFrames)
	assert.Equal(t, "outputs/clips/clip_2026-08-30T12-00-00Z.mkv", ev.ClipPath.String)
}

func TestStoreEmptySnapshotIsNull(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id := uuid.New()
	require.NoError(t, s.SaveEvent(ctx, id, time.Now(), 0.5, ""))

	ev, err := s.GetEvent(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.False(t, ev.SnapshotPath.Valid)
}

func TestStoreGetEventMissing(t *testing.T) {
	s := openTestStore(t)
	ev, err := s.GetEvent(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestStoreCloseUnknownEventFails(t *testing.T) {
	s := openTestStore(t)
	err := s.CloseEvent(context.Background(), uuid.New(), time.Now(), 0.5)
	assert.Error(t, err)
}

func TestStoreRecentEventsOrderAndLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		id := uuid.New()
		ids = append(ids, id)
		require.NoError(t, s.SaveEvent(ctx, id, base.Add(time.Duration(i)*time.Minute), 0.5, ""))
	}

	events, err := s.RecentEvents(ctx, 3)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, ids[4].String(), events[0].ID)
	assert.Equal(t, ids[3].String(), events[1].ID)
	assert.Equal(t, ids[2].String(), events[2].ID)
}

func TestStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	id := uuid.New()
	require.NoError(t, s.SaveEvent(ctx, id, time.Now(), 0.7, ""))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	ev, err := s.GetEvent(ctx, id)
	require.NoError(t, err)
	assert.NotNil(t, ev)
}

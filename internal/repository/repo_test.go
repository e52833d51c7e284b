package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *Repo {
	t.Helper()
	db, err := OpenDB(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewRepo(db)
}

func TestGetSettingsDefaults(t *testing.T) {
	r := newTestRepo(t)

	s, err := r.GetSettings(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, "g1", s.GuildID)
	assert.Nil(t, s.QueueLimit)
	assert.True(t, s.AnnounceTracks)

	_, ok := r.QueueLimit(context.Background(), "g1")
	assert.False(t, ok)
}

func TestQueueLimitRoundTrip(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	limit := 5
	require.NoError(t, r.SetQueueLimit(ctx, "g1", &limit))
	got, ok := r.QueueLimit(ctx, "g1")
	require.True(t, ok)
	assert.Equal(t, 5, got)

	zero := 0
	require.NoError(t, r.SetQueueLimit(ctx, "g1", &zero))
	got, ok = r.QueueLimit(ctx, "g1")
	require.True(t, ok)
	assert.Equal(t, 0, got)

	require.NoError(t, r.SetQueueLimit(ctx, "g1", nil))
	_, ok = r.QueueLimit(ctx, "g1")
	assert.False(t, ok)

	_, ok = r.QueueLimit(ctx, "g2")
	assert.False(t, ok)
}

func TestAnnounceToggleKeepsQueueLimit(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	limit := 3
	require.NoError(t, r.SetQueueLimit(ctx, "g1", &limit))
	require.NoError(t, r.SetAnnounceTracks(ctx, "g1", false))

	s, err := r.GetSettings(ctx, "g1")
	require.NoError(t, err)
	assert.False(t, s.AnnounceTracks)
	require.NotNil(t, s.QueueLimit)
	assert.Equal(t, 3, *s.QueueLimit)

	require.NoError(t, r.SetAnnounceTracks(ctx, "g1", true))
	s, err = r.GetSettings(ctx, "g1")
	require.NoError(t, err)
	assert.True(t, s.AnnounceTracks)
}

func TestOpenDBIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	db, err := OpenDB(dir)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = OpenDB(dir)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

package metrics

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAndQuery(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "state", "metrics.db"))
	require.NoError(t, err)
	defer store.Close()

	now := time.Date(2025, 10, 6, 20, 0, 0, 0, time.UTC)
	store.WithClock(func() time.Time { return now })

	ctx := context.Background()
	require.NoError(t, store.Record(ctx, "snapshot.rows_written", 42, map[string]string{"slot": "13"}))
	now = now.Add(time.Minute)
	require.NoError(t, store.Record(ctx, "snapshot.rows_written", 40, nil))
	require.NoError(t, store.Record(ctx, "qa.delayed_ratio", 0.5, nil))

	points, err := store.Query(ctx, "snapshot.rows_written", time.Time{})
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, 42.0, points[0].Value)
	assert.Equal(t, "13", points[0].Labels["slot"])
	assert.Equal(t, 40.0, points[1].Value)

	points, err = store.Query(ctx, "snapshot.rows_written", now)
	require.NoError(t, err)
	assert.Len(t, points, 1)

	names, err := store.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"qa.delayed_ratio", "snapshot.rows_written"}, names)
}

func TestRecordAll(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "metrics.db"))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.RecordAll(ctx, map[string]float64{"a": 1, "b": 2}, map[string]string{"date": "2025-10-06"}))
	require.NoError(t, store.Ping(ctx))

	names, err := store.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)
}

func TestNilStoreIsNoop(t *testing.T) {
	var store *Store
	ctx := context.Background()

	assert.NoError(t, store.Record(ctx, "x", 1, nil))
	assert.NoError(t, store.RecordAll(ctx, map[string]float64{"x": 1}, nil))
	points, err := store.Query(ctx, "x", time.Time{})
	assert.NoError(t, err)
	assert.Nil(t, points)
	assert.NoError(t, store.Close())
}

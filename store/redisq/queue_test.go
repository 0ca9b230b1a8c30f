package redisq

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	q, err := NewQueue(context.Background(), Config{Endpoint: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestQueue_DuePopsOnlyElapsedEntries(t *testing.T) {
	q := newTestQueue(t)
	now := time.Now()

	require.NoError(t, q.Schedule(context.Background(), "evv-past", now.Add(-time.Minute)))
	require.NoError(t, q.Schedule(context.Background(), "evv-future", now.Add(time.Hour)))

	ids, err := q.Due(context.Background(), now, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"evv-past"}, ids)

	// popped entries are gone; the future one remains
	n, err := q.Len(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	ids, err = q.Due(context.Background(), now, 10)
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestQueue_RescheduleMovesEntry(t *testing.T) {
	q := newTestQueue(t)
	now := time.Now()

	require.NoError(t, q.Schedule(context.Background(), "evv-1", now.Add(-time.Minute)))
	require.NoError(t, q.Schedule(context.Background(), "evv-1", now.Add(time.Hour)))

	ids, err := q.Due(context.Background(), now, 10)
	require.NoError(t, err)
	require.Empty(t, ids)

	n, err := q.Len(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestQueue_Remove(t *testing.T) {
	q := newTestQueue(t)

	require.NoError(t, q.Schedule(context.Background(), "evv-1", time.Now()))
	require.NoError(t, q.Remove(context.Background(), "evv-1"))

	n, err := q.Len(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)

	// removing an absent member is not an error
	require.NoError(t, q.Remove(context.Background(), "evv-1"))
}

func TestQueue_DueHonorsLimit(t *testing.T) {
	q := newTestQueue(t)
	now := time.Now()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Schedule(context.Background(), id, now.Add(-time.Minute)))
	}

	ids, err := q.Due(context.Background(), now, 2)
	require.NoError(t, err)
	require.Len(t, ids, 2)

	n, err := q.Len(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestNewQueue_UnreachableEndpoint(t *testing.T) {
	_, err := NewQueue(context.Background(), Config{Endpoint: "127.0.0.1:1"})
	require.Error(t, err)
}

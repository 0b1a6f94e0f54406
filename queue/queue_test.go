package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const perCall = 120 * time.Second

func TestQueue_EnqueueIsIdempotent(t *testing.T) {
	q := New(nil)

	assert.True(t, q.Enqueue("a"))
	assert.False(t, q.Enqueue("a"))
	assert.Equal(t, 1, q.Len())
}

func TestQueue_PositionFollowsArrivalOrder(t *testing.T) {
	q := New(nil)
	for _, id := range []string{"a", "b", "c"} {
		q.Enqueue(id)
	}

	for i, id := range []string{"a", "b", "c"} {
		pos, err := q.PositionOf(id, 1, perCall)
		require.NoError(t, err)
		assert.Equal(t, i+1, pos.Pos, id)
		assert.Equal(t, 3, pos.Total, id)
	}
}

func TestQueue_PositionAfterRemoval(t *testing.T) {
	q := New(nil)
	for _, id := range []string{"a", "b", "c"} {
		q.Enqueue(id)
	}
	assert.True(t, q.Remove("b"))
	assert.False(t, q.Remove("b"))

	pos, err := q.PositionOf("c", 1, perCall)
	require.NoError(t, err)
	assert.Equal(t, Position{Pos: 2, Total: 2, ETA: 2 * perCall}, pos)
}

func TestQueue_NextSkipsAssigned(t *testing.T) {
	q := New(nil)
	q.Enqueue("a")
	q.Enqueue("b")

	id, ok := q.Next()
	require.True(t, ok)
	assert.Equal(t, "a", id)

	require.NoError(t, q.Assign("a", "1002-agent"))
	id, ok = q.Next()
	require.True(t, ok)
	assert.Equal(t, "b", id)
	assert.Equal(t, 1, q.WaitingLen())
	assert.Equal(t, 2, q.Len())

	require.NoError(t, q.Assign("b", "1003-agent"))
	_, ok = q.Next()
	assert.False(t, ok)
}

func TestQueue_MidDialCallerCountsItself(t *testing.T) {
	q := New(nil)
	q.Enqueue("a")
	q.Enqueue("b")
	require.NoError(t, q.Assign("a", "1002-agent"))

	pos, err := q.PositionOf("a", 1, perCall)
	require.NoError(t, err)
	assert.Equal(t, 1, pos.Pos)
	assert.Equal(t, 2, pos.Total)

	pos, err = q.PositionOf("b", 1, perCall)
	require.NoError(t, err)
	assert.Equal(t, 1, pos.Pos)
	assert.Equal(t, 1, pos.Total)
}

func TestQueue_MarkBridgedRemovesAssigned(t *testing.T) {
	q := New(nil)
	q.Enqueue("a")
	q.Enqueue("b")

	// not assigned yet, stays queued
	require.NoError(t, q.MarkBridged("b"))
	assert.True(t, q.Contains("b"))

	require.NoError(t, q.Assign("a", "1002-agent"))
	require.NoError(t, q.MarkBridged("a"))
	assert.False(t, q.Contains("a"))

	assert.ErrorIs(t, q.MarkBridged("zzz"), ErrNotQueued)
	assert.ErrorIs(t, q.Assign("zzz", "x"), ErrNotQueued)
}

func TestQueue_PositionUnknownSession(t *testing.T) {
	q := New(nil)
	_, err := q.PositionOf("nobody", 1, perCall)
	assert.ErrorIs(t, err, ErrNotQueued)
}

func TestQueue_PositionWithNoAgents(t *testing.T) {
	q := New(nil)
	q.Enqueue("a")

	pos, err := q.PositionOf("a", 0, perCall)
	assert.ErrorIs(t, err, ErrNoAgentsOnline)
	assert.Equal(t, 1, pos.Pos)
	assert.Zero(t, pos.ETA)
}

func TestQueue_EntriesStampedAndCopied(t *testing.T) {
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	q := New(func() time.Time { return at })
	q.Enqueue("a")

	entries := q.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, at, entries[0].EnqueuedAt)

	entries[0].AssignedAgent = "changed"
	e, ok := q.Get("a")
	require.True(t, ok)
	assert.Empty(t, e.AssignedAgent)
}

func TestETA(t *testing.T) {
	tests := []struct {
		name   string
		pos    int
		agents int
		want   time.Duration
	}{
		{"floor applies", 1, 2, perCall},
		{"single agent", 3, 1, 3 * perCall},
		{"shared load", 3, 2, 180 * time.Second},
		{"many agents", 1, 10, perCall},
		{"no agents", 4, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ETA(tt.pos, tt.agents, perCall))
		})
	}
}

package daemon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeadlineQueue_NextDeadlineEmptyIsFalse(t *testing.T) {
	q := newDeadlineQueue()
	_, ok := q.NextDeadline()
	assert.False(t, ok)
}

func TestDeadlineQueue_TrackOrdersByDeadline(t *testing.T) {
	q := newDeadlineQueue()
	q.Track(1, 300)
	q.Track(2, 100)
	q.Track(3, 200)

	next, ok := q.NextDeadline()
	require.True(t, ok)
	assert.Equal(t, int64(100), next)
}

func TestDeadlineQueue_TrackReplacesExistingFD(t *testing.T) {
	q := newDeadlineQueue()
	q.Track(1, 500)
	q.Track(1, 50)

	next, ok := q.NextDeadline()
	require.True(t, ok)
	assert.Equal(t, int64(50), next)
	assert.Equal(t, 1, q.h.Len())
}

func TestDeadlineQueue_UntrackRemovesFD(t *testing.T) {
	q := newDeadlineQueue()
	q.Track(1, 100)
	q.Track(2, 200)
	q.Untrack(1)

	next, ok := q.NextDeadline()
	require.True(t, ok)
	assert.Equal(t, int64(200), next)
	assert.Equal(t, 1, q.h.Len())
}

func TestDeadlineQueue_UntrackUnknownFDIsNoop(t *testing.T) {
	q := newDeadlineQueue()
	q.Untrack(99)
	assert.Equal(t, 0, q.h.Len())
}

func TestDeadlineQueue_ExpiredPopsOnlyPastDeadlines(t *testing.T) {
	q := newDeadlineQueue()
	q.Track(1, 100)
	q.Track(2, 200)
	q.Track(3, 300)

	expired := q.Expired(200)
	assert.ElementsMatch(t, []int{1, 2}, expired)

	_, stillThere := q.byFD[3]
	assert.True(t, stillThere)

	next, ok := q.NextDeadline()
	require.True(t, ok)
	assert.Equal(t, int64(300), next)
}

func TestDeadlineQueue_ExpiredEmptyReturnsNil(t *testing.T) {
	q := newDeadlineQueue()
	q.Track(1, 500)
	assert.Empty(t, q.Expired(100))
}

package db

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reportpilot/faults"
	"reportpilot/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestSessionLifecycle(t *testing.T) {
	d := newTestDB(t)
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, d.PutSession(&models.Session{ID: "s1", Title: "first", CreatedAt: start, LastActive: start}))
	require.NoError(t, d.PutSession(&models.Session{ID: "s2", Title: "second", CreatedAt: start, LastActive: start.Add(time.Minute)}))

	got, err := d.GetSession("s1")
	require.NoError(t, err)
	assert.Equal(t, "first", got.Title)

	sessions, err := d.ListSessions()
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "s2", sessions[0].ID)

	_, err = d.GetSession("missing")
	assert.True(t, faults.Is(err, faults.NotFound))
}

func TestInteractionsOrderAndSeq(t *testing.T) {
	d := newTestDB(t)
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, d.PutSession(&models.Session{ID: "s1", CreatedAt: start, LastActive: start}))
	require.NoError(t, d.PutSession(&models.Session{ID: "s10", CreatedAt: start, LastActive: start}))

	seq, err := d.NextSeq("s1")
	require.NoError(t, err)
	assert.Equal(t, 1, seq)

	last, err := d.LastInteraction("s1")
	require.NoError(t, err)
	assert.Nil(t, last)

	for _, n := range []int{1, 2, 10} {
		require.NoError(t, d.PutInteraction(&models.Interaction{
			SessionID: "s1", Seq: n, Query: "q", Strategy: models.StrategyFullQuery,
			CreatedAt: start.Add(time.Duration(n) * time.Second),
		}))
	}
	require.NoError(t, d.PutInteraction(&models.Interaction{SessionID: "s10", Seq: 99, CreatedAt: start}))

	list, err := d.ListInteractions("s1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []int{1, 2, 10}, []int{list[0].Seq, list[1].Seq, list[2].Seq})

	seq, err = d.NextSeq("s1")
	require.NoError(t, err)
	assert.Equal(t, 11, seq)

	s, err := d.GetSession("s1")
	require.NoError(t, err)
	assert.Equal(t, start.Add(10*time.Second), s.LastActive.UTC())
}

func TestPutInteractionUnknownSession(t *testing.T) {
	d := newTestDB(t)
	err := d.PutInteraction(&models.Interaction{SessionID: "ghost", Seq: 1})
	assert.True(t, faults.Is(err, faults.NotFound))
}

func TestUpdateSummary(t *testing.T) {
	d := newTestDB(t)
	now := time.Now().UTC()
	require.NoError(t, d.PutSession(&models.Session{ID: "s1", CreatedAt: now, LastActive: now}))
	require.NoError(t, d.PutInteraction(&models.Interaction{SessionID: "s1", Seq: 1, Summary: "old", CreatedAt: now}))

	updated, err := d.UpdateSummary("s1", 1, "  new text ")
	require.NoError(t, err)
	assert.Equal(t, "new text", updated.Summary)

	stored, err := d.GetInteraction("s1", 1)
	require.NoError(t, err)
	assert.Equal(t, "new text", stored.Summary)

	_, err = d.UpdateSummary("s1", 7, "x")
	assert.True(t, faults.Is(err, faults.NotFound))
}

func TestDeleteSession(t *testing.T) {
	d := newTestDB(t)
	now := time.Now().UTC()
	for _, id := range []string{"s1", "s2"} {
		require.NoError(t, d.PutSession(&models.Session{ID: id, CreatedAt: now, LastActive: now}))
		require.NoError(t, d.PutInteraction(&models.Interaction{SessionID: id, Seq: 1, CreatedAt: now}))
	}

	require.NoError(t, d.DeleteSession("s1"))
	require.NoError(t, d.DeleteSession("s1"))

	_, err := d.GetSession("s1")
	assert.True(t, faults.Is(err, faults.NotFound))
	list, err := d.ListInteractions("s1")
	require.NoError(t, err)
	assert.Empty(t, list)

	list, err = d.ListInteractions("s2")
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.NoError(t, d.RunGC())
}

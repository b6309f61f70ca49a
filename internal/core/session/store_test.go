package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClareAI/astra-comms-core/internal/domain"
)

func testSession(callID string) *domain.CallSession {
	return &domain.CallSession{
		CallID:         callID,
		Purpose:        domain.PurposeVendorNewOrder,
		Language:       "hi",
		StartedAt:      time.Now(),
		LastActivityAt: time.Now(),
	}
}

func TestStorePutGetRemove(t *testing.T) {
	s := NewStore(10)

	require.NoError(t, s.Put(testSession("C-1")))
	got, ok := s.Get("C-1")
	require.True(t, ok)
	assert.Equal(t, "C-1", got.CallID)
	assert.Equal(t, 1, s.Count())

	s.Remove("C-1")
	_, ok = s.Get("C-1")
	assert.False(t, ok)
	s.Remove("C-1") // removing twice is a no-op
}

func TestStoreShedsStalestAtCapacity(t *testing.T) {
	s := NewStore(2)

	old := testSession("C-old")
	old.LastActivityAt = time.Now().Add(-10 * time.Minute)
	require.NoError(t, s.Put(old))
	require.NoError(t, s.Put(testSession("C-new")))

	var evicted []string
	s.SetEvictHandler(func(callID string) { evicted = append(evicted, callID) })

	require.NoError(t, s.Put(testSession("C-extra")))

	_, ok := s.Get("C-old")
	assert.False(t, ok, "stalest session is shed first")
	assert.Equal(t, []string{"C-old"}, evicted)
	assert.Equal(t, 2, s.Count())
}

func TestStoreSweepEvictsInactiveSessions(t *testing.T) {
	s := NewStore(10)

	stale := testSession("C-stale")
	stale.LastActivityAt = time.Now().Add(-time.Hour)
	fresh := testSession("C-fresh")
	require.NoError(t, s.Put(stale))
	require.NoError(t, s.Put(fresh))

	var evicted []string
	s.SetEvictHandler(func(callID string) { evicted = append(evicted, callID) })

	cleaned := s.CleanupExpiredSessions(30 * time.Minute)
	assert.Equal(t, 1, cleaned)
	assert.Equal(t, []string{"C-stale"}, evicted)

	_, ok := s.Get("C-stale")
	assert.False(t, ok)
	_, ok = s.Get("C-fresh")
	assert.True(t, ok)
}

func TestStoreTouchKeepsSessionAlive(t *testing.T) {
	s := NewStore(10)

	sess := testSession("C-1")
	sess.LastActivityAt = time.Now().Add(-time.Hour)
	require.NoError(t, s.Put(sess))

	s.Touch("C-1")
	cleaned := s.CleanupExpiredSessions(30 * time.Minute)
	assert.Equal(t, 0, cleaned)
}

func TestStoreSnapshotCopies(t *testing.T) {
	s := NewStore(10)
	require.NoError(t, s.Put(testSession("C-1")))
	require.NoError(t, s.Put(testSession("C-2")))

	snap := s.Snapshot()
	assert.Len(t, snap, 2)

	snap[0].CallID = "mutated"
	found := 0
	for _, id := range []string{"C-1", "C-2"} {
		if _, ok := s.Get(id); ok {
			found++
		}
	}
	assert.Equal(t, 2, found, "snapshot mutation must not touch the store")
}

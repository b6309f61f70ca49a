package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ClareAI/astra-comms-core/internal/domain"
	"github.com/ClareAI/astra-comms-core/pkg/logger"
	"go.uber.org/zap"
)

// ErrStoreFull is returned when the soft session ceiling is hit and no
// inactive session could be evicted to make room.
var ErrStoreFull = errors.New("session: store at capacity")

// Store is the in-memory map of active call sessions keyed by the Telephony
// Provider's call id. Capacity is a soft ceiling; an inactivity sweeper
// evicts sessions whose last activity is older than the configured timeout.
type Store struct {
	mu          sync.RWMutex
	sessions    map[string]*domain.CallSession
	maxSessions int
	onEvict     func(callID string)
}

func NewStore(maxSessions int) *Store {
	if maxSessions <= 0 {
		maxSessions = 10000
	}
	return &Store{
		sessions:    make(map[string]*domain.CallSession),
		maxSessions: maxSessions,
	}
}

// SetEvictHandler registers the callback invoked (outside the store lock)
// for every session removed by the sweeper or by capacity shedding.
func (s *Store) SetEvictHandler(fn func(callID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvict = fn
}

// Put inserts or replaces a session. When the store is at the ceiling it
// sheds the single most-stale session first; if every session is newer than
// the incoming one, the caller gets ErrStoreFull (a transient error per the
// resource-exhaustion policy).
func (s *Store) Put(sess *domain.CallSession) error {
	s.mu.Lock()

	if _, exists := s.sessions[sess.CallID]; !exists && len(s.sessions) >= s.maxSessions {
		victim := s.stalestLocked()
		if victim == "" || s.sessions[victim].LastActivityAt.After(sess.LastActivityAt) {
			s.mu.Unlock()
			return ErrStoreFull
		}
		delete(s.sessions, victim)
		onEvict := s.onEvict
		s.mu.Unlock()

		logger.Base().Warn("Session ceiling hit, shed stalest session",
			zap.String("evicted_call_id", victim),
			zap.String("incoming_call_id", sess.CallID))
		if onEvict != nil {
			onEvict(victim)
		}
		s.mu.Lock()
	}

	s.sessions[sess.CallID] = sess
	s.mu.Unlock()
	return nil
}

// Get returns the session for a call id, if one exists.
func (s *Store) Get(callID string) (*domain.CallSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[callID]
	return sess, ok
}

// Touch bumps the session's activity watermark so the sweeper skips it.
func (s *Store) Touch(callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[callID]; ok {
		sess.LastActivityAt = time.Now()
	}
}

// Remove deletes a session; removing an unknown id is a no-op.
func (s *Store) Remove(callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, callID)
}

// Count returns the number of live sessions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Snapshot returns copies of every live session, for the admin surface.
// Copies carry no audio buffers; they are safe to serialize.
func (s *Store) Snapshot() []domain.CallSession {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.CallSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, *sess)
	}
	return out
}

// CleanupExpiredSessions removes sessions inactive longer than the duration
// and returns how many were removed. Eviction callbacks run after the lock
// is released to avoid deadlock with handlers that re-enter the store.
func (s *Store) CleanupExpiredSessions(inactivityDuration time.Duration) int {
	s.mu.Lock()
	now := time.Now()
	var expiredIDs []string

	for id, sess := range s.sessions {
		if now.Sub(sess.LastActivityAt) > inactivityDuration {
			expiredIDs = append(expiredIDs, id)
		}
	}
	for _, id := range expiredIDs {
		delete(s.sessions, id)
	}
	onEvict := s.onEvict
	s.mu.Unlock()

	for _, id := range expiredIDs {
		logger.Base().Info("Session inactive for too long, evicted", zap.String("call_id", id))
		if onEvict != nil {
			onEvict(id)
		}
	}
	return len(expiredIDs)
}

// StartCleanupRoutine runs the inactivity sweeper until ctx is done.
func (s *Store) StartCleanupRoutine(ctx context.Context, checkInterval, inactivityTimeout time.Duration) {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	logger.Base().Info("Started session cleanup routine",
		zap.Duration("check_interval", checkInterval),
		zap.Duration("inactivity_timeout", inactivityTimeout))
	for {
		select {
		case <-ctx.Done():
			logger.Base().Info("Session cleanup routine stopped")
			return
		case <-ticker.C:
			if cleaned := s.CleanupExpiredSessions(inactivityTimeout); cleaned > 0 {
				logger.Base().Info("Periodic sweep cleaned sessions", zap.Int("cleaned_count", cleaned))
			}
		}
	}
}

// stalestLocked returns the call id with the oldest activity, or "" when the
// map is empty. Caller holds the write lock.
func (s *Store) stalestLocked() string {
	var victim string
	var oldest time.Time
	for id, sess := range s.sessions {
		if victim == "" || sess.LastActivityAt.Before(oldest) {
			victim = id
			oldest = sess.LastActivityAt
		}
	}
	return victim
}

package service

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/SiwatS/chronocrypt-kms/internal/model"
)

// DefaultSessionTTL is the idle timeout applied when none is configured.
const DefaultSessionTTL = 30 * time.Minute

// DefaultSweepInterval bounds growth from abandoned sessions that are never
// validated again.
const DefaultSweepInterval = 15 * time.Minute

// SessionManager issues and tracks admin sessions in memory. Expiration is
// sliding: every successful validation refreshes the expiry to now+TTL, so
// the TTL is an idle timeout rather than an absolute session lifetime.
//
// The manager is constructor-injected (no package-level state) and takes an
// injectable clock so expiry is testable without real delays.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*model.Session
	ttl      time.Duration
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

// NewSessionManager creates a session manager. ttl <= 0 selects
// DefaultSessionTTL.
func NewSessionManager(ttl time.Duration) *SessionManager {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionManager{
		sessions: make(map[string]*model.Session),
		ttl:      ttl,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
}

// Create mints a high-entropy session token for a logged-in admin.
func (m *SessionManager) Create(adminID int64, email string) (string, error) {
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	id := hex.EncodeToString(tokenBytes)

	now := m.now()
	m.mu.Lock()
	m.sessions[id] = &model.Session{
		ID:        id,
		AdminID:   adminID,
		Email:     email,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	m.mu.Unlock()

	return id, nil
}

// Validate returns the session for the given token, or nil if the token is
// unknown or expired. Expired sessions are evicted on sight, so a second
// lookup is a clean miss. A successful validation slides the expiry forward.
func (m *SessionManager) Validate(sessionID string) *model.Session {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	if now.After(sess.ExpiresAt) {
		delete(m.sessions, sessionID)
		return nil
	}

	sess.ExpiresAt = now.Add(m.ttl)
	snapshot := *sess
	return &snapshot
}

// Delete destroys a session on explicit logout. Idempotent.
func (m *SessionManager) Delete(sessionID string) {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
}

// Sweep evicts every expired session. It iterates over a snapshot of keys so
// concurrent Create and Delete calls during the sweep cannot corrupt the map.
func (m *SessionManager) Sweep() int {
	now := m.now()

	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	evicted := 0
	for _, id := range ids {
		m.mu.Lock()
		if sess, ok := m.sessions[id]; ok && now.After(sess.ExpiresAt) {
			delete(m.sessions, id)
			evicted++
		}
		m.mu.Unlock()
	}
	return evicted
}

// StartSweeper runs Sweep on a fixed interval until Stop is called.
// interval <= 0 selects DefaultSweepInterval.
func (m *SessionManager) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Sweep()
			case <-m.stop:
				return
			}
		}
	}()
}

// Stop terminates the background sweeper. Safe to call more than once.
func (m *SessionManager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// Len reports the number of live (possibly expired but unswept) sessions.
func (m *SessionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// SetClock replaces the time source. Test hook.
func (m *SessionManager) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// Package session manages bounded, expiring dialog sessions. Sessions
// live for the process lifetime only; history is capped FIFO and expiry
// is enforced lazily on access plus an optional periodic sweep.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound means the session id is unknown (never existed, was
	// swept, or expired on an earlier access).
	ErrNotFound = errors.New("session not found")

	// ErrExpired means the session was found but its idle timeout has
	// passed; the lookup removes it as a side effect.
	ErrExpired = errors.New("session expired")
)

// Entry is one conversation turn.
type Entry struct {
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type dialogSession struct {
	id           string
	createdAt    time.Time
	lastActivity time.Time
	history      []Entry
}

// Manager owns all dialog sessions. All mutation goes through its API;
// a single structure-wide lock serializes access (session counts here
// are small, per-session locking would buy nothing).
type Manager struct {
	maxHistory    int
	contextWindow int
	timeout       time.Duration

	mu       sync.RWMutex
	sessions map[string]*dialogSession

	onCount func(int)
	now     func() time.Time
}

// NewManager creates a Manager with the given bounds.
func NewManager(maxHistory, contextWindow int, timeout time.Duration) *Manager {
	return &Manager{
		maxHistory:    maxHistory,
		contextWindow: contextWindow,
		timeout:       timeout,
		sessions:      make(map[string]*dialogSession),
		now:           time.Now,
	}
}

// OnCountChange registers a callback invoked with the new session count
// whenever a session is created or removed. The callback must not call
// back into the Manager.
func (m *Manager) OnCountChange(fn func(int)) {
	m.mu.Lock()
	m.onCount = fn
	m.mu.Unlock()
}

// Create allocates a new session with empty history and returns its id.
func (m *Manager) Create() string {
	id := uuid.NewString()
	now := m.now()

	m.mu.Lock()
	m.sessions[id] = &dialogSession{id: id, createdAt: now, lastActivity: now}
	n := len(m.sessions)
	fn := m.onCount
	m.mu.Unlock()

	if fn != nil {
		fn(n)
	}
	return id
}

// GetOrCreate ensures a session exists under an externally chosen id
// (dialog subjects carry the session id). Returns true when a new
// session was created; an expired session under the same id is replaced.
func (m *Manager) GetOrCreate(id string) bool {
	now := m.now()

	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok && now.Sub(s.lastActivity) <= m.timeout {
		m.mu.Unlock()
		return false
	}
	m.sessions[id] = &dialogSession{id: id, createdAt: now, lastActivity: now}
	n := len(m.sessions)
	fn := m.onCount
	m.mu.Unlock()

	if fn != nil {
		fn(n)
	}
	return true
}

// Append adds a turn to the session history, evicting the oldest entry
// when the history bound is exceeded, and refreshes the activity clock.
func (m *Manager) Append(id, sender, content string) error {
	now := m.now()

	m.mu.Lock()
	s, err := m.lookupLocked(id, now)
	if err != nil {
		n := len(m.sessions)
		fn := m.onCount
		m.mu.Unlock()
		if errors.Is(err, ErrExpired) && fn != nil {
			fn(n)
		}
		return err
	}
	s.history = append(s.history, Entry{Sender: sender, Content: content, Timestamp: now})
	if len(s.history) > m.maxHistory {
		s.history = s.history[len(s.history)-m.maxHistory:]
	}
	s.lastActivity = now
	m.mu.Unlock()
	return nil
}

// Context returns at most contextWindow most-recent entries in arrival
// order. It never mutates the session or its activity clock.
func (m *Manager) Context(id string) ([]Entry, error) {
	now := m.now()

	m.mu.Lock()
	s, err := m.lookupLocked(id, now)
	if err != nil {
		n := len(m.sessions)
		fn := m.onCount
		m.mu.Unlock()
		if errors.Is(err, ErrExpired) && fn != nil {
			fn(n)
		}
		return nil, err
	}
	entries := tailCopy(s.history, m.contextWindow)
	m.mu.Unlock()
	return entries, nil
}

// History returns the full retained history (bounded by maxHistory).
func (m *Manager) History(id string) ([]Entry, error) {
	now := m.now()

	m.mu.Lock()
	s, err := m.lookupLocked(id, now)
	if err != nil {
		n := len(m.sessions)
		fn := m.onCount
		m.mu.Unlock()
		if errors.Is(err, ErrExpired) && fn != nil {
			fn(n)
		}
		return nil, err
	}
	entries := tailCopy(s.history, len(s.history))
	m.mu.Unlock()
	return entries, nil
}

// ExpireSweep removes every session idle past the timeout and returns how
// many were removed. Safe to call concurrently with Append; purely an
// optimization over lazy expiry.
func (m *Manager) ExpireSweep(now time.Time) int {
	m.mu.Lock()
	removed := 0
	for id, s := range m.sessions {
		if now.Sub(s.lastActivity) > m.timeout {
			delete(m.sessions, id)
			removed++
		}
	}
	n := len(m.sessions)
	fn := m.onCount
	m.mu.Unlock()

	if removed > 0 && fn != nil {
		fn(n)
	}
	return removed
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// lookupLocked resolves a live session, removing it when expired.
// Caller holds m.mu.
func (m *Manager) lookupLocked(id string, now time.Time) (*dialogSession, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if now.Sub(s.lastActivity) > m.timeout {
		delete(m.sessions, id)
		return nil, ErrExpired
	}
	return s, nil
}

func tailCopy(entries []Entry, n int) []Entry {
	if n > len(entries) {
		n = len(entries)
	}
	out := make([]Entry, n)
	copy(out, entries[len(entries)-n:])
	return out
}

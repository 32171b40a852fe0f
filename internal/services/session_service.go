package services

import (
	"fmt"
	"log"
	"strings"
	"time"

	"finadvisor/internal/models"

	"github.com/google/uuid"
	cache "github.com/patrickmn/go-cache"
)

// SessionService is the session context store: per-user conversation state
// with bounded retention. Sessions live in a TTL cache and expire after the
// configured inactivity window.
type SessionService struct {
	sessions   *cache.Cache
	ttl        time.Duration
	maxHistory int
}

// NewSessionService creates a new session service
func NewSessionService(ttl time.Duration, maxHistory int) *SessionService {
	sessions := cache.New(ttl, ttl/2)

	sessions.OnEvicted(func(key string, value interface{}) {
		log.Printf("🗑️  [SESSION] Session %s expired", key)
	})

	return &SessionService{
		sessions:   sessions,
		ttl:        ttl,
		maxHistory: maxHistory,
	}
}

// newSessionID generates IDs in the session-<8 hex> form.
func newSessionID() string {
	return fmt.Sprintf("session-%s", strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
}

// GetOrCreate returns the session with the given ID, or a fresh one when the
// ID is empty or unknown (expired sessions count as unknown).
func (s *SessionService) GetOrCreate(sessionID, userID string) *models.Session {
	if sessionID != "" {
		if cached, found := s.sessions.Get(sessionID); found {
			session := cached.(*models.Session)
			if session.UserID == userID {
				return session
			}
			// Session IDs are not shareable across users
			log.Printf("⚠️  [SESSION] Session %s does not belong to user %s, creating new", sessionID, userID)
		}
	}

	now := time.Now().UTC()
	session := &models.Session{
		ID:        newSessionID(),
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.sessions.Set(session.ID, session, s.ttl)

	return session
}

// Get returns a session by ID or nil when absent.
func (s *SessionService) Get(sessionID string) *models.Session {
	if cached, found := s.sessions.Get(sessionID); found {
		return cached.(*models.Session)
	}
	return nil
}

// Append adds a message to the session, trims history to the retention bound,
// and refreshes the inactivity TTL.
func (s *SessionService) Append(session *models.Session, role, content string) {
	session.Messages = append(session.Messages, models.Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
	if len(session.Messages) > s.maxHistory {
		session.Messages = session.Messages[len(session.Messages)-s.maxHistory:]
	}
	session.UpdatedAt = time.Now().UTC()

	s.sessions.Set(session.ID, session, s.ttl)
}

// SetLastSubject records the most recently analyzed ticker for follow-up
// classification.
func (s *SessionService) SetLastSubject(session *models.Session, ticker string) {
	session.LastSubject = ticker
	s.sessions.Set(session.ID, session, s.ttl)
}

// Count returns the number of live sessions.
func (s *SessionService) Count() int {
	return s.sessions.ItemCount()
}

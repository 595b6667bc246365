package tunnel

import (
	"context"
	"errors"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrSessionNotFound = errors.New("tunnel: session not found")

const defaultSessionTTL = 2 * time.Hour

// Session groups the assets uploaded or storied for one walkthrough.
type Session struct {
	ID          string     `json:"tunnelId"`
	CreatedAt   time.Time  `json:"createdAt"`
	CommittedAt *time.Time `json:"committedAt,omitempty"`
	AssetIDs    []string   `json:"assetIds"`
}

// SessionStore tracks tunnel sessions. Track on an unknown or expired session
// returns ErrSessionNotFound.
type SessionStore interface {
	Start(ctx context.Context) (Session, error)
	Track(ctx context.Context, id string, assetIDs ...string) error
	Get(ctx context.Context, id string) (Session, error)
	Commit(ctx context.Context, id string) (Session, error)
}

// SessionTTLFromEnv reads TUNNEL_SESSION_TTL as a Go duration.
func SessionTTLFromEnv() time.Duration {
	raw := strings.TrimSpace(os.Getenv("TUNNEL_SESSION_TTL"))
	if raw == "" {
		return defaultSessionTTL
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return defaultSessionTTL
	}
	return d
}

func newSessionID() string {
	return uuid.NewString()
}

// MemorySessionStore keeps sessions in process memory.
type MemorySessionStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	sessions map[string]*Session
}

func NewMemorySessionStore(ttl time.Duration) *MemorySessionStore {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &MemorySessionStore{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

func (s *MemorySessionStore) Start(ctx context.Context) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked()
	sess := &Session{ID: newSessionID(), CreatedAt: s.now().UTC()}
	s.sessions[sess.ID] = sess
	return cloneSession(*sess), nil
}

func (s *MemorySessionStore) Track(ctx context.Context, id string, assetIDs ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.liveLocked(id)
	if !ok {
		return ErrSessionNotFound
	}
	sess.AssetIDs = appendDistinct(sess.AssetIDs, assetIDs...)
	return nil
}

func (s *MemorySessionStore) Get(ctx context.Context, id string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.liveLocked(id)
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return cloneSession(*sess), nil
}

func (s *MemorySessionStore) Commit(ctx context.Context, id string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.liveLocked(id)
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	at := s.now().UTC()
	sess.CommittedAt = &at
	return cloneSession(*sess), nil
}

func (s *MemorySessionStore) liveLocked(id string) (*Session, bool) {
	sess, ok := s.sessions[strings.TrimSpace(id)]
	if !ok {
		return nil, false
	}
	if s.now().Sub(sess.CreatedAt) > s.ttl {
		delete(s.sessions, sess.ID)
		return nil, false
	}
	return sess, true
}

func (s *MemorySessionStore) evictLocked() {
	now := s.now()
	for id, sess := range s.sessions {
		if now.Sub(sess.CreatedAt) > s.ttl {
			delete(s.sessions, id)
		}
	}
}

func cloneSession(s Session) Session {
	out := s
	out.AssetIDs = append([]string(nil), s.AssetIDs...)
	if s.CommittedAt != nil {
		at := *s.CommittedAt
		out.CommittedAt = &at
	}
	return out
}

func appendDistinct(list []string, values ...string) []string {
	seen := make(map[string]struct{}, len(list))
	for _, v := range list {
		seen[v] = struct{}{}
	}
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		list = append(list, v)
	}
	return list
}

// VersionURL appends the cache-busting v=<tunnelID> parameter to raw unless
// it already carries one.
func VersionURL(raw, tunnelID string) string {
	raw = strings.TrimSpace(raw)
	tunnelID = strings.TrimSpace(tunnelID)
	if raw == "" || tunnelID == "" {
		return raw
	}
	if u, err := url.Parse(raw); err == nil && u.Query().Has("v") {
		return raw
	}
	sep := "?"
	if strings.Contains(raw, "?") {
		sep = "&"
	}
	return raw + sep + "v=" + url.QueryEscape(tunnelID)
}

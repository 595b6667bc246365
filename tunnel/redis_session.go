package tunnel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "delorean:tunnel:"

// RedisSessionStore keeps sessions in Redis so they survive restarts and are
// shared between server processes. Keys expire after the session TTL.
type RedisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisSessionStore(client *redis.Client, ttl time.Duration) *RedisSessionStore {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &RedisSessionStore{client: client, ttl: ttl, now: time.Now}
}

type sessionMeta struct {
	CreatedAt   time.Time  `json:"createdAt"`
	CommittedAt *time.Time `json:"committedAt,omitempty"`
}

func metaKey(id string) string   { return sessionKeyPrefix + id }
func assetsKey(id string) string { return sessionKeyPrefix + id + ":assets" }

func (s *RedisSessionStore) Start(ctx context.Context) (Session, error) {
	sess := Session{ID: newSessionID(), CreatedAt: s.now().UTC()}
	if err := s.writeMeta(ctx, sess.ID, sessionMeta{CreatedAt: sess.CreatedAt}); err != nil {
		return Session{}, err
	}
	return sess, nil
}

func (s *RedisSessionStore) Track(ctx context.Context, id string, assetIDs ...string) error {
	id = strings.TrimSpace(id)
	if _, err := s.readMeta(ctx, id); err != nil {
		return err
	}
	values := make([]interface{}, 0, len(assetIDs))
	for _, a := range assetIDs {
		if a = strings.TrimSpace(a); a != "" {
			values = append(values, a)
		}
	}
	if len(values) == 0 {
		return nil
	}
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, assetsKey(id), values...)
	pipe.Expire(ctx, assetsKey(id), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("tunnel: track assets: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) Get(ctx context.Context, id string) (Session, error) {
	id = strings.TrimSpace(id)
	meta, err := s.readMeta(ctx, id)
	if err != nil {
		return Session{}, err
	}
	ids, err := s.client.LRange(ctx, assetsKey(id), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Session{}, fmt.Errorf("tunnel: read assets: %w", err)
	}
	return Session{
		ID:          id,
		CreatedAt:   meta.CreatedAt,
		CommittedAt: meta.CommittedAt,
		AssetIDs:    appendDistinct(nil, ids...),
	}, nil
}

func (s *RedisSessionStore) Commit(ctx context.Context, id string) (Session, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	at := s.now().UTC()
	sess.CommittedAt = &at
	if err := s.writeMeta(ctx, sess.ID, sessionMeta{CreatedAt: sess.CreatedAt, CommittedAt: &at}); err != nil {
		return Session{}, err
	}
	return sess, nil
}

func (s *RedisSessionStore) readMeta(ctx context.Context, id string) (sessionMeta, error) {
	if id == "" {
		return sessionMeta{}, ErrSessionNotFound
	}
	raw, err := s.client.Get(ctx, metaKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return sessionMeta{}, ErrSessionNotFound
		}
		return sessionMeta{}, fmt.Errorf("tunnel: read session: %w", err)
	}
	var meta sessionMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return sessionMeta{}, fmt.Errorf("tunnel: decode session: %w", err)
	}
	return meta, nil
}

// writeMeta keeps the original expiry so a commit does not extend the session.
func (s *RedisSessionStore) writeMeta(ctx context.Context, id string, meta sessionMeta) error {
	payload, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("tunnel: encode session: %w", err)
	}
	ttl := s.ttl - s.now().Sub(meta.CreatedAt)
	if ttl <= 0 {
		return ErrSessionNotFound
	}
	if err := s.client.Set(ctx, metaKey(id), payload, ttl).Err(); err != nil {
		return fmt.Errorf("tunnel: write session: %w", err)
	}
	return nil
}

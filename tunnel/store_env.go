package tunnel

import (
	"errors"

	"delorean_back/cache"
	"delorean_back/logger"
)

// NewSessionStoreFromEnv uses Redis when REDIS_ADDR is set and reachable and
// otherwise keeps sessions in memory.
func NewSessionStoreFromEnv(log *logger.Logger) SessionStore {
	ttl := SessionTTLFromEnv()
	client, err := cache.GetRedisClient()
	if err != nil {
		if !errors.Is(err, cache.ErrDisabled) {
			log.Warn("redis unavailable, tunnel sessions kept in memory", "error", err)
		}
		return NewMemorySessionStore(ttl)
	}
	log.Info("tunnel sessions stored in redis", "ttl", ttl.String())
	return NewRedisSessionStore(client, ttl)
}

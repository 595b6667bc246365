package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrDisabled means neither REDIS_URL nor REDIS_ADDR is set and callers
// should keep their state in process.
var ErrDisabled = errors.New("cache: redis not configured")

const pingTimeout = 2 * time.Second

var (
	redisOnce   sync.Once
	redisClient *redis.Client
	redisErr    error
)

// OptionsFromEnv reads the connection settings.
//
//   - REDIS_URL: full redis:// or rediss:// URL, wins when set
//   - REDIS_ADDR, REDIS_PASSWORD, REDIS_DB: used otherwise
func OptionsFromEnv() (*redis.Options, error) {
	if raw := strings.TrimSpace(os.Getenv("REDIS_URL")); raw != "" {
		opts, err := redis.ParseURL(raw)
		if err != nil {
			return nil, fmt.Errorf("cache: parse REDIS_URL: %w", err)
		}
		return opts, nil
	}
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, ErrDisabled
	}
	opts := &redis.Options{Addr: addr, Password: os.Getenv("REDIS_PASSWORD")}
	if raw := strings.TrimSpace(os.Getenv("REDIS_DB")); raw != "" {
		db, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("cache: REDIS_DB %q is not a number", raw)
		}
		opts.DB = db
	}
	return opts, nil
}

// GetRedisClient returns the process-wide client, connecting on first use.
func GetRedisClient() (*redis.Client, error) {
	redisOnce.Do(func() {
		opts, err := OptionsFromEnv()
		if err != nil {
			redisErr = err
			return
		}
		redisClient, redisErr = Dial(opts)
	})
	return redisClient, redisErr
}

// Connect dials addr and pings it once.
func Connect(addr, password string, db int) (*redis.Client, error) {
	return Dial(&redis.Options{Addr: addr, Password: password, DB: db})
}

func Dial(opts *redis.Options) (*redis.Client, error) {
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: ping redis %s: %w", opts.Addr, err)
	}
	return client, nil
}

func Enabled() bool {
	client, err := GetRedisClient()
	return err == nil && client != nil
}

func Close() error {
	if redisClient == nil {
		return nil
	}
	return redisClient.Close()
}

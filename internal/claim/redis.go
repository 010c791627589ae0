package claim

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	keyPrefix = "pagefeed:claim:"

	// DefaultTTL bounds how long a claim survives a crashed holder. It must
	// exceed the fetch timeout plus the store timeout.
	DefaultTTL = 5 * time.Minute
)

// Only the holder's token may delete the key.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Redis is a Claimer backed by SET NX PX keys, for pollers running in
// several processes against the same store.
type Redis struct {
	client *redis.Client
	owner  string
	ttl    time.Duration
}

// NewRedis creates a Claimer over client. A zero ttl uses DefaultTTL.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{
		client: client,
		owner:  uuid.NewString(),
		ttl:    ttl,
	}
}

// Dial connects to addr and verifies the server answers.
func Dial(ctx context.Context, addr string, ttl time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}
	return NewRedis(client, ttl), nil
}

func (r *Redis) key(slug string) string {
	return keyPrefix + slug
}

func (r *Redis) TryClaim(ctx context.Context, slug string) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.key(slug), r.owner, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", slug, err)
	}
	if !ok {
		log.Debug().
			Str("slug", slug).
			Msg("Page already claimed by another poller")
	}
	return ok, nil
}

func (r *Redis) Release(ctx context.Context, slug string) error {
	if err := releaseScript.Run(ctx, r.client, []string{r.key(slug)}, r.owner).Err(); err != nil {
		return fmt.Errorf("release %s: %w", slug, err)
	}
	return nil
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}

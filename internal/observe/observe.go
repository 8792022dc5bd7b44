// Package observe publishes operational snapshots for dashboards. The
// health job writes its report here; everything is best-effort and never
// blocks reconciliation.
package observe

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Reporter publishes a named snapshot of string fields.
type Reporter interface {
	Report(ctx context.Context, name string, fields map[string]string) error
}

// Log writes snapshots to the structured log. The default reporter when
// no Redis endpoint is configured.
type Log struct {
	Logger *slog.Logger
}

func (l *Log) Report(ctx context.Context, name string, fields map[string]string) error {
	attrs := make([]any, 0, 2*len(fields)+2)
	attrs = append(attrs, "report", name)
	for k, v := range fields {
		attrs = append(attrs, k, v)
	}
	l.Logger.InfoContext(ctx, "health report", attrs...)
	return nil
}

// Redis stores each snapshot as a hash under a namespaced key, with a TTL
// so stale reports age out when the service stops.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis builds a reporter against the given address. Keys are written
// as "<prefix>:<name>".
func NewRedis(addr, prefix string, ttl time.Duration) *Redis {
	return &Redis{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		prefix: prefix,
		ttl:    ttl,
	}
}

func (r *Redis) Report(ctx context.Context, name string, fields map[string]string) error {
	key := r.prefix + ":" + name

	pipe := r.client.TxPipeline()
	flat := make([]any, 0, 2*len(fields))
	for k, v := range fields {
		flat = append(flat, k, v)
	}
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, flat...)
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Close releases the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}

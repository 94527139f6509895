// Package sequence allocates ticket sequence numbers. Numbers are monotonic and
// never handed out twice, even when the ticket using them is later rolled back.
package sequence

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Allocator hands out ticket sequence numbers.
type Allocator interface {
	// Next returns the next unused number.
	Next(ctx context.Context) (int64, error)
	// Observe records a number already in use so Next never returns it.
	Observe(n int64)
}

// Local is a process-local allocator.
type Local struct {
	mu   sync.Mutex
	last int64
}

// NewLocal returns an allocator whose first number is start+1.
func NewLocal(start int64) *Local {
	return &Local{last: start}
}

func (l *Local) Next(context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.last++
	return l.last, nil
}

func (l *Local) Observe(n int64) {
	l.mu.Lock()
	if n > l.last {
		l.last = n
	}
	l.mu.Unlock()
}

// raiseAndIncr lifts the counter to the caller's floor before incrementing, so
// numbers observed locally are never reissued by Redis.
var raiseAndIncr = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local floor = tonumber(ARGV[1])
if current < floor then
  redis.call('SET', KEYS[1], floor)
end
return redis.call('INCR', KEYS[1])
`)

// DefaultKey is the Redis key holding the shared counter.
const DefaultKey = "helpdesk:ticket_seq"

// Redis shares the counter between desk processes. When Redis is unreachable it
// falls back to its local counter, which keeps the floor of everything seen.
type Redis struct {
	client redis.Scripter
	key    string
	local  *Local
	logger *zap.Logger
}

// NewRedis builds a Redis-backed allocator.
func NewRedis(client redis.Scripter, key string, logger *zap.Logger) *Redis {
	if key == "" {
		key = DefaultKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{client: client, key: key, local: NewLocal(0), logger: logger}
}

func (r *Redis) Next(ctx context.Context) (int64, error) {
	r.local.mu.Lock()
	floor := r.local.last
	r.local.mu.Unlock()

	n, err := raiseAndIncr.Run(ctx, r.client, []string{r.key}, floor).Int64()
	if err != nil {
		r.logger.Warn("redis sequence unavailable, allocating locally", zap.String("key", r.key), zap.Error(err))
		return r.local.Next(ctx)
	}
	r.local.Observe(n)
	return n, nil
}

func (r *Redis) Observe(n int64) {
	r.local.Observe(n)
}

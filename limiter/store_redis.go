package limiter

import (
	"context"
	"strconv"
	"time"

	"github.com/KOMKZ/go-yogan-mesh/logger"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// tokenBucketScript refill + take in one round trip
//
// KEYS[1] bucket hash {tokens, ts}
// ARGV    rate, burst, now(ms), n, ttl(ms)
// returns {allowed, tokens}
var tokenBucketScript = redis.NewScript(`
local rate  = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now   = tonumber(ARGV[3])
local n     = tonumber(ARGV[4])
local ttl   = tonumber(ARGV[5])

local state  = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(state[1])
local ts     = tonumber(state[2])
if tokens == nil or ts == nil then
  tokens = burst
  ts = now
end

if now > ts then
  tokens = math.min(burst, tokens + (now - ts) / 1000 * rate)
  ts = now
end

local allowed = 0
if tokens >= n then
  tokens = tokens - n
  allowed = 1
end

redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'ts', tostring(ts))
redis.call('PEXPIRE', KEYS[1], ttl)
return {allowed, tostring(tokens)}
`)

// RedisBucket token bucket shared by all processes through redis
//
// Every call has a RedisTimeout budget. When redis fails the local
// bucket answers instead, so an outage degrades to per-process limits.
type RedisBucket struct {
	client   redis.UniversalClient
	key      string
	rate     float64
	burst    int
	timeout  time.Duration
	clock    clockwork.Clock
	fallback *TokenBucket
	logger   *logger.CtxZapLogger
}

// NewRedisBucket creates a redis-backed bucket stored under key
func NewRedisBucket(client redis.UniversalClient, key string, cfg Config, timeout time.Duration, clock clockwork.Clock, log *logger.CtxZapLogger) *RedisBucket {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = logger.GetLogger("limiter")
	}
	return &RedisBucket{
		client:   client,
		key:      key,
		rate:     cfg.Rate,
		burst:    cfg.Burst,
		timeout:  timeout,
		clock:    clock,
		fallback: NewTokenBucket(cfg.Rate, cfg.Burst, clock),
		logger:   log,
	}
}

// TryAcquire takes n tokens from the shared bucket
func (b *RedisBucket) TryAcquire(n int) bool {
	if n < 1 {
		n = 1
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	allowed, _, err := b.eval(ctx, n)
	if err != nil {
		b.logger.Warn("⚠️ redis limiter unavailable, using local bucket",
			zap.String("key", b.key),
			zap.Error(err))
		return b.fallback.TryAcquire(n)
	}
	return allowed
}

// Tokens current shared token count (probe with n=0)
func (b *RedisBucket) Tokens() float64 {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	_, tokens, err := b.eval(ctx, 0)
	if err != nil {
		return b.fallback.Tokens()
	}
	return tokens
}

func (b *RedisBucket) eval(ctx context.Context, n int) (bool, float64, error) {
	now := b.clock.Now().UnixMilli()
	ttl := b.ttl().Milliseconds()

	res, err := tokenBucketScript.Run(ctx, b.client, []string{b.key},
		b.rate, b.burst, now, n, ttl).Slice()
	if err != nil {
		return false, 0, err
	}

	allowed, _ := res[0].(int64)
	var tokens float64
	if s, ok := res[1].(string); ok {
		tokens, _ = strconv.ParseFloat(s, 64)
	}
	return allowed == 1, tokens, nil
}

// ttl twice the time to refill an empty bucket, at least one second
func (b *RedisBucket) ttl() time.Duration {
	d := time.Duration(float64(b.burst) / b.rate * 2 * float64(time.Second))
	if d < time.Second {
		return time.Second
	}
	return d
}

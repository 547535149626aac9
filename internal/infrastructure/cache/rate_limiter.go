package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RouteClass groups endpoints that share a rate budget.
type RouteClass string

const (
	RouteLogin  RouteClass = "login"
	RouteUpload RouteClass = "upload"
	RouteAPI    RouteClass = "api"
)

// ClassLimit is the budget for one route class.
type ClassLimit struct {
	Limit  int
	Window time.Duration
}

// DefaultLimits are the per-class budgets.
var DefaultLimits = map[RouteClass]ClassLimit{
	RouteLogin:  {Limit: 5, Window: 60 * time.Second},
	RouteUpload: {Limit: 10, Window: 3600 * time.Second},
	RouteAPI:    {Limit: 200, Window: 3600 * time.Second},
}

const rateLimitPrefix = "dla:ratelimit:"

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// RetryAt is the earliest time a denied caller may retry.
	RetryAt time.Time
}

// RateLimiter enforces sliding-window limits per (identity, route
// class) in Redis. If Redis is unreachable it degrades to a local
// token-bucket approximation and, failing that, permits: availability
// is preferred over strict enforcement.
type RateLimiter struct {
	client *redis.Client
	logger *zap.Logger
	limits map[RouteClass]ClassLimit

	mu       sync.Mutex
	fallback map[string]*rate.Limiter
}

// NewRateLimiter creates a Redis-backed sliding window limiter.
func NewRateLimiter(client *redis.Client, logger *zap.Logger) *RateLimiter {
	return &RateLimiter{
		client:   client,
		logger:   logger,
		limits:   DefaultLimits,
		fallback: make(map[string]*rate.Limiter),
	}
}

// Allow records one request for key under the class budget and reports
// whether it fits the window.
func (r *RateLimiter) Allow(ctx context.Context, key string, class RouteClass) Decision {
	limit, ok := r.limits[class]
	if !ok {
		limit = r.limits[RouteAPI]
	}

	now := time.Now()
	windowStart := now.Add(-limit.Window)
	redisKey := rateLimitPrefix + string(class) + ":" + key
	member := strconv.FormatInt(now.UnixNano(), 10)

	pipe := r.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "-inf", strconv.FormatInt(windowStart.UnixNano(), 10))
	countCmd := pipe.ZCard(ctx, redisKey)
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixNano()), Member: member})
	pipe.Expire(ctx, redisKey, limit.Window+time.Minute)

	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Warn("rate limiter redis unavailable, degrading to local limiter",
			zap.String("class", string(class)),
			zap.Error(err))
		return r.allowLocal(redisKey, limit, now)
	}

	prior := countCmd.Val()
	if prior >= int64(limit.Limit) {
		// Over budget: withdraw the member we just added so a denied
		// request does not extend the window for later callers.
		r.client.ZRem(ctx, redisKey, member)
		return Decision{
			Allowed:   false,
			Limit:     limit.Limit,
			Remaining: 0,
			RetryAt:   r.earliestRetry(ctx, redisKey, limit, now),
		}
	}

	remaining := limit.Limit - int(prior) - 1
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: true, Limit: limit.Limit, Remaining: remaining}
}

// earliestRetry computes when the oldest entry in the window expires.
func (r *RateLimiter) earliestRetry(ctx context.Context, redisKey string, limit ClassLimit, now time.Time) time.Time {
	oldest, err := r.client.ZRangeWithScores(ctx, redisKey, 0, 0).Result()
	if err != nil || len(oldest) == 0 {
		return now.Add(limit.Window)
	}
	return time.Unix(0, int64(oldest[0].Score)).Add(limit.Window)
}

// allowLocal approximates the budget with an in-process token bucket
// while Redis is down. The bucket refills at limit/window.
func (r *RateLimiter) allowLocal(key string, limit ClassLimit, now time.Time) Decision {
	r.mu.Lock()
	lim, ok := r.fallback[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(limit.Limit)/limit.Window.Seconds()), limit.Limit)
		r.fallback[key] = lim
	}
	r.mu.Unlock()

	if lim.Allow() {
		return Decision{Allowed: true, Limit: limit.Limit, Remaining: int(lim.Tokens())}
	}
	return Decision{
		Allowed:   false,
		Limit:     limit.Limit,
		Remaining: 0,
		RetryAt:   now.Add(limit.Window / time.Duration(limit.Limit)),
	}
}

// Reset clears the window for a key, for tests and admin unblocking.
func (r *RateLimiter) Reset(ctx context.Context, key string, class RouteClass) error {
	return r.client.Del(ctx, rateLimitPrefix+string(class)+":"+key).Err()
}

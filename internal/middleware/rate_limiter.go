package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimiterConfig 限流配置
type RateLimiterConfig struct {
	RequestsPerSecond float64       // 每个客户端每秒请求数，<=0 表示不限流
	BurstSize         int           // 突发容量
	IdleTimeout       time.Duration // 客户端空闲多久后清除状态
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter 按客户端标识的令牌桶限流器
type RateLimiter struct {
	cfg       RateLimiterConfig
	mu        sync.Mutex
	clients   map[string]*clientLimiter
	lastSweep time.Time
	now       func() time.Time
}

// NewRateLimiter 创建限流器
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = 1
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 10 * time.Minute
	}
	return &RateLimiter{
		cfg:       cfg,
		clients:   make(map[string]*clientLimiter),
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

// Enabled 是否配置了限流
func (rl *RateLimiter) Enabled() bool {
	return rl != nil && rl.cfg.RequestsPerSecond > 0
}

// Allow 检查是否允许请求
func (rl *RateLimiter) Allow(key string) bool {
	if !rl.Enabled() {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.sweepLocked(now)

	state, ok := rl.clients[key]
	if !ok {
		state = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(rl.cfg.RequestsPerSecond), rl.cfg.BurstSize)}
		rl.clients[key] = state
	}
	state.lastSeen = now
	return state.limiter.AllowN(now, 1)
}

// sweepLocked 在请求路径上顺带清理空闲客户端，不需要后台协程
func (rl *RateLimiter) sweepLocked(now time.Time) {
	if now.Sub(rl.lastSweep) < rl.cfg.IdleTimeout {
		return
	}
	for key, state := range rl.clients {
		if now.Sub(state.lastSeen) > rl.cfg.IdleTimeout {
			delete(rl.clients, key)
		}
	}
	rl.lastSweep = now
}

// ActiveClients 当前跟踪的客户端数
func (rl *RateLimiter) ActiveClients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// RateLimitMiddleware 按客户端 IP 限流
func RateLimitMiddleware(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"code":    "RATE_LIMIT_EXCEEDED",
				"message": "请求过于频繁，请稍后重试",
			})
			return
		}
		c.Next()
	}
}

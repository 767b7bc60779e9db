package httpapi

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"xoracle/internal/domain/model"
)

const callerKey = "caller"

// AuthMiddleware 校验 Bearer 令牌并把调用方身份放入上下文
func AuthMiddleware(tokens TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			abort(c, http.StatusUnauthorized, "TOKEN_REQUIRED", "authorization header required")
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			abort(c, http.StatusUnauthorized, "TOKEN_INVALID", "invalid authorization header format")
			return
		}

		if tokens == nil {
			abort(c, http.StatusUnauthorized, "TOKEN_INVALID", "token verification unavailable")
			return
		}
		caller, err := tokens.Verify(strings.TrimSpace(parts[1]))
		if err != nil {
			abort(c, http.StatusUnauthorized, "TOKEN_INVALID", err.Error())
			return
		}

		c.Set(callerKey, caller)
		c.Next()
	}
}

func callerFrom(c *gin.Context) model.Identity {
	v, _ := c.Get(callerKey)
	id, _ := v.(model.Identity)
	return id
}

// RateLimitMiddleware 按客户端 IP 的令牌桶限流
func RateLimitMiddleware(rps float64, burst int) gin.HandlerFunc {
	limiters := newIPLimiters(rps, burst, limiterIdleTTL)

	return func(c *gin.Context) {
		if !limiters.allow(c.ClientIP()) {
			abort(c, http.StatusTooManyRequests, "RATE_LIMIT", "rate limit exceeded")
			return
		}
		c.Next()
	}
}

const limiterIdleTTL = 10 * time.Minute

type clientLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// ipLimiters 每个 IP 一个令牌桶；空闲条目在访问时顺带清理。
// idle 不短于桶回满所需时间，清理不会让客户端多拿令牌。
type ipLimiters struct {
	mu        sync.Mutex
	rps       rate.Limit
	burst     int
	idle      time.Duration
	now       func() time.Time
	lastSweep time.Time
	clients   map[string]*clientLimiter
}

func newIPLimiters(rps float64, burst int, idle time.Duration) *ipLimiters {
	if burst <= 0 {
		burst = 1
	}
	if rps > 0 {
		refill := time.Duration(float64(burst) / rps * float64(time.Second))
		if idle < refill {
			idle = refill
		}
	}
	return &ipLimiters{
		rps:     rate.Limit(rps),
		burst:   burst,
		idle:    idle,
		now:     time.Now,
		clients: make(map[string]*clientLimiter),
	}
}

func (l *ipLimiters) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= l.idle {
		l.sweep(now)
	}
	c, ok := l.clients[ip]
	if !ok {
		c = &clientLimiter{lim: rate.NewLimiter(l.rps, l.burst)}
		l.clients[ip] = c
	}
	c.lastSeen = now
	return c.lim.AllowN(now, 1)
}

func (l *ipLimiters) sweep(now time.Time) {
	for ip, c := range l.clients {
		if now.Sub(c.lastSeen) >= l.idle {
			delete(l.clients, ip)
		}
	}
	l.lastSweep = now
}

func (l *ipLimiters) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// LoggerMiddleware 每个请求一行结构化日志
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		ev := log.Debug()
		switch {
		case status >= 500:
			ev = log.Error()
		case status >= 400:
			ev = log.Warn()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("http request")
	}
}

func MetricsMiddleware(obs HTTPObserver) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		obs.ObserveHTTP(route, c.Request.Method, c.Writer.Status(), time.Since(start))
	}
}

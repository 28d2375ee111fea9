package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"

	"rentmail/utils"
)

// RateLimiterConfig configures RateLimiter
type RateLimiterConfig struct {
	// Requests allowed per Window for one client IP
	Requests int
	Window   time.Duration
	// Skip exempts a request, e.g. long-lived streams
	Skip func(*fiber.Ctx) bool
	// Idle clients are forgotten after this long
	IdleTTL time.Duration
}

// RateLimiter creates a per-IP rate limiting middleware. The cleanup loop
// stops when ctx is done.
func RateLimiter(ctx context.Context, cfg RateLimiterConfig) fiber.Handler {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}

	type client struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}

	var (
		clients = make(map[string]*client)
		mu      sync.Mutex
	)

	go func() {
		ticker := time.NewTicker(cfg.IdleTTL / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				mu.Lock()
				for ip, c := range clients {
					if time.Since(c.lastSeen) > cfg.IdleTTL {
						delete(clients, ip)
					}
				}
				mu.Unlock()
			}
		}
	}()

	return func(c *fiber.Ctx) error {
		if cfg.Requests <= 0 || (cfg.Skip != nil && cfg.Skip(c)) {
			return c.Next()
		}

		ip := c.IP()

		mu.Lock()
		cl, exists := clients[ip]
		if !exists {
			limiter := rate.NewLimiter(rate.Every(cfg.Window/time.Duration(cfg.Requests)), cfg.Requests)
			cl = &client{limiter: limiter}
			clients[ip] = cl
		}
		cl.lastSeen = time.Now()
		mu.Unlock()

		if !cl.limiter.Allow() {
			utils.Log.Warn("Rate limit exceeded for %s on %s", ip, c.Path())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": utils.T(Localizer(c), "error_rate_limited"),
			})
		}

		return c.Next()
	}
}

package middlewares

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/geocoder89/aegisapi/internal/apperr"
	"github.com/geocoder89/aegisapi/internal/http/handlers"
	"github.com/geocoder89/aegisapi/internal/ratelimit"
	"github.com/gin-gonic/gin"
)

// RateLimit enforces rule for the key derived by keyFn. A failing store lets
// the request through; losing the limiter must not take auth down with it.
func RateLimit(l *ratelimit.Limiter, rule ratelimit.Rule, keyFn func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := keyFn(c)
		if key == "" {
			// fallback to IP if key cannot be derived
			key = clientIP(c)
		}

		d, err := l.Allow(c.Request.Context(), rule, key)
		if err != nil {
			slog.Default().WarnContext(c.Request.Context(), "rate limiter unavailable", "rule", rule.Name, "err", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))

		if !d.Allowed {
			retry := int(d.RetryAfter.Seconds())
			c.Header("Retry-After", strconv.Itoa(retry))
			handlers.AbortErr(c, apperr.TooManyRequests("Too many requests. Please try again later.").
				WithDetails(map[string]int{"retryAfter": retry}))
			return
		}

		c.Next()
	}
}

// for unauthenticated endpoints: rate limit by IP
func KeyByIP(c *gin.Context) string {
	return clientIP(c)
}

// KeyByIPAndLogin limits login attempts per address and account. The body is
// restored so the handler can still bind it.
func KeyByIPAndLogin(c *gin.Context) string {
	ip := clientIP(c)
	if c.Request.Body == nil {
		return ip
	}

	b, err := io.ReadAll(c.Request.Body)
	c.Request.Body = io.NopCloser(bytes.NewReader(b))
	if err != nil {
		return ip
	}

	var body struct {
		Login string `json:"login"`
		Email string `json:"email"`
	}
	if json.Unmarshal(b, &body) != nil {
		return ip
	}

	login := body.Login
	if login == "" {
		login = body.Email
	}
	if login == "" {
		return ip
	}
	return ip + ":" + strings.ToLower(strings.TrimSpace(login))
}

func clientIP(c *gin.Context) string {
	// Gin's ClientIP respects X-Forwarded-For / X-Real-IP if configured.
	ip := c.ClientIP()

	host, _, err := net.SplitHostPort(ip)
	if err == nil && host != "" {
		return host
	}

	return ip
}

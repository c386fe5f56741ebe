// Package ratelimit implements a fixed-window request limiter with pluggable
// counter stores (in-process or redis).
package ratelimit

import (
	"context"
	"time"
)

// Store counts hits per key inside a window that starts at the first hit.
type Store interface {
	// Hit records one request and returns the count so far in the current
	// window and the time left until it resets.
	Hit(ctx context.Context, key string, window time.Duration) (count int64, resetIn time.Duration, err error)
}

type Rule struct {
	Name   string
	Limit  int64
	Window time.Duration
}

// Rules applied to the auth endpoints.
var (
	RegisterRule = Rule{Name: "register", Limit: 3, Window: time.Hour}
	LoginRule    = Rule{Name: "login", Limit: 5, Window: time.Minute}
	RefreshRule  = Rule{Name: "refresh", Limit: 10, Window: time.Minute}
)

type Decision struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	RetryAfter time.Duration
}

type Limiter struct {
	store Store
}

func New(store Store) *Limiter {
	return &Limiter{store: store}
}

// Allow counts one hit for key under rule.
func (l *Limiter) Allow(ctx context.Context, rule Rule, key string) (Decision, error) {
	n, resetIn, err := l.store.Hit(ctx, "rl:"+rule.Name+":"+key, rule.Window)
	if err != nil {
		return Decision{}, err
	}

	d := Decision{
		Allowed:   n <= rule.Limit,
		Limit:     rule.Limit,
		Remaining: max(rule.Limit-n, 0),
	}
	if !d.Allowed {
		d.RetryAfter = max(resetIn, 0)
	}
	return d, nil
}

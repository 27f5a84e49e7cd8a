// Package ratelimit implements the fixed-window gate in front of wallet syncs.
package ratelimit

import (
	"context"
	"strings"
	"time"
)

const (
	DefaultMaxRequests = 5
	DefaultWindow      = 5 * time.Minute
)

type Policy struct {
	MaxRequests int
	Window      time.Duration
}

func DefaultPolicy() Policy {
	return Policy{MaxRequests: DefaultMaxRequests, Window: DefaultWindow}
}

func (p Policy) normalized() Policy {
	if p.MaxRequests <= 0 {
		p.MaxRequests = DefaultMaxRequests
	}
	if p.Window <= 0 {
		p.Window = DefaultWindow
	}
	return p
}

type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfterSeconds is the caller facing wait, rounded up to whole seconds.
func (r Result) RetryAfterSeconds(now time.Time) int64 {
	millis := r.ResetAt.Sub(now).Milliseconds()
	if millis <= 0 {
		return 0
	}
	return (millis + 999) / 1000
}

type Stats struct {
	Backend     string `json:"backend"`
	TrackedKeys int    `json:"trackedKeys"`
	MaxRequests int    `json:"maxRequests"`
	WindowMS    int64  `json:"windowMs"`
}

type Limiter interface {
	Check(ctx context.Context, key string) (Result, error)
	Reset(ctx context.Context, key string) error
	Stats(ctx context.Context) (Stats, error)
}

// Key derives the limiter key for a sync request: the wallet when known,
// then the caller's network address.
func Key(wallet, clientAddr string) string {
	if wallet = strings.TrimSpace(wallet); wallet != "" {
		return "sync:" + wallet
	}
	if clientAddr = strings.TrimSpace(clientAddr); clientAddr != "" {
		return "sync:ip:" + clientAddr
	}
	return "sync:unknown"
}

func remaining(limit, count int) int {
	if count >= limit {
		return 0
	}
	return limit - count
}

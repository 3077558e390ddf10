package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/emperorhan/nft-indexer/internal/metrics"
	"golang.org/x/time/rate"
)

// Limiter paces calls to one external service at N operations per window.
// Slots are spread uniformly across the window (one every window/N) rather
// than released as a burst at window boundaries. Reservations are granted in
// call order, so concurrent callers are admitted FIFO.
type Limiter struct {
	limiter *rate.Limiter
	service string
}

// NewLimiter creates a limiter admitting perWindow operations per window.
// perWindow <= 0 disables limiting.
func NewLimiter(perWindow int, window time.Duration, service string) *Limiter {
	if perWindow <= 0 || window <= 0 {
		return &Limiter{limiter: rate.NewLimiter(rate.Inf, 1), service: service}
	}
	return &Limiter{
		limiter: rate.NewLimiter(rate.Every(window/time.Duration(perWindow)), 1),
		service: service,
	}
}

// PerMinute is shorthand for NewLimiter(n, time.Minute, service).
func PerMinute(n int, service string) *Limiter {
	return NewLimiter(n, time.Minute, service)
}

// Service returns the name the limiter reports metrics under.
func (l *Limiter) Service() string {
	return l.service
}

// Wait blocks until the next slot is available, or ctx is done.
// Uses Reserve() to guarantee exactly one slot is consumed per call.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	r := l.limiter.Reserve()
	if !r.OK() {
		return fmt.Errorf("rate: cannot reserve slot for %s", l.service)
	}
	delay := r.Delay()
	if delay <= 0 {
		return nil
	}

	metrics.RateLimitWaits.WithLabelValues(l.service).Inc()
	metrics.RateLimitWaitSeconds.WithLabelValues(l.service).Observe(delay.Seconds())

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	}
}

// ClassifyError maps an upstream error into a metric status label.
func ClassifyError(err error) string {
	if err == nil {
		return "ok"
	}
	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		return "timeout"
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "429") || strings.Contains(lower, "too many requests"):
		return "rate_limited"
	case strings.Contains(lower, "execution reverted") || strings.Contains(lower, "revert"):
		return "reverted"
	case strings.Contains(lower, "500") || strings.Contains(lower, "502") || strings.Contains(lower, "503") || strings.Contains(lower, "internal server error"):
		return "server_error"
	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "connection reset") ||
		strings.Contains(lower, "network is unreachable") || strings.Contains(lower, "no such host") ||
		strings.Contains(lower, "broken pipe") || strings.Contains(lower, "eof"):
		return "network_error"
	default:
		return "client_error"
	}
}

// Package reconnect implements the Client Reconnect Manager: a
// connection state machine with exponential-backoff-with-jitter
// auto-reconnect and periodic gRPC health checks.
package reconnect

import (
	"math"
	"math/rand"
	"strings"
	"time"
)

// Config tunes reconnect backoff; defaults mirror the original client's
// ReconnectConfig.
type Config struct {
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	MaxAttempts       int // 0 = unlimited
	Jitter            bool
	Enabled           bool
}

func DefaultConfig() Config {
	return Config{
		InitialDelay:      time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
		MaxAttempts:       0,
		Jitter:            true,
		Enabled:           true,
	}
}

// DelayForAttempt computes the backoff for the given 1-based attempt
// number: initial * multiplier^(attempt-1), capped at MaxDelay, with up
// to 25% jitter added when Jitter is set.
func (c Config) DelayForAttempt(attempt int) time.Duration {
	base := c.InitialDelay.Seconds() * math.Pow(c.BackoffMultiplier, float64(attempt-1))
	capped := math.Min(base, c.MaxDelay.Seconds())
	if c.Jitter {
		capped *= 1.0 + rand.Float64()*0.25
	}
	return time.Duration(capped * float64(time.Second))
}

// ShouldReconnect reports whether another attempt is permitted.
func (c Config) ShouldReconnect(attempt int) bool {
	return c.Enabled && (c.MaxAttempts == 0 || attempt < c.MaxAttempts)
}

// HealthConfig tunes the post-connect health-check loop.
type HealthConfig struct {
	Interval         time.Duration
	FailureThreshold int
	Timeout          time.Duration
}

func DefaultHealthConfig() HealthConfig {
	return HealthConfig{Interval: 30 * time.Second, FailureThreshold: 2, Timeout: 3 * time.Second}
}

var nonRetriablePhrases = []string{
	"invalid url", "invalid uri", "invalid address", "unsupported scheme",
}

var retriablePhrases = []string{
	"transport", "connection refused", "connection reset", "timed out", "timeout",
	"network", "dns", "resolve", "unreachable", "temporarily unavailable",
}

// isRetriableError classifies a transport error by its message text,
// exactly as the original source does pending structured transport error
// codes from the daemon.
func isRetriableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, phrase := range nonRetriablePhrases {
		if strings.Contains(msg, phrase) {
			return false
		}
	}
	for _, phrase := range retriablePhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

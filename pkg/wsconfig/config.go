// Package wsconfig holds ConnectionConfig (§3), built through functional
// options and validated eagerly at construction time so a misconfigured
// connection never reaches the actor. Reading config from a file,
// searching config paths, or substituting environment variables is
// explicitly not reproduced here - that remains the caller's/launcher's
// job per §1's Non-goals; this package only defines the validated,
// in-memory shape and an optional Snapshot a caller's own file/env layer
// can unmarshal into.
//
// Grounded on the teacher's pkg/config.Config: a validate-first,
// atomic-update philosophy, with value types (not pointers) handed back
// to callers to prevent external mutation of live config.
package wsconfig

import (
	"time"

	"wsresilient/pkg/backoff"
	"wsresilient/pkg/wserrors"
)

// Endpoint identifies the remote WebSocket server.
type Endpoint struct {
	Host   string
	Port   int
	Path   string
	Secure bool
}

// Timeouts are the three durations named in §3/§6.
type Timeouts struct {
	Connect      time.Duration
	Request      time.Duration
	AwaitUpgrade time.Duration
}

// ReconnectPolicy configures the Backoff Policy and retry ceiling.
type ReconnectPolicy struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxAttempts int // 0 means unbounded
	Jitter     bool
	Kind       backoff.Kind
	ReconnectOnError bool
}

// RateLimitConfig configures the token bucket and overflow queue.
type RateLimitConfig struct {
	Capacity       int
	RefillRate     int
	RefillInterval time.Duration
	QueueLimit     int
	CostFnID       string
}

// ConnectionConfig is the immutable-after-construction configuration
// object. Build one with New; it is only ever handed out by value or as
// a pointer to an unexported copy so callers cannot mutate a live
// configuration through it.
type ConnectionConfig struct {
	Endpoint           Endpoint
	Timeouts           Timeouts
	ReconnectPolicy    ReconnectPolicy
	RateLimit          RateLimitConfig
	HandlerOptions     map[string]any
	AutoReauthenticate bool
}

// Option mutates a ConnectionConfig under construction.
type Option func(*ConnectionConfig)

func WithEndpoint(host string, port int, path string, secure bool) Option {
	return func(c *ConnectionConfig) { c.Endpoint = Endpoint{Host: host, Port: port, Path: path, Secure: secure} }
}

func WithTimeouts(connect, request, awaitUpgrade time.Duration) Option {
	return func(c *ConnectionConfig) {
		c.Timeouts = Timeouts{Connect: connect, Request: request, AwaitUpgrade: awaitUpgrade}
	}
}

func WithReconnectPolicy(policy ReconnectPolicy) Option {
	return func(c *ConnectionConfig) { c.ReconnectPolicy = policy }
}

func WithRateLimit(rl RateLimitConfig) Option {
	return func(c *ConnectionConfig) { c.RateLimit = rl }
}

func WithHandlerOptions(kind string, opts any) Option {
	return func(c *ConnectionConfig) {
		if c.HandlerOptions == nil {
			c.HandlerOptions = make(map[string]any)
		}
		c.HandlerOptions[kind] = opts
	}
}

func WithAutoReauthenticate(enabled bool) Option {
	return func(c *ConnectionConfig) { c.AutoReauthenticate = enabled }
}

// New builds and validates a ConnectionConfig. Defaults are applied
// before options run, matching the teacher's model-defaults-then-
// override pattern.
func New(opts ...Option) (ConnectionConfig, error) {
	cfg := defaults()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := Validate(cfg); err != nil {
		return ConnectionConfig{}, err
	}
	return cfg, nil
}

func defaults() ConnectionConfig {
	return ConnectionConfig{
		Timeouts: Timeouts{
			Connect:      10 * time.Second,
			Request:      30 * time.Second,
			AwaitUpgrade: 10 * time.Second,
		},
		ReconnectPolicy: ReconnectPolicy{
			BaseDelay:        100 * time.Millisecond,
			MaxDelay:         30 * time.Second,
			MaxAttempts:      0,
			Jitter:           true,
			Kind:             backoff.Jittered,
			ReconnectOnError: true,
		},
		RateLimit: RateLimitConfig{
			Capacity:       100,
			RefillRate:     100,
			RefillInterval: time.Second,
			QueueLimit:     1000,
		},
	}
}

// Validate enforces §7's ConfigError conditions: invalid URL (empty
// host), non-positive timeouts, non-positive refill, negative retry
// count.
func Validate(cfg ConnectionConfig) error {
	if cfg.Endpoint.Host == "" {
		return wserrors.NewConfigError("invalid_url", nil)
	}
	if cfg.Endpoint.Port <= 0 {
		return wserrors.NewConfigError("invalid_url", nil)
	}
	if cfg.Timeouts.Connect <= 0 || cfg.Timeouts.Request <= 0 || cfg.Timeouts.AwaitUpgrade <= 0 {
		return wserrors.NewConfigError("non_positive_timeout", nil)
	}
	if cfg.ReconnectPolicy.BaseDelay <= 0 {
		return wserrors.NewConfigError("non_positive_retry_delay", nil)
	}
	if cfg.ReconnectPolicy.MaxDelay <= 0 {
		return wserrors.NewConfigError("non_positive_max_backoff", nil)
	}
	if cfg.ReconnectPolicy.MaxAttempts < 0 {
		return wserrors.NewConfigError("negative_retry_count", nil)
	}
	if cfg.RateLimit.RefillInterval <= 0 && cfg.RateLimit.RefillRate > 0 {
		return wserrors.NewConfigError("non_positive_refill_interval", nil)
	}
	if cfg.RateLimit.Capacity < 0 || cfg.RateLimit.QueueLimit < 0 {
		return wserrors.NewConfigError("negative_rate_limit_bound", nil)
	}
	return nil
}

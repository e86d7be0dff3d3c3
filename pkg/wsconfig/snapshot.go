package wsconfig

import (
	"time"

	"wsresilient/pkg/backoff"
)

// Snapshot is a plain-data mirror of ConnectionConfig carrying json and
// yaml struct tags, for callers who already loaded bytes through their
// own file/env layer and want to json.Unmarshal or yaml.Unmarshal
// straight into it before calling FromSnapshot. This package does not
// read files or search config paths itself (see package doc).
type Snapshot struct {
	Endpoint struct {
		Host   string `json:"host"   yaml:"host"`
		Port   int    `json:"port"   yaml:"port"`
		Path   string `json:"path"   yaml:"path"`
		Secure bool   `json:"secure" yaml:"secure"`
	} `json:"endpoint" yaml:"endpoint"`

	Timeouts struct {
		Connect      time.Duration `json:"connect"       yaml:"connect"`
		Request      time.Duration `json:"request"       yaml:"request"`
		AwaitUpgrade time.Duration `json:"await_upgrade"  yaml:"await_upgrade"`
	} `json:"timeouts" yaml:"timeouts"`

	ReconnectPolicy struct {
		BaseDelay        time.Duration `json:"base_delay"         yaml:"base_delay"`
		MaxDelay         time.Duration `json:"max_delay"          yaml:"max_delay"`
		MaxAttempts      int           `json:"max_attempts"       yaml:"max_attempts"`
		Jitter           bool          `json:"jitter"             yaml:"jitter"`
		Kind             string        `json:"backoff_kind"       yaml:"backoff_kind"`
		ReconnectOnError bool          `json:"reconnect_on_error" yaml:"reconnect_on_error"`
	} `json:"reconnect_policy" yaml:"reconnect_policy"`

	RateLimit struct {
		Capacity       int           `json:"capacity"        yaml:"capacity"`
		RefillRate     int           `json:"refill_rate"     yaml:"refill_rate"`
		RefillInterval time.Duration `json:"refill_interval" yaml:"refill_interval"`
		QueueLimit     int           `json:"queue_limit"     yaml:"queue_limit"`
		CostFnID       string        `json:"cost_fn_id"      yaml:"cost_fn_id"`
	} `json:"rate_limit" yaml:"rate_limit"`

	AutoReauthenticate bool `json:"auto_reauthenticate" yaml:"auto_reauthenticate"`
}

// FromSnapshot converts a decoded Snapshot into a validated
// ConnectionConfig.
func FromSnapshot(s Snapshot) (ConnectionConfig, error) {
	kind := backoffKindFromString(s.ReconnectPolicy.Kind)
	return New(
		WithEndpoint(s.Endpoint.Host, s.Endpoint.Port, s.Endpoint.Path, s.Endpoint.Secure),
		WithTimeouts(s.Timeouts.Connect, s.Timeouts.Request, s.Timeouts.AwaitUpgrade),
		WithReconnectPolicy(ReconnectPolicy{
			BaseDelay:        s.ReconnectPolicy.BaseDelay,
			MaxDelay:         s.ReconnectPolicy.MaxDelay,
			MaxAttempts:      s.ReconnectPolicy.MaxAttempts,
			Jitter:           s.ReconnectPolicy.Jitter,
			Kind:             kind,
			ReconnectOnError: s.ReconnectPolicy.ReconnectOnError,
		}),
		WithRateLimit(RateLimitConfig{
			Capacity:       s.RateLimit.Capacity,
			RefillRate:     s.RateLimit.RefillRate,
			RefillInterval: s.RateLimit.RefillInterval,
			QueueLimit:     s.RateLimit.QueueLimit,
			CostFnID:       s.RateLimit.CostFnID,
		}),
		WithAutoReauthenticate(s.AutoReauthenticate),
	)
}

func backoffKindFromString(s string) backoff.Kind {
	switch s {
	case "linear":
		return backoff.Linear
	case "exponential":
		return backoff.Exponential
	default:
		return backoff.Jittered
	}
}

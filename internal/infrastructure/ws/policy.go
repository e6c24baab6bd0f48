package ws

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds automatic reconnection. The zero delay fields fall back to
// the defaults; MaxAttempts <= 0 disables reconnection.
type RetryPolicy struct {
	MaxAttempts int           `koanf:"max_attempts" validate:"gte=0"`
	Delay       time.Duration `koanf:"delay" validate:"gte=0"`
	Exponential bool          `koanf:"exponential"`
	MaxDelay    time.Duration `koanf:"max_delay" validate:"gte=0"`
	Multiplier  float64       `koanf:"multiplier" validate:"gte=0"`
	Jitter      float64       `koanf:"jitter" validate:"gte=0,lte=1"`
}

const (
	DefaultMaxAttempts = 5
	DefaultDelay       = 3 * time.Second
)

// DefaultRetryPolicy is five attempts at a fixed three second delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: DefaultMaxAttempts, Delay: DefaultDelay}
}

// NewBackOff returns a fresh delay sequence for one outage.
func (p RetryPolicy) NewBackOff() backoff.BackOff {
	delay := p.Delay
	if delay <= 0 {
		delay = DefaultDelay
	}
	if !p.Exponential {
		return backoff.NewConstantBackOff(delay)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = delay
	b.RandomizationFactor = p.Jitter
	if p.Multiplier > 1 {
		b.Multiplier = p.Multiplier
	}
	if p.MaxDelay > 0 {
		b.MaxInterval = p.MaxDelay
	}
	b.Reset()
	return b
}

// Package backoff computes retry delays.
//
// Delays are capped at the configured maximum before jitter is added, and
// jitter is only ever added, so the actual wait lies in
// [delay, MaxDelay*(1+JitterFactor)].
package backoff

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Strategy selects how the delay grows with the attempt number.
type Strategy string

const (
	Exponential Strategy = "exponential"
	Linear      Strategy = "linear"
	Fixed       Strategy = "fixed"
	Fibonacci   Strategy = "fibonacci"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid backoff config")

// Config holds the inputs of the delay calculation.
type Config struct {
	Strategy     Strategy      `yaml:"strategy"      json:"strategy"`
	BaseDelay    time.Duration `yaml:"base_delay"    json:"base_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"     json:"max_delay"` // 0 = uncapped
	Multiplier   float64       `yaml:"multiplier"    json:"multiplier"` // exponential only, 0 = 2
	JitterFactor float64       `yaml:"jitter_factor" json:"jitter_factor"`
}

// Validate rejects negative inputs and out-of-range jitter.
func (c Config) Validate() error {
	if c.BaseDelay < 0 || c.MaxDelay < 0 {
		return fmt.Errorf("%w: negative delay", ErrInvalidConfig)
	}
	if c.Multiplier < 0 {
		return fmt.Errorf("%w: negative multiplier", ErrInvalidConfig)
	}
	if c.JitterFactor < 0 || c.JitterFactor > 1 {
		return fmt.Errorf("%w: jitter factor %v outside [0,1]", ErrInvalidConfig, c.JitterFactor)
	}
	switch c.Strategy {
	case "", Exponential, Linear, Fixed, Fibonacci:
	default:
		return fmt.Errorf("%w: unknown strategy %q", ErrInvalidConfig, c.Strategy)
	}
	return nil
}

// Base returns the capped delay for attempt (1-based) without jitter.
func Base(c Config, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	base := float64(c.BaseDelay)
	var d float64
	switch c.Strategy {
	case Linear:
		d = base * float64(attempt)
	case Fixed:
		d = base
	case Fibonacci:
		d = base * fib(attempt)
	default:
		mult := c.Multiplier
		if mult == 0 {
			mult = 2
		}
		d = base * math.Pow(mult, float64(attempt-1))
	}

	if c.MaxDelay > 0 && d > float64(c.MaxDelay) {
		return c.MaxDelay
	}
	if math.IsNaN(d) || d >= float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Delay returns Base plus jitter, where r is a sample in [0,1).
func Delay(c Config, attempt int, r float64) time.Duration {
	d := Base(c, attempt)
	j := Jitter(d, c.JitterFactor, r)
	if d > time.Duration(math.MaxInt64)-j {
		return time.Duration(math.MaxInt64)
	}
	return d + j
}

// Jitter returns d*factor*r.
func Jitter(d time.Duration, factor, r float64) time.Duration {
	if factor <= 0 || r <= 0 {
		return 0
	}
	j := float64(d) * factor * r
	if j >= float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(j)
}

// Calculator applies Delay with a random source.
type Calculator struct {
	rand func() float64
}

// NewCalculator creates a calculator. A nil source uses math/rand/v2.
func NewCalculator(source func() float64) *Calculator {
	if source == nil {
		source = rand.Float64
	}
	return &Calculator{rand: source}
}

// Next returns the jittered delay for attempt.
func (c *Calculator) Next(cfg Config, attempt int) time.Duration {
	return Delay(cfg, attempt, c.rand())
}

func fib(n int) float64 {
	a, b := 1.0, 1.0
	for i := 2; i < n; i++ {
		a, b = b, a+b
		if math.IsInf(b, 0) {
			return b
		}
	}
	if n <= 2 {
		return 1
	}
	return b
}

package retry

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// StrategyType selects how the delay between attempts evolves.
type StrategyType string

const (
	StrategyConstantDelay      StrategyType = "constant_delay"
	StrategyExponentialBackoff StrategyType = "exponential_backoff"
)

const (
	// DefaultDelayMs is the first (or only) delay when a strategy omits it.
	DefaultDelayMs = 200
	// DefaultMultiplier is the exponential growth factor when a strategy omits it.
	DefaultMultiplier = 1.5
	// DefaultMaxDelayMs caps exponential delays when a strategy omits it.
	DefaultMaxDelayMs = 10000
)

// Strategy describes the delay between attempts.
type Strategy struct {
	Type       StrategyType `yaml:"type"`
	DelayMs    int          `yaml:"delay_ms"`
	Multiplier float64      `yaml:"multiplier"`
	MaxDelayMs int          `yaml:"max_delay_ms"`
}

// Policy is a named retry policy. A call is attempted at most MaxRetries+1 times.
type Policy struct {
	Name       string   `yaml:"-"`
	MaxRetries int      `yaml:"max_retries"`
	Strategy   Strategy `yaml:"strategy"`
}

// WithDefaults returns a copy of p with omitted strategy fields filled in.
func (p Policy) WithDefaults() Policy {
	if p.Strategy.Type == "" {
		p.Strategy.Type = StrategyConstantDelay
	}
	if p.Strategy.DelayMs == 0 {
		p.Strategy.DelayMs = DefaultDelayMs
	}
	if p.Strategy.Type == StrategyExponentialBackoff {
		if p.Strategy.Multiplier == 0 {
			p.Strategy.Multiplier = DefaultMultiplier
		}
		if p.Strategy.MaxDelayMs == 0 {
			p.Strategy.MaxDelayMs = DefaultMaxDelayMs
		}
	}
	return p
}

// Validate checks that the policy can build a backoff.
func (p Policy) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("retry policy name is required")
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("retry policy %s: max_retries must not be negative", p.Name)
	}
	if p.Strategy.DelayMs < 0 || p.Strategy.MaxDelayMs < 0 {
		return fmt.Errorf("retry policy %s: delays must not be negative", p.Name)
	}
	switch p.Strategy.Type {
	case StrategyConstantDelay:
	case StrategyExponentialBackoff:
		if p.Strategy.Multiplier < 1 {
			return fmt.Errorf("retry policy %s: multiplier must be at least 1", p.Name)
		}
	default:
		return fmt.Errorf("retry policy %s: unknown strategy %q", p.Name, p.Strategy.Type)
	}
	return nil
}

// NewBackOff creates a fresh backoff for one logical call. Delays are not
// randomized and there is no elapsed-time limit; only MaxRetries bounds it.
func (p Policy) NewBackOff() backoff.BackOff {
	delay := time.Duration(p.Strategy.DelayMs) * time.Millisecond

	var b backoff.BackOff
	switch p.Strategy.Type {
	case StrategyExponentialBackoff:
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = delay
		eb.Multiplier = p.Strategy.Multiplier
		eb.RandomizationFactor = 0
		eb.MaxInterval = time.Duration(p.Strategy.MaxDelayMs) * time.Millisecond
		eb.MaxElapsedTime = 0
		eb.Reset()
		b = eb
	default:
		b = backoff.NewConstantBackOff(delay)
	}
	return backoff.WithMaxRetries(b, uint64(p.MaxRetries))
}

package backoff

import "time"

// Calculator binds a Strategy to a fixed set of backoff parameters so callers
// only supply the attempt number.
type Calculator struct {
	strategy   Strategy
	initial    time.Duration
	max        time.Duration
	multiplier float64
	jitter     float64
}

// NewCalculator returns a calculator using the given strategy and parameters.
func NewCalculator(strategy Strategy, initial, max time.Duration, multiplier, jitter float64) *Calculator {
	return &Calculator{
		strategy:   strategy,
		initial:    initial,
		max:        max,
		multiplier: multiplier,
		jitter:     jitter,
	}
}

// Delay computes the backoff duration for the given attempt.
func (c *Calculator) Delay(attempt int) time.Duration {
	return c.strategy.Calculate(attempt, c.initial, c.max, c.multiplier, c.jitter)
}

// Ceiling computes the delay with jitter forced off, the upper bound used by
// tests asserting expected growth.
func (c *Calculator) Ceiling(attempt int) time.Duration {
	return c.strategy.Calculate(attempt, c.initial, c.max, c.multiplier, 0)
}

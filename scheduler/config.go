// scheduler/config.go
package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/deploymenttheory/go-api-admission-scheduler/ratehandler"
)

// DefaultMaxWait is the total queue-plus-retry budget of an item submitted without a deadline.
const DefaultMaxWait = 2 * time.Minute

// Config holds the scheduler's injected configuration.
type Config struct {
	// Capacity is the maximum number of simultaneous backend invocations.
	Capacity int

	// MaxRetries caps the number of retries per item. Zero selects the default and a
	// negative value disables retries.
	MaxRetries int

	// BaseDelay and MaxDelay shape the exponential backoff with full jitter.
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// DefaultMaxWait is the deadline budget applied when Submit is given a zero deadline.
	DefaultMaxWait time.Duration

	// QueueLimit bounds the number of queued items. Zero means unbounded.
	QueueLimit int
}

// SetDefaultValues fills zero fields with their defaults.
func (c *Config) SetDefaultValues() {
	if c.MaxRetries == 0 {
		c.MaxRetries = ratehandler.DefaultMaxRetries
	}
	if c.BaseDelay == 0 {
		c.BaseDelay = ratehandler.DefaultBaseDelay
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = ratehandler.DefaultMaxDelay
	}
	if c.DefaultMaxWait == 0 {
		c.DefaultMaxWait = DefaultMaxWait
	}
}

// Validate checks the configuration for values the scheduler cannot work with.
func (c Config) Validate() error {
	if c.Capacity < 1 {
		return fmt.Errorf("capacity must be at least 1, got %d", c.Capacity)
	}
	if c.BaseDelay < 0 || c.MaxDelay < 0 {
		return errors.New("backoff delays cannot be negative")
	}
	if c.MaxDelay < c.BaseDelay {
		return fmt.Errorf("max delay %s is below base delay %s", c.MaxDelay, c.BaseDelay)
	}
	if c.DefaultMaxWait < 0 {
		return errors.New("default max wait cannot be negative")
	}
	if c.QueueLimit < 0 {
		return errors.New("queue limit cannot be negative")
	}
	return nil
}

// policy returns the retry policy described by the configuration.
func (c Config) policy() ratehandler.Policy {
	retries := c.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return ratehandler.Policy{BaseDelay: c.BaseDelay, MaxDelay: c.MaxDelay, MaxRetries: retries}
}

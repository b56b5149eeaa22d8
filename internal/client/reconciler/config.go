package reconciler

import "time"

// Config tunes the reconciler. Zero values are replaced by defaults.
type Config struct {
	BatchSize    int
	Interval     time.Duration
	PushTimeout  time.Duration
	PullTimeout  time.Duration
	PushAttempts int
	BackoffMin   time.Duration
	BackoffMax   time.Duration
	// ResyncInterval schedules periodic full resyncs. Zero disables them.
	ResyncInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		BatchSize:    50,
		Interval:     5 * time.Second,
		PushTimeout:  10 * time.Second,
		PullTimeout:  30 * time.Second,
		PushAttempts: 3,
		BackoffMin:   time.Second,
		BackoffMax:   60 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.PushTimeout <= 0 {
		c.PushTimeout = d.PushTimeout
	}
	if c.PullTimeout <= 0 {
		c.PullTimeout = d.PullTimeout
	}
	if c.PushAttempts <= 0 {
		c.PushAttempts = d.PushAttempts
	}
	if c.BackoffMin <= 0 {
		c.BackoffMin = d.BackoffMin
	}
	if c.BackoffMax < c.BackoffMin {
		c.BackoffMax = d.BackoffMax
		if c.BackoffMax < c.BackoffMin {
			c.BackoffMax = c.BackoffMin
		}
	}
	return c
}

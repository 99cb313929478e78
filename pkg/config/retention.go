package config

import "time"

// Built-in retention defaults.
const (
	DefaultIdleSessionTimeout = 24 * time.Hour
	DefaultCleanupInterval    = 5 * time.Minute
	DefaultCleanupBatch       = 100
)

// RetentionConfig controls the background job that closes abandoned
// conversations.
type RetentionConfig struct {
	// IdleSessionTimeout ends active sessions with no activity for this
	// long, with resolution "timeout". Negative disables the job.
	IdleSessionTimeout time.Duration `yaml:"idle_session_timeout,omitempty"`

	// CleanupInterval is how often idle sessions are looked for.
	CleanupInterval time.Duration `yaml:"cleanup_interval,omitempty"`

	// CleanupBatch caps the sessions closed per run.
	CleanupBatch int `yaml:"cleanup_batch,omitempty" validate:"min=0"`
}

// Enabled reports whether idle sessions should be closed.
func (c *RetentionConfig) Enabled() bool {
	return c.IdleSessionTimeout > 0 && c.CleanupInterval > 0
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		IdleSessionTimeout: DefaultIdleSessionTimeout,
		CleanupInterval:    DefaultCleanupInterval,
		CleanupBatch:       DefaultCleanupBatch,
	}
}

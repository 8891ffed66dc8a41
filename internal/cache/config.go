package cache

import "time"

// Config holds cache TTL configuration
type Config struct {
	ProfileTTL         time.Duration
	ProfileNotFoundTTL time.Duration
	EventTTL           time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		ProfileTTL:         1 * time.Hour,    // Profiles rarely change hourly
		ProfileNotFoundTTL: 30 * time.Second, // Short TTL so missing profiles retry soon
		EventTTL:           10 * time.Minute,
	}
}

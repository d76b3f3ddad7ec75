package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Turn processing limits
const (
	// TokenCeiling is the hard limit on estimated prompt tokens per turn.
	// A history at or above this is refused before any money is spent.
	TokenCeiling = 16000

	// AssumedReplyTokens is the completion allowance assumed by the balance
	// pre-check before the real usage is known.
	AssumedReplyTokens = 50
)

// FlaggedSessionLimit is the number of flagged sessions a user may accumulate
// before all their chat connections are refused.
const FlaggedSessionLimit = 3

// Background job intervals
const JanitorInterval = 5 * time.Minute

// Default rate limiting
const DefaultRateLimitPerMin = 60

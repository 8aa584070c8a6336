package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 10
	DBMaxIdleConns    = 2
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database and redis ping timeout at startup
const PingTimeout = 5 * time.Second

// OAuth session handling
const (
	TokenExpirySkew    = 60 * time.Second
	PendingAuthMaxAge  = 10 * time.Minute
	CodeVerifierLength = 128
	StateLength        = 32
	BroadcastSourceID  = "CanvasAuthProvider"
	StorageScope       = "canvas-todo"
)

// Outbound call timeouts
const (
	TokenExchangeTimeout = 15 * time.Second
	CanvasRequestTimeout = 20 * time.Second
	RefreshCycleTimeout  = 30 * time.Second
)

// Default rate limiting
const DefaultRateLimitPerMin = 60

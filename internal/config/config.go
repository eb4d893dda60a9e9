package config

import (
	"os"
	"strconv"
	"time"
)

// Config carries every externally tunable knob of the sync core. Nothing
// in the components below reads the environment directly; main loads this
// once and passes it down.
type Config struct {
	// ChannelURL is the websocket endpoint of the remote authority.
	ChannelURL string
	// RemoteBaseURL is the REST base URL used by reconciliation.
	RemoteBaseURL string

	// AuthToken and UserID identify the local user. An empty UserID (or a
	// guest-marked one) means reconciliation stays silent.
	AuthToken string
	UserID    string

	// AckTimeout bounds the wait for a live-delivery acknowledgment.
	AckTimeout time.Duration
	// ReconnectDelay is the initial reconnect delay; it doubles per failed
	// attempt up to ReconnectDelayMax.
	ReconnectDelay    time.Duration
	ReconnectDelayMax time.Duration
	// ReconnectMaxAttempts caps reconnect attempts; 0 means unbounded.
	ReconnectMaxAttempts int

	// FlushInterval is the period between reconciliation passes.
	FlushInterval time.Duration

	DBPath     string
	ListenAddr string
}

// Load reads configuration from the environment, falling back to defaults
// suitable for local development.
func Load() Config {
	return Config{
		ChannelURL:           envStr("MATCHSYNC_CHANNEL_URL", "ws://localhost:4000/ws"),
		RemoteBaseURL:        envStr("MATCHSYNC_API_BASE_URL", "http://localhost:4000/api"),
		AuthToken:            os.Getenv("MATCHSYNC_AUTH_TOKEN"),
		UserID:               os.Getenv("MATCHSYNC_USER_ID"),
		AckTimeout:           envDur("MATCHSYNC_ACK_TIMEOUT", 5*time.Second),
		ReconnectDelay:       envDur("MATCHSYNC_RECONNECT_DELAY", 500*time.Millisecond),
		ReconnectDelayMax:    envDur("MATCHSYNC_RECONNECT_DELAY_MAX", 10*time.Second),
		ReconnectMaxAttempts: envInt("MATCHSYNC_RECONNECT_MAX_ATTEMPTS", 0),
		FlushInterval:        envDur("MATCHSYNC_FLUSH_INTERVAL", time.Minute),
		DBPath:               envStr("MATCHSYNC_DB_PATH", "matchsync.db"),
		ListenAddr:           envStr("MATCHSYNC_LISTEN_ADDR", ":8080"),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// Package config builds the server configuration from environment variables
// so main stays lean.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// RegistryCacheTTL bounds how long registry reads may be served from cache.
var RegistryCacheTTL = 5 * time.Minute

// Server is the full process configuration.
type Server struct {
	Addr          string
	JWTSigningKey string
	JWTIssuer     string
	JWTAudience   string

	// GenesisID is the network identity bound into approved-withdrawal
	// payloads. Two deployments must never share one.
	GenesisID string

	// DatabaseURL switches persistence to postgres when set; empty runs the
	// in-memory stores.
	DatabaseURL string

	Redis RedisConfig

	// KafkaBrokers enables the streaming audit sink when non-empty.
	KafkaBrokers []string
	KafkaTopic   string

	// Role bootstrap. Owner is required; settler and pauser may be assigned
	// later through the admin surface.
	OwnerAddress     string
	SettlerAddress   string
	SettlerPublicKey string // hex-encoded ed25519 key
	PauserAddress    string
	MasterAddress    string

	// MasterSeed funds the master holding account at startup so it can carry
	// opt-in minimums.
	MasterSeed uint64

	WithdrawalWaitTime time.Duration
}

// RedisConfig configures the optional registry read cache.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// FromEnv reads the configuration. Missing optional values get development
// defaults; production deployments override them.
func FromEnv() Server {
	cfg := Server{
		Addr:               envOr("CARDVAULT_ADDR", ":8080"),
		JWTSigningKey:      envOr("CARDVAULT_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		JWTIssuer:          envOr("CARDVAULT_JWT_ISSUER", "cardvault"),
		JWTAudience:        envOr("CARDVAULT_JWT_AUDIENCE", "cardvault-api"),
		GenesisID:          envOr("CARDVAULT_GENESIS_ID", "cardvault-dev-v1"),
		DatabaseURL:        os.Getenv("CARDVAULT_DATABASE_URL"),
		KafkaTopic:         envOr("CARDVAULT_KAFKA_TOPIC", "cardvault.audit"),
		OwnerAddress:       os.Getenv("CARDVAULT_OWNER_ADDRESS"),
		SettlerAddress:     os.Getenv("CARDVAULT_SETTLER_ADDRESS"),
		SettlerPublicKey:   os.Getenv("CARDVAULT_SETTLER_PUBKEY"),
		PauserAddress:      os.Getenv("CARDVAULT_PAUSER_ADDRESS"),
		MasterAddress:      os.Getenv("CARDVAULT_MASTER_ADDRESS"),
		MasterSeed:         envUint("CARDVAULT_MASTER_SEED", 10_000_000),
		WithdrawalWaitTime: envDuration("CARDVAULT_WITHDRAWAL_WAIT", 24*time.Hour),
		Redis: RedisConfig{
			URL:          os.Getenv("CARDVAULT_REDIS_URL"),
			PoolSize:     int(envUint("CARDVAULT_REDIS_POOL_SIZE", 10)),
			MinIdleConns: int(envUint("CARDVAULT_REDIS_MIN_IDLE", 2)),
			DialTimeout:  envDuration("CARDVAULT_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("CARDVAULT_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("CARDVAULT_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
	}
	if brokers := os.Getenv("CARDVAULT_KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envUint(key string, fallback uint64) uint64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseUint(v, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func splitAndTrim(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

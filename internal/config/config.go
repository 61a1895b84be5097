// internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config carries every tunable of the matchmaking service. Values come from
// the environment (optionally seeded by a .env file) and command-line flags.
type Config struct {
	Port        string
	RedisAddr   string
	RedisDB     int
	DatabaseURL string
	LogLevel    string

	// MaxJoiners is the joiner capacity of a single lobby.
	MaxJoiners int
	// AvgMatchSeconds is the empirical duration of one admission round used
	// by the ETA heuristic.
	AvgMatchSeconds int

	HeartbeatTTL         time.Duration
	SweepInterval        time.Duration
	ArchiveGrace         time.Duration
	ArchivePurgeInterval time.Duration
	SessionPurgeInterval time.Duration

	PresenceTokenTTL time.Duration
	PublicWSURL      string
	// PresenceKeyPath and PresencePubKeyPath name a raw ed25519 key pair
	// shared by all instances. When unset each process generates its own.
	PresenceKeyPath    string
	PresencePubKeyPath string

	// BootstrapSchema creates the sessions table on start. The table belongs
	// to the login service, so this is off outside local setups.
	BootstrapSchema bool
}

// Keys shared between viper, the environment and cobra flags.
const (
	KeyPort                 = "port"
	KeyRedisAddr            = "redis_addr"
	KeyRedisDB              = "redis_db"
	KeyDatabaseURL          = "database_url"
	KeyLogLevel             = "log_level"
	KeyMaxJoiners           = "max_joiners"
	KeyAvgMatchSeconds      = "avg_match_seconds"
	KeyHeartbeatTTL         = "heartbeat_ttl"
	KeySweepInterval        = "sweep_interval"
	KeyArchiveGrace         = "archive_grace"
	KeyArchivePurgeInterval = "archive_purge_interval"
	KeySessionPurgeInterval = "cleanup_interval"
	KeyPresenceTokenTTL     = "presence_token_ttl"
	KeyPublicWSURL          = "public_ws_url"
	KeyPresenceKeyPath      = "presence_key_path"
	KeyPresencePubKeyPath   = "presence_pub_key_path"
	KeyBootstrapSchema      = "bootstrap_schema"
)

// SetDefaults registers the default for every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyPort, "8080")
	v.SetDefault(KeyRedisAddr, "localhost:6379")
	v.SetDefault(KeyRedisDB, 0)
	v.SetDefault(KeyDatabaseURL, "")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyMaxJoiners, 4)
	v.SetDefault(KeyAvgMatchSeconds, 10)
	v.SetDefault(KeyHeartbeatTTL, 20*time.Second)
	v.SetDefault(KeySweepInterval, 20*time.Second)
	v.SetDefault(KeyArchiveGrace, 5*time.Minute)
	v.SetDefault(KeyArchivePurgeInterval, time.Minute)
	v.SetDefault(KeySessionPurgeInterval, 5*time.Minute)
	v.SetDefault(KeyPresenceTokenTTL, 10*time.Minute)
	v.SetDefault(KeyPublicWSURL, "ws://localhost:8080")
	v.SetDefault(KeyPresenceKeyPath, "")
	v.SetDefault(KeyPresencePubKeyPath, "")
	v.SetDefault(KeyBootstrapSchema, false)
}

// New returns a viper instance wired to the environment with defaults set.
// Environment names are the upper-cased keys, e.g. REDIS_ADDR.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load reads a Config out of v and validates it.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Port:                 v.GetString(KeyPort),
		RedisAddr:            v.GetString(KeyRedisAddr),
		RedisDB:              v.GetInt(KeyRedisDB),
		DatabaseURL:          v.GetString(KeyDatabaseURL),
		LogLevel:             v.GetString(KeyLogLevel),
		MaxJoiners:           v.GetInt(KeyMaxJoiners),
		AvgMatchSeconds:      v.GetInt(KeyAvgMatchSeconds),
		HeartbeatTTL:         v.GetDuration(KeyHeartbeatTTL),
		SweepInterval:        v.GetDuration(KeySweepInterval),
		ArchiveGrace:         v.GetDuration(KeyArchiveGrace),
		ArchivePurgeInterval: v.GetDuration(KeyArchivePurgeInterval),
		SessionPurgeInterval: v.GetDuration(KeySessionPurgeInterval),
		PresenceTokenTTL:     v.GetDuration(KeyPresenceTokenTTL),
		PublicWSURL:          v.GetString(KeyPublicWSURL),
		PresenceKeyPath:      v.GetString(KeyPresenceKeyPath),
		PresencePubKeyPath:   v.GetString(KeyPresencePubKeyPath),
		BootstrapSchema:      v.GetBool(KeyBootstrapSchema),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the matchmaking algorithms cannot work with.
func (c *Config) Validate() error {
	if c.MaxJoiners <= 0 {
		return fmt.Errorf("max_joiners must be positive, got %d", c.MaxJoiners)
	}
	if c.AvgMatchSeconds <= 0 {
		return fmt.Errorf("avg_match_seconds must be positive, got %d", c.AvgMatchSeconds)
	}
	durations := map[string]time.Duration{
		KeyHeartbeatTTL:         c.HeartbeatTTL,
		KeySweepInterval:        c.SweepInterval,
		KeyArchiveGrace:         c.ArchiveGrace,
		KeyArchivePurgeInterval: c.ArchivePurgeInterval,
		KeySessionPurgeInterval: c.SessionPurgeInterval,
		KeyPresenceTokenTTL:     c.PresenceTokenTTL,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if (c.PresenceKeyPath == "") != (c.PresencePubKeyPath == "") {
		return fmt.Errorf("%s and %s must be set together", KeyPresenceKeyPath, KeyPresencePubKeyPath)
	}
	if c.RedisAddr == "" {
		return fmt.Errorf("%s is required", KeyRedisAddr)
	}
	return nil
}

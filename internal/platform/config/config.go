// Package config loads process configuration from environment variables and an
// optional config file. Environment variables use the MICROCRED_ prefix; a few
// historical names (PORT, ISSUER_PRIVATE_KEY, DATABASE_URL, REDIS_URL) are
// accepted as aliases.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	strutil "microcred/pkg/platform/strings"
)

const envPrefix = "MICROCRED"

// Store drivers.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Ledger modes.
const (
	LedgerSolana = "solana"
	LedgerMemory = "memory"
)

// DefaultLedgerRPCURL is the public Solana test network.
const DefaultLedgerRPCURL = "https://api.devnet.solana.com"

// Config is the root configuration handed to the composition root.
type Config struct {
	Server      Server
	Log         LogConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Ledger      LedgerConfig
	Kafka       KafkaConfig
	Idempotency IdempotencyConfig
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr               string
	RequestTimeout     time.Duration
	ShutdownTimeout    time.Duration
	CORSAllowedOrigins []string
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string
	Format string
}

// DatabaseConfig selects and configures the record store backend.
type DatabaseConfig struct {
	Driver           string
	URL              string
	SQLitePath       string
	AutoMigrate      bool
	CredentialsTable string
	UsersTable       string
	MaxOpenConns     int
}

// RedisConfig configures the optional Redis client. An empty URL disables Redis.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// LedgerConfig configures the ledger client and the issuer identity.
type LedgerConfig struct {
	Mode             string
	RPCURL           string
	CallTimeout      time.Duration
	ConfirmPoll      time.Duration
	IssuerPrivateKey string
	// BreakerThreshold consecutive unavailable or timed out calls open the
	// breaker for BreakerCooldown. Zero, the default, disables it.
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// KafkaConfig configures the optional audit sink. No brokers disables it.
type KafkaConfig struct {
	Brokers    []string
	AuditTopic string
}

// IdempotencyConfig bounds how long issuance reservations are remembered.
type IdempotencyConfig struct {
	TTL time.Duration
}

// Load builds a Config from the environment and, when MICROCRED_CONFIG_FILE is
// set, from that file. Environment values win over file values.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindAliases(v); err != nil {
		return nil, err
	}

	if path := v.GetString("config_file"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %q: %w", path, err)
		}
	}

	addr := v.GetString("addr")
	if addr == "" {
		port := v.GetString("port")
		if port == "" {
			port = "3001"
		}
		addr = ":" + port
	}

	cfg := &Config{
		Server: Server{
			Addr:               addr,
			RequestTimeout:     v.GetDuration("request_timeout"),
			ShutdownTimeout:    v.GetDuration("shutdown_timeout"),
			CORSAllowedOrigins: strutil.SplitList(v.GetString("cors_allowed_origins")),
		},
		Log: LogConfig{
			Level:  strings.ToLower(v.GetString("log_level")),
			Format: strings.ToLower(v.GetString("log_format")),
		},
		Database: DatabaseConfig{
			Driver:           strings.ToLower(v.GetString("store_driver")),
			URL:              v.GetString("database_url"),
			SQLitePath:       v.GetString("sqlite_path"),
			AutoMigrate:      v.GetBool("db_auto_migrate"),
			CredentialsTable: strings.TrimSpace(v.GetString("table_credentials")),
			UsersTable:       strings.TrimSpace(v.GetString("table_users")),
			MaxOpenConns:     v.GetInt("db_max_open_conns"),
		},
		Redis: RedisConfig{
			URL:          v.GetString("redis_url"),
			PoolSize:     v.GetInt("redis_pool_size"),
			MinIdleConns: v.GetInt("redis_min_idle_conns"),
			DialTimeout:  v.GetDuration("redis_dial_timeout"),
			ReadTimeout:  v.GetDuration("redis_read_timeout"),
			WriteTimeout: v.GetDuration("redis_write_timeout"),
		},
		Ledger: LedgerConfig{
			Mode:             strings.ToLower(v.GetString("ledger_mode")),
			RPCURL:           v.GetString("ledger_rpc_url"),
			CallTimeout:      v.GetDuration("ledger_call_timeout"),
			ConfirmPoll:      v.GetDuration("ledger_confirm_poll"),
			IssuerPrivateKey: v.GetString("issuer_private_key"),
			BreakerThreshold: v.GetInt("ledger_breaker_threshold"),
			BreakerCooldown:  v.GetDuration("ledger_breaker_cooldown"),
		},
		Kafka: KafkaConfig{
			Brokers:    strutil.SplitList(v.GetString("kafka_brokers")),
			AuditTopic: v.GetString("kafka_audit_topic"),
		},
		Idempotency: IdempotencyConfig{
			TTL: v.GetDuration("idempotency_ttl"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the composition root cannot wire.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case StoreMemory, StoreSQLite:
	case StorePostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("store driver %q requires DATABASE_URL", StorePostgres)
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Database.Driver)
	}
	if c.Database.CredentialsTable == "" || c.Database.UsersTable == "" {
		return fmt.Errorf("table names must not be empty")
	}

	switch c.Ledger.Mode {
	case LedgerSolana, LedgerMemory:
	default:
		return fmt.Errorf("unknown ledger mode %q", c.Ledger.Mode)
	}
	if c.Ledger.CallTimeout <= 0 {
		return fmt.Errorf("ledger call timeout must be positive")
	}
	if c.Ledger.ConfirmPoll <= 0 {
		return fmt.Errorf("ledger confirm poll interval must be positive")
	}
	if c.Ledger.BreakerThreshold < 0 {
		return fmt.Errorf("ledger breaker threshold must not be negative")
	}
	if c.Idempotency.TTL <= 0 {
		return fmt.Errorf("idempotency ttl must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("config_file", "")
	v.SetDefault("addr", "")
	v.SetDefault("port", "")
	v.SetDefault("request_timeout", 60*time.Second)
	v.SetDefault("shutdown_timeout", 10*time.Second)
	v.SetDefault("cors_allowed_origins", "http://localhost:3000,http://127.0.0.1:3000")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	v.SetDefault("store_driver", StoreMemory)
	v.SetDefault("database_url", "")
	v.SetDefault("sqlite_path", "microcred.db")
	v.SetDefault("db_auto_migrate", true)
	v.SetDefault("table_credentials", "credentials")
	v.SetDefault("table_users", "users")
	v.SetDefault("db_max_open_conns", 10)

	v.SetDefault("redis_url", "")
	v.SetDefault("redis_pool_size", 10)
	v.SetDefault("redis_min_idle_conns", 2)
	v.SetDefault("redis_dial_timeout", 5*time.Second)
	v.SetDefault("redis_read_timeout", 3*time.Second)
	v.SetDefault("redis_write_timeout", 3*time.Second)

	v.SetDefault("ledger_mode", LedgerSolana)
	v.SetDefault("ledger_rpc_url", DefaultLedgerRPCURL)
	v.SetDefault("ledger_call_timeout", 30*time.Second)
	v.SetDefault("ledger_confirm_poll", 500*time.Millisecond)
	v.SetDefault("issuer_private_key", "")
	v.SetDefault("ledger_breaker_threshold", 0)
	v.SetDefault("ledger_breaker_cooldown", 30*time.Second)

	v.SetDefault("kafka_brokers", "")
	v.SetDefault("kafka_audit_topic", "microcred.audit")

	v.SetDefault("idempotency_ttl", 24*time.Hour)
}

func bindAliases(v *viper.Viper) error {
	aliases := map[string]string{
		"port":               "PORT",
		"issuer_private_key": "ISSUER_PRIVATE_KEY",
		"database_url":       "DATABASE_URL",
		"redis_url":          "REDIS_URL",
	}
	for key, alias := range aliases {
		if err := v.BindEnv(key, envPrefix+"_"+strings.ToUpper(key), alias); err != nil {
			return fmt.Errorf("bind env %s: %w", alias, err)
		}
	}
	return nil
}

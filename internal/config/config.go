package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // seconds
}

// RedisConfig represents redis configuration
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// GatewayConfig represents the exchange gateway client configuration
type GatewayConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	AuthToken      string        `mapstructure:"auth_token"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// FeedConfig represents the real-time feed client configuration
type FeedConfig struct {
	URL            string        `mapstructure:"url"`
	AuthToken      string        `mapstructure:"auth_token"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	BackoffFactor  float64       `mapstructure:"backoff_factor"`
	MaxDelay       time.Duration `mapstructure:"max_delay"`
	Jitter         float64       `mapstructure:"jitter"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
}

// TradingConfig represents order placement configuration
type TradingConfig struct {
	CommissionRate string `mapstructure:"commission_rate"`
}

// KafkaConfig represents the fill event publisher configuration.
// An empty broker list disables publishing.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// Config represents the application configuration
type Config struct {
	LogLevel string         `mapstructure:"log_level"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Trading  TradingConfig  `mapstructure:"trading"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
}

// Load reads configuration from config.yaml (if present) and the
// environment. Environment variables use the DSEBROKER_ prefix with
// underscores, e.g. DSEBROKER_GATEWAY_BASE_URL.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{"."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("DSEBROKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; env and defaults cover it.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Gateway.BaseURL == "" {
		return nil, fmt.Errorf("gateway.base_url is required")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)
	// Keys without a meaningful default still need one registered so
	// AutomaticEnv resolves them during Unmarshal.
	v.SetDefault("gateway.base_url", "")
	v.SetDefault("gateway.auth_token", "")
	v.SetDefault("gateway.request_timeout", 10*time.Second)
	v.SetDefault("feed.url", "")
	v.SetDefault("feed.auth_token", "")
	v.SetDefault("feed.reconnect_delay", 5*time.Second)
	v.SetDefault("feed.backoff_factor", 1.0)
	v.SetDefault("feed.max_delay", 5*time.Second)
	v.SetDefault("feed.jitter", 0.0)
	v.SetDefault("feed.max_attempts", 5)
	v.SetDefault("trading.commission_rate", "0.002")
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "fills")
}

// Package config loads and validates mirror configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Backend drivers accepted by the store, queue and storage sections.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverPubSub   = "pubsub"
	DriverLocal    = "local"
	DriverGCS      = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Tracker   TrackerConfig   `mapstructure:"tracker"`
	Account   AccountConfig   `mapstructure:"account"`
	Store     StoreConfig     `mapstructure:"store"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Feeds     FeedsConfig     `mapstructure:"feeds"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig guards the task endpoints with a shared key.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// TrackerConfig describes the mirrored tracker and how politely to talk to it.
type TrackerConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	LoginURL          string        `mapstructure:"login_url"`
	Encoding          string        `mapstructure:"encoding"`
	UserMarker        string        `mapstructure:"user_marker"`
	UserAgent         string        `mapstructure:"user_agent"`
	ForumID           int64         `mapstructure:"forum_id"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	MaxRelogins       int           `mapstructure:"max_relogins"`
}

// AccountConfig holds the credentials used when no account is stored yet.
type AccountConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	UserID   int64  `mapstructure:"user_id"`
}

// StoreConfig selects the catalog store.
type StoreConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

// QueueConfig selects the work queue.
type QueueConfig struct {
	Driver       string `mapstructure:"driver"`
	Depth        int    `mapstructure:"depth"`
	MaxAttempts  int    `mapstructure:"max_attempts"`
	ProjectID    string `mapstructure:"project_id"`
	Topic        string `mapstructure:"topic"`
	Subscription string `mapstructure:"subscription"`
}

// StorageConfig selects where feeds and the category map are published.
type StorageConfig struct {
	Driver       string `mapstructure:"driver"`
	Bucket       string `mapstructure:"bucket"`
	BaseDir      string `mapstructure:"base_dir"`
	CacheControl string `mapstructure:"cache_control"`
}

// FeedsConfig shapes rendered RSS channels.
type FeedsConfig struct {
	SiteURL string `mapstructure:"site_url"`
	TTL     int    `mapstructure:"ttl"`
}

// WorkerConfig governs the job consumers.
type WorkerConfig struct {
	Concurrency  int           `mapstructure:"concurrency"`
	JobTimeout   time.Duration `mapstructure:"job_timeout"`
	ErrorBackoff time.Duration `mapstructure:"error_backoff"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// TelemetryConfig controls trace export.
type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	ProjectID   string  `mapstructure:"project_id"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MIRROR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("tracker.base_url", "http://rutracker.org/forum/")
	v.SetDefault("tracker.login_url", "http://login.rutracker.org/forum/login.php")
	v.SetDefault("tracker.encoding", "windows-1251")
	v.SetDefault("tracker.user_marker", "")
	v.SetDefault("tracker.user_agent", "tracker-mirror/0.1")
	v.SetDefault("tracker.forum_id", 0)
	v.SetDefault("tracker.connect_timeout", 3050*time.Millisecond)
	v.SetDefault("tracker.read_timeout", 10*time.Second)
	v.SetDefault("tracker.requests_per_second", 1.0)
	v.SetDefault("tracker.max_relogins", 1)
	v.SetDefault("account.username", "")
	v.SetDefault("account.password", "")
	v.SetDefault("account.user_id", 0)
	v.SetDefault("store.driver", DriverMemory)
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.min_conns", 0)
	v.SetDefault("store.max_conn_lifetime", time.Hour)
	v.SetDefault("store.migrate", true)
	v.SetDefault("queue.driver", DriverMemory)
	v.SetDefault("queue.depth", 256)
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.project_id", "")
	v.SetDefault("queue.topic", "mirror-jobs")
	v.SetDefault("queue.subscription", "mirror-jobs-worker")
	v.SetDefault("storage.driver", DriverLocal)
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.base_dir", "public")
	v.SetDefault("storage.cache_control", "public, max-age=300")
	v.SetDefault("feeds.site_url", "http://localhost:8080/")
	v.SetDefault("feeds.ttl", 60)
	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("worker.job_timeout", 2*time.Minute)
	v.SetDefault("worker.error_backoff", time.Second)
	v.SetDefault("logging.development", true)
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.service_name", "tracker-mirror")
	v.SetDefault("telemetry.project_id", "")
	v.SetDefault("telemetry.sample_ratio", 0.1)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Tracker.BaseURL == "" {
		return fmt.Errorf("tracker.base_url is required")
	}
	if c.Tracker.ConnectTimeout <= 0 || c.Tracker.ReadTimeout <= 0 {
		return fmt.Errorf("tracker timeouts must be > 0")
	}
	if c.Tracker.MaxRelogins < 0 {
		return fmt.Errorf("tracker.max_relogins must be >= 0")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0, 1]")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("store.driver %q is not supported", c.Store.Driver)
	}
	switch c.Queue.Driver {
	case DriverMemory:
		if c.Queue.Depth <= 0 {
			return fmt.Errorf("queue.depth must be > 0")
		}
	case DriverPubSub:
		if c.Queue.ProjectID == "" || c.Queue.Topic == "" || c.Queue.Subscription == "" {
			return fmt.Errorf("queue.project_id, queue.topic and queue.subscription are required for pubsub")
		}
	default:
		return fmt.Errorf("queue.driver %q is not supported", c.Queue.Driver)
	}
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverLocal:
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir is required for the local driver")
		}
	case DriverGCS:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for the gcs driver")
		}
	default:
		return fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver)
	}
	return nil
}

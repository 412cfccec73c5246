// Package config resolves the gateway's runtime configuration: base
// directories, the worker binary path, tunables for the supervisor, send
// queue and webhook dispatcher, and environment overrides. Grounded on the
// teacher's pkg/config (viper-backed, env-first), trimmed to what a
// single-process gateway needs.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config is the fully-resolved gateway configuration.
type Config struct {
	v *viper.Viper

	BaseDir      string
	SessionsDir  string
	VolumesDir   string
	BinPath      string

	APIPort int

	PortBase int
	PortMax  int

	HealthCheckInterval time.Duration
	WorkerStopTimeout   time.Duration
	ShutdownTimeout     time.Duration

	RateLimitRequests int
	RateLimitWindow   time.Duration

	DefaultAdminUser string
	DefaultAdminPass string

	QRWaitDelay time.Duration

	// WebhookTimeout and WebhookMaxRetries are loaded but not read by the
	// webhook dispatcher, which uses its own fixed timeout and attempt count.
	WebhookTimeout    time.Duration
	WebhookMaxRetries int

	// QueueInterval and QueueIntervalCap are loaded but not read by the
	// queue manager, which builds queues from its package defaults.
	QueueInterval    time.Duration
	QueueIntervalCap int
	QueueJobTimeout  time.Duration
	QueueMaxIdleTime time.Duration
	QueueSweepEvery  time.Duration

	LogLevel  string
	LogFormat string

	JWTSecret string

	RedisAddr string

	MetricsEnabled bool
}

// Load builds a Config from environment variables (with spec.md §6
// defaults) and an optional config file. It does not watch the file;
// WatchAndReload does that.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", configFile, err)
		}
	}

	c := build(v)
	return c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_BASE_DIR", "/opt/wagateway")
	v.SetDefault("API_PORT", 3000)
	v.SetDefault("API_RATE_LIMIT", 100)
	v.SetDefault("API_RATE_LIMIT_WINDOW", "15m")
	v.SetDefault("HEALTH_CHECK_INTERVAL", "30s")
	v.SetDefault("WORKER_STOP_TIMEOUT", "10s")
	v.SetDefault("SHUTDOWN_TIMEOUT", "15s")
	v.SetDefault("DEFAULT_ADMIN_USER", "admin")
	v.SetDefault("DEFAULT_ADMIN_PASS", "admin")
	v.SetDefault("QR_WAIT_DELAY", "1s")
	v.SetDefault("WEBHOOK_TIMEOUT", "10s")
	v.SetDefault("WEBHOOK_MAX_RETRIES", 3)
	v.SetDefault("QUEUE_INTERVAL", "1s")
	v.SetDefault("QUEUE_INTERVAL_CAP", 1)
	v.SetDefault("QUEUE_JOB_TIMEOUT", "30s")
	v.SetDefault("QUEUE_MAX_IDLE_TIME", "1h")
	v.SetDefault("QUEUE_SWEEP_EVERY", "30m")
	v.SetDefault("PORT_BASE", 8000)
	v.SetDefault("PORT_MAX", 2000)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")
	v.SetDefault("METRICS_ENABLED", true)
}

func build(v *viper.Viper) *Config {
	base := v.GetString("APP_BASE_DIR")
	c := &Config{
		v:            v,
		BaseDir:      base,
		SessionsDir:  firstNonEmpty(v.GetString("SESSIONS_DIR"), filepath.Join(base, "sessions")),
		VolumesDir:   firstNonEmpty(v.GetString("VOLUMES_DIR"), filepath.Join(base, "volumes")),
		BinPath:      firstNonEmpty(v.GetString("BIN_PATH"), filepath.Join(base, "bin", "worker")),
		APIPort:      v.GetInt("API_PORT"),
		PortBase:     v.GetInt("PORT_BASE"),
		PortMax:      v.GetInt("PORT_MAX"),

		HealthCheckInterval: v.GetDuration("HEALTH_CHECK_INTERVAL"),
		WorkerStopTimeout:   v.GetDuration("WORKER_STOP_TIMEOUT"),
		ShutdownTimeout:     v.GetDuration("SHUTDOWN_TIMEOUT"),

		RateLimitRequests: v.GetInt("API_RATE_LIMIT"),
		RateLimitWindow:   v.GetDuration("API_RATE_LIMIT_WINDOW"),

		DefaultAdminUser: v.GetString("DEFAULT_ADMIN_USER"),
		DefaultAdminPass: v.GetString("DEFAULT_ADMIN_PASS"),

		QRWaitDelay: v.GetDuration("QR_WAIT_DELAY"),

		WebhookTimeout:    v.GetDuration("WEBHOOK_TIMEOUT"),
		WebhookMaxRetries: v.GetInt("WEBHOOK_MAX_RETRIES"),

		QueueInterval:    v.GetDuration("QUEUE_INTERVAL"),
		QueueIntervalCap: v.GetInt("QUEUE_INTERVAL_CAP"),
		QueueJobTimeout:  v.GetDuration("QUEUE_JOB_TIMEOUT"),
		QueueMaxIdleTime: v.GetDuration("QUEUE_MAX_IDLE_TIME"),
		QueueSweepEvery:  v.GetDuration("QUEUE_SWEEP_EVERY"),

		LogLevel:  v.GetString("LOG_LEVEL"),
		LogFormat: v.GetString("LOG_FORMAT"),

		JWTSecret: v.GetString("GATEWAY_JWT_SECRET"),
		RedisAddr: v.GetString("REDIS_ADDR"),

		MetricsEnabled: v.GetBool("METRICS_ENABLED"),
	}
	return c
}

func firstNonEmpty(vals ...string) string {
	for _, s := range vals {
		if s != "" {
			return s
		}
	}
	return ""
}

// SessionPath returns the per-instance session directory.
func (c *Config) SessionPath(hash string) string {
	return filepath.Join(c.SessionsDir, hash)
}

// WatchAndReload re-reads tunables that are safe to change without a
// restart (rate limit, health check interval, webhook retry schedule) into
// c whenever the backing config file changes. No-op if no file was loaded.
// Components that copied a value at construction keep the old value.
func (c *Config) WatchAndReload(onChange func(*Config)) {
	if c.v.ConfigFileUsed() == "" {
		return
	}
	c.v.OnConfigChange(func(e fsnotify.Event) {
		fresh := build(c.v)
		c.HealthCheckInterval = fresh.HealthCheckInterval
		c.RateLimitRequests = fresh.RateLimitRequests
		c.RateLimitWindow = fresh.RateLimitWindow
		c.WebhookMaxRetries = fresh.WebhookMaxRetries
		c.WebhookTimeout = fresh.WebhookTimeout
		if onChange != nil {
			onChange(c)
		}
	})
	c.v.WatchConfig()
}

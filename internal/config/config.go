package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/technosupport/firewatch/internal/auth"
	"github.com/technosupport/firewatch/internal/data"
	"github.com/technosupport/firewatch/internal/detection"
	"github.com/technosupport/firewatch/internal/events"
	"github.com/technosupport/firewatch/internal/ingest"
	"github.com/technosupport/firewatch/internal/platform/paths"
	"github.com/technosupport/firewatch/internal/ratelimit"
	"github.com/technosupport/firewatch/internal/stream"
	"gopkg.in/yaml.v3"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Database  DatabaseConfig   `yaml:"database"`
	Redis     RedisConfig      `yaml:"redis"`
	Auth      AuthConfig       `yaml:"auth"`
	Stream    StreamConfig     `yaml:"stream"`
	Detection detection.Config `yaml:"detection"`
	Evidence  EvidenceConfig   `yaml:"evidence"`
	Ingest    ingest.Config    `yaml:"ingest"`
	Events    EventsConfig     `yaml:"events"`
	Audit     AuditConfig      `yaml:"audit"`
	Live      LiveConfig       `yaml:"live"`
	Logging   LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins"`
}

type DatabaseConfig struct {
	Driver          string `yaml:"driver"`
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	User            string `yaml:"user"`
	Password        string `yaml:"password"`
	Name            string `yaml:"name"`
	SSLMode         string `yaml:"sslmode"`
	data.PoolConfig `yaml:",inline"`
}

// DSN renders a lib/pq URL.
func (d DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     "/" + d.Name,
		RawQuery: "sslmode=" + d.SSLMode,
	}
	return u.String()
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

func (r RedisConfig) Enabled() bool { return r.Addr != "" }

type AuthConfig struct {
	SigningKey       string                `yaml:"signing_key"`
	TokenTTL         time.Duration         `yaml:"token_ttl"`
	LockoutThreshold int                   `yaml:"lockout_threshold"`
	LockoutTTL       time.Duration         `yaml:"lockout_ttl"`
	LoginRate        ratelimit.LimitConfig `yaml:"login_rate"`
	IPSalt           string                `yaml:"ip_salt"`
	Argon2           *auth.Params          `yaml:"argon2"`
}

type StreamConfig struct {
	URL            string         `yaml:"url"`
	BearerToken    string         `yaml:"bearer_token"`
	MaxFrameBytes  int            `yaml:"max_frame_bytes"`
	ConnectTimeout time.Duration  `yaml:"connect_timeout"`
	Backoff        stream.Backoff `yaml:"reconnect"`
	StopGrace      time.Duration  `yaml:"stop_grace"`
}

type EvidenceConfig struct {
	Dir       string `yaml:"dir"`
	CacheSize int    `yaml:"cache_size"`
}

type NATSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	URL        string `yaml:"url"`
	Subject    string `yaml:"subject"`
	MaxRetries int    `yaml:"max_retries"`
}

type MQTTConfig struct {
	Enabled           bool `yaml:"enabled"`
	events.MQTTConfig `yaml:",inline"`
}

type EventsConfig struct {
	SubscriberBuffer int        `yaml:"subscriber_buffer"`
	NATS             NATSConfig `yaml:"nats"`
	MQTT             MQTTConfig `yaml:"mqtt"`
}

type AuditConfig struct {
	Enabled        bool          `yaml:"enabled"`
	SpoolDir       string        `yaml:"spool_dir"`
	MaxSpoolMB     int64         `yaml:"max_spool_mb"`
	ReplayInterval time.Duration `yaml:"replay_interval"`
	Retention      time.Duration `yaml:"retention"`
}

type LiveConfig struct {
	Enabled bool `yaml:"enabled"`
	MaxFPS  int  `yaml:"max_fps"`
	Quality int  `yaml:"quality"`
	Overlay bool `yaml:"overlay"`
}

type LoggingConfig struct {
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
	Service string `yaml:"service"`
}

// Default returns the built-in configuration used for unset fields.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:  DriverMemory,
			Host:    "localhost",
			Port:    5432,
			Name:    "firewatch",
			SSLMode: "disable",
		},
		Auth: AuthConfig{
			TokenTTL:         24 * time.Hour,
			LockoutThreshold: 5,
			LockoutTTL:       15 * time.Minute,
			IPSalt:           "firewatch",
		},
		Stream: StreamConfig{
			MaxFrameBytes:  stream.DefaultMaxFrameBytes,
			ConnectTimeout: 10 * time.Second,
			Backoff:        stream.DefaultBackoff(),
			StopGrace:      2 * time.Second,
		},
		Detection: detection.DefaultConfig(),
		Evidence:  EvidenceConfig{Dir: "evidence", CacheSize: 64},
		Events:    EventsConfig{SubscriberBuffer: events.DefaultBuffer},
		Audit: AuditConfig{
			SpoolDir:       "audit_spool",
			ReplayInterval: 30 * time.Second,
		},
		Live:    LiveConfig{Enabled: true, Overlay: true},
		Logging: LoggingConfig{Level: "info", Format: "json", Service: "firewatch"},
	}
}

// Load reads path over the defaults, then applies environment overrides.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	cfg.applyEnv()
	cfg.Detection = cfg.Detection.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	setStr := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setStr(&c.Database.Host, "DB_HOST")
	setStr(&c.Database.User, "DB_USER")
	setStr(&c.Database.Password, "DB_PASSWORD")
	setStr(&c.Database.Name, "DB_NAME")
	setStr(&c.Database.Driver, "DB_DRIVER")
	setStr(&c.Redis.Addr, "REDIS_ADDR")
	setStr(&c.Auth.SigningKey, "JWT_SIGNING_KEY")
	setStr(&c.Stream.URL, "STREAM_URL")
	setStr(&c.Stream.BearerToken, "STREAM_TOKEN")
	setStr(&c.Logging.Level, "LOG_LEVEL")
	if v := os.Getenv("NATS_URL"); v != "" {
		c.Events.NATS.URL = v
		c.Events.NATS.Enabled = true
	}
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Database.Driver != DriverPostgres && c.Database.Driver != DriverMemory {
		errs = append(errs, fmt.Errorf("database.driver must be %q or %q", DriverPostgres, DriverMemory))
	}
	if len(c.Auth.SigningKey) < 16 {
		errs = append(errs, errors.New("auth.signing_key must be at least 16 bytes (JWT_SIGNING_KEY)"))
	}
	if c.Stream.URL == "" {
		errs = append(errs, errors.New("stream.url is required (STREAM_URL)"))
	}
	if c.Stream.Backoff.Initial <= 0 {
		errs = append(errs, errors.New("stream.reconnect.initial must be positive"))
	}
	if c.Stream.Backoff.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("stream.reconnect.max_retries %d must not be negative", c.Stream.Backoff.MaxRetries))
	}
	if c.Stream.Backoff.Max > 0 && c.Stream.Backoff.Max < c.Stream.Backoff.Initial {
		errs = append(errs, errors.New("stream.reconnect.max must not be below initial"))
	}
	if err := c.Detection.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Audit.Enabled && c.Database.Driver != DriverPostgres {
		errs = append(errs, errors.New("audit requires database.driver postgres"))
	}
	if c.Events.NATS.Enabled && c.Events.NATS.Subject == "" {
		c.Events.NATS.Subject = "firewatch.alarms"
	}
	if c.Events.MQTT.Enabled && c.Events.MQTT.Broker == "" {
		errs = append(errs, errors.New("events.mqtt.broker is required when mqtt is enabled"))
	}
	return errors.Join(errs...)
}

// ResolveDirs turns relative evidence and spool dirs into paths under the data root.
func (c *Config) ResolveDirs() error {
	var err error
	if c.Evidence.Dir, err = paths.Resolve(c.Evidence.Dir); err != nil {
		return err
	}
	if c.Audit.SpoolDir, err = paths.Resolve(c.Audit.SpoolDir); err != nil {
		return err
	}
	return paths.EnsureDirs(c.Evidence.Dir, c.Audit.SpoolDir)
}

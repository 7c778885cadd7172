package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/technosupport/firewatch/internal/detection"
	"go.uber.org/zap/zaptest"
)

const sample = `
server:
  port: 9090
  cors_origins: ["http://localhost:3000"]
database:
  driver: postgres
  host: db
  user: fw
  password: "p@ss"
  name: firewatch
  sslmode: require
  max_open_conns: 12
auth:
  signing_key: "0123456789abcdef0123"
  token_ttl: 2h
  login_rate:
    rate: 10
    window: 1m
stream:
  url: http://cam.local/stream
  reconnect:
    max_retries: 3
    initial: 500ms
detection:
  stride: 4
logging:
  level: debug
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "firewatch.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoad_FileOverDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.CORSOrigins)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, 12, cfg.Database.MaxOpenConns)
	assert.Equal(t, 2*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 5, cfg.Auth.LockoutThreshold)
	assert.True(t, cfg.Auth.LoginRate.Enabled())
	assert.Equal(t, time.Minute, cfg.Auth.LoginRate.Window)
	assert.Equal(t, 3, cfg.Stream.Backoff.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Stream.Backoff.Initial)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DB_HOST", "override-host")
	t.Setenv("PORT", "7000")
	t.Setenv("NATS_URL", "nats://bus:4222")
	t.Setenv("JWT_SIGNING_KEY", "env-key-env-key-env-key")

	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)
	assert.Equal(t, "override-host", cfg.Database.Host)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.True(t, cfg.Events.NATS.Enabled)
	assert.Equal(t, "firewatch.alarms", cfg.Events.NATS.Subject)
	assert.Equal(t, "env-key-env-key-env-key", cfg.Auth.SigningKey)
}

func TestLoad_MissingFileUsesDefaultsAndEnv(t *testing.T) {
	t.Setenv("JWT_SIGNING_KEY", "0123456789abcdef")
	t.Setenv("STREAM_URL", "file:///tmp/in.mjpeg")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.False(t, cfg.Redis.Enabled())
}

func TestLoad_Invalid(t *testing.T) {
	_, err := Load(writeConfig(t, "server:\n  port: 0\ndatabase:\n  driver: mysql\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "database.driver")
	assert.Contains(t, err.Error(), "signing_key")
	assert.Contains(t, err.Error(), "stream.url")

	_, err = Load(writeConfig(t, "server: [oops"))
	assert.Error(t, err)
}

func TestLoad_AuditNeedsPostgres(t *testing.T) {
	body := "auth:\n  signing_key: 0123456789abcdef\nstream:\n  url: x\naudit:\n  enabled: true\n"
	_, err := Load(writeConfig(t, body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audit")
}

func TestLoad_RejectsBadReconnect(t *testing.T) {
	base := "auth:\n  signing_key: 0123456789abcdef\nstream:\n  url: x\n  reconnect:\n"

	_, err := Load(writeConfig(t, base+"    initial: 0s\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stream.reconnect.initial")

	_, err = Load(writeConfig(t, base+"    max_retries: -1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stream.reconnect.max_retries -1")

	_, err = Load(writeConfig(t, base+"    initial: 5s\n    max: 1s\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stream.reconnect.max")

	cfg, err := Load(writeConfig(t, base+"    max_retries: 0\n"))
	require.NoError(t, err)
	assert.Zero(t, cfg.Stream.Backoff.MaxRetries)
}

func TestLoad_DetectionZeroThresholdsKept(t *testing.T) {
	body := "auth:\n  signing_key: 0123456789abcdef\nstream:\n  url: x\ndetection:\n  sat_min: 0\n  val_min: 0\n"
	cfg, err := Load(writeConfig(t, body))
	require.NoError(t, err)
	assert.Zero(t, cfg.Detection.SatMin)
	assert.Zero(t, cfg.Detection.ValMin)
	assert.Equal(t, detection.DefaultHueMax, cfg.Detection.HueMax)
	assert.Equal(t, detection.DefaultMinArea, cfg.Detection.MinArea)

	_, err = Load(writeConfig(t, body+"  hue_max: 200\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hue range")
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "fw", Password: "p@ss", Name: "firewatch", SSLMode: "disable"}
	assert.Equal(t, "postgres://fw:p%40ss@db:5432/firewatch?sslmode=disable", d.DSN())
}

func TestResolveDirs(t *testing.T) {
	root := t.TempDir()
	t.Setenv("FIREWATCH_DATA_ROOT", root)

	cfg := Default()
	require.NoError(t, cfg.ResolveDirs())
	assert.Equal(t, filepath.Join(root, "evidence"), cfg.Evidence.Dir)
	assert.DirExists(t, cfg.Evidence.Dir)
	assert.DirExists(t, cfg.Audit.SpoolDir)
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, sample)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	go Watch(ctx, path, zaptest.NewLogger(t), func(c *Config) { got <- c })

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(sample+"  format: console\n"), 0o600))

	select {
	case cfg := <-got:
		assert.Equal(t, "console", cfg.Logging.Format)
	case <-time.After(3 * time.Second):
		t.Fatal("no reload observed")
	}
}

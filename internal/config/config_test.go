package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("RATE_LIMIT_WINDOW", "30s")

	cfg, err := load(filepath.Join(dir, ".env"), dir)
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "5432", cfg.Database.Port)
	assert.Equal(t, int32(25), cfg.Database.MaxConns)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, 12*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, DriverPostgres, cfg.Storage.Driver)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, 5*time.Second, cfg.Usecase.Timeout)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.GetAddress())
	assert.Equal(t, "host=db.internal port=5432 user=postgres password=postgres dbname=teamhub sslmode=disable", cfg.Database.GetDSN())
}

func TestLoadConfigFileAndDotEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := `
server:
  port: "9090"
storage:
  driver: memory
logger:
  format: console
  level: debug
ratelimit:
  backend: redis
  redis:
    addr: redis:6379
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("JWT_SECRET=from-dotenv\nLOG_LEVEL=warn\n"), 0o600))
	t.Setenv("LOG_LEVEL", "error")
	// godotenv выставит JWT_SECRET через os.Setenv; вернём окружение после теста
	t.Setenv("JWT_SECRET", "")
	require.NoError(t, os.Unsetenv("JWT_SECRET"))

	cfg, err := load(filepath.Join(dir, ".env"), dir)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, "console", cfg.Logger.Format)
	assert.Equal(t, "error", cfg.Logger.Level, "real environment wins over .env")
	assert.Equal(t, "from-dotenv", cfg.Auth.JWTSecret)
	assert.Equal(t, BackendRedis, cfg.RateLimit.Backend)
	assert.Equal(t, "redis:6379", cfg.RateLimit.Redis.Addr)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Database:  DatabaseConfig{Host: "h", Port: "5432", Name: "n", MaxConns: 2, MinConns: 1},
			Server:    ServerConfig{Port: "8080"},
			Logger:    LoggerConfig{Format: "json"},
			Auth:      AuthConfig{JWTSecret: "x", TokenTTL: time.Hour},
			Storage:   StorageConfig{Driver: DriverPostgres},
			RateLimit: RateLimitConfig{Enabled: true, Backend: BackendMemory, Requests: 1, Window: time.Second},
		}
	}

	cfg := valid()
	require.NoError(t, cfg.Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown driver", func(c *Config) { c.Storage.Driver = "sqlite" }},
		{"missing db host", func(c *Config) { c.Database.Host = "" }},
		{"min above max conns", func(c *Config) { c.Database.MinConns = 10 }},
		{"missing secret", func(c *Config) { c.Auth.JWTSecret = "" }},
		{"bad log format", func(c *Config) { c.Logger.Format = "xml" }},
		{"redis without addr", func(c *Config) { c.RateLimit.Backend = BackendRedis }},
		{"zero window", func(c *Config) { c.RateLimit.Window = 0 }},
		{"negative timeout", func(c *Config) { c.Usecase.Timeout = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}

	c := valid()
	c.Storage.Driver = DriverMemory
	c.Database = DatabaseConfig{}
	c.RateLimit = RateLimitConfig{}
	assert.NoError(t, c.Validate())
}

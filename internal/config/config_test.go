package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validLocal() Config {
	return Config{
		App:   AppConfig{Env: "local", Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "insight"},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret"},
	}
}

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	require.Error(t, c.Validate())
}

func TestValidate_ProductionRequiresSSLModeAndBucket(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	c.Auth.JWTIssuer = "insight"
	c.Auth.JWTAudience = "api"

	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_SSLMODE")
	assert.Contains(t, err.Error(), "S3_BUCKET")
}

func TestValidate_LocalDefaults(t *testing.T) {
	c := validLocal()
	require.NoError(t, c.Validate())

	assert.Equal(t, "postgres", c.DB.Driver)
	assert.Equal(t, "disable", c.DB.SSLMode)
	assert.Equal(t, 15*time.Minute, c.Auth.AccessTokenTTL)
	assert.Equal(t, "@me", c.Telfin.ClientID)
	assert.Equal(t, 1000, c.Telfin.PageLimit)
	assert.Equal(t, 10*time.Minute, c.Telegram.SessionTTL)
	assert.Equal(t, "*/15 * * * *", c.Sync.Schedule)
	assert.Equal(t, "RU", c.Phone.DefaultRegion)
	assert.Equal(t, 4, c.Processing.Workers)
	assert.Equal(t, "data/audio", c.Storage.LocalDir)
	assert.Equal(t, "http://localhost:8080/files", c.Storage.PublicBaseURL)
}

func TestValidate_PageLimitIsCapped(t *testing.T) {
	c := validLocal()
	c.Telfin.PageLimit = 5000
	require.NoError(t, c.Validate())
	assert.Equal(t, 1000, c.Telfin.PageLimit)
}

func TestValidate_SQLiteSkipsPostgresFields(t *testing.T) {
	c := Config{
		App:   AppConfig{Env: "dev", Port: 8080},
		DB:    DBConfig{Driver: "sqlite"},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret"},
	}
	require.NoError(t, c.Validate())
	assert.Equal(t, "data/insight.db", c.DB.SQLitePath)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("APP_PORT", "9090")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_SQLITE_PATH", "/tmp/x.db")
	t.Setenv("REDIS_HOST", "localhost")
	t.Setenv("REDIS_PORT", "6379")
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("TELFIN_PAGE_LIMIT", "200")
	t.Setenv("SYNC_LOOKBACK", "2h")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", c.HTTPAddr())
	assert.Equal(t, "/tmp/x.db", c.DB.SQLitePath)
	assert.Equal(t, 200, c.Telfin.PageLimit)
	assert.Equal(t, 2*time.Hour, c.Sync.Lookback)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.planverse/internal/chat"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_RepositoryConfig(t *testing.T) {
	cfg, err := Load("../../configs/config.yaml")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.App.Port)
	assert.Equal(t, 5*time.Second, cfg.Sync.ConfirmWindow)
	assert.Equal(t, 800*time.Millisecond, cfg.Sync.ReadDebounce)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "*/15 * * * *", cfg.FeedSync.Cron)
	assert.Equal(t, 1280, cfg.Storage.MaxDimension)
}

func TestLoad_DefaultsAndSessionConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "jwt:\n  secret_key: s3cret\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	sc := cfg.SessionConfig()
	assert.Equal(t, 5*time.Second, sc.Chat.ConfirmWindow)
	assert.Equal(t, 3*time.Second, sc.Chat.FallbackDelay)
	assert.Equal(t, 15*time.Second, sc.Chat.ConfirmTimeout)
	assert.Equal(t, chat.PolicySurface, sc.Chat.Policy)
	assert.Equal(t, 5*time.Second, sc.PollInterval)
	assert.Equal(t, 3*time.Second, sc.TypingTTL)
	assert.Equal(t, 800*time.Millisecond, sc.ReadDebounce)
	assert.Equal(t, 50*time.Millisecond, cfg.Scheduler.Tick)
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "jwt:\n  secret_key: from-file\n")
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("SYNC_UNCONFIRMED_POLICY", "drop")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.JWT.SecretKey)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, chat.PolicyDrop, cfg.SessionConfig().Chat.Policy)
}

func TestLoad_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "app:\n  port: 8080\n")
	envFile := writeFile(t, dir, ".env", "JWT_SECRET=dotenv-secret\nPLANVERSE_PORT=8181\n")
	t.Cleanup(func() {
		os.Unsetenv("JWT_SECRET")
		os.Unsetenv("PLANVERSE_PORT")
	})

	cfg, err := Load(path, envFile)
	require.NoError(t, err)
	assert.Equal(t, "dotenv-secret", cfg.JWT.SecretKey)
	assert.Equal(t, 8181, cfg.App.Port)
}

func TestLoad_Validation(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(writeFile(t, dir, "a.yaml", "app:\n  port: 1\n"))
	assert.ErrorContains(t, err, "secret_key")

	_, err = Load(writeFile(t, dir, "b.yaml", "jwt:\n  secret_key: x\nsync:\n  unconfirmed_policy: keep\n"))
	assert.ErrorContains(t, err, "unconfirmed_policy")

	_, err = Load(writeFile(t, dir, "c.yaml", "jwt:\n  secret_key: x\nsync:\n  fallback_delay: 20s\n"))
	assert.ErrorContains(t, err, "fallback_delay")

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Name: "planverse"}
	assert.Equal(t, "postgres://u:p@db:5432/planverse?sslmode=disable", c.DSN())
}

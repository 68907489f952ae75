package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("PLANVERSE_TEST_STR", "nats://example:4222")
	t.Setenv("PLANVERSE_TEST_INT", "42")
	t.Setenv("PLANVERSE_TEST_BAD_INT", "forty-two")
	t.Setenv("PLANVERSE_TEST_DUR", "750ms")
	t.Setenv("PLANVERSE_TEST_BOOL", "true")
	t.Setenv("PLANVERSE_TEST_LIST", "a, b,,c")

	assert.Equal(t, "nats://example:4222", GetEnv("PLANVERSE_TEST_STR", "x"))
	assert.Equal(t, "x", GetEnv("PLANVERSE_TEST_MISSING", "x"))
	assert.Equal(t, 42, GetEnvInt("PLANVERSE_TEST_INT", 1))
	assert.Equal(t, 1, GetEnvInt("PLANVERSE_TEST_BAD_INT", 1))
	assert.Equal(t, 750*time.Millisecond, GetEnvDuration("PLANVERSE_TEST_DUR", time.Second))
	assert.True(t, GetEnvBool("PLANVERSE_TEST_BOOL", false))
	assert.Equal(t, []string{"a", "b", "c"}, GetEnvSlice("PLANVERSE_TEST_LIST", nil))
}

func TestRedisConfig_GetAddr(t *testing.T) {
	assert.Equal(t, "cache:6380", (&RedisConfig{Addr: "cache:6380", Host: "x", Port: 1}).GetAddr())
	assert.Equal(t, "redis:6379", (&RedisConfig{Host: "redis", Port: 6379}).GetAddr())
	assert.Equal(t, "localhost:6379", (&RedisConfig{}).GetAddr())
}

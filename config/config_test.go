package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SERVER_PORT", "")
	t.Setenv("BACKEND", "")
	t.Setenv("REDIS_DB", "")
	t.Setenv("JWT_ACCESS_EXPIRE", "")
	t.Setenv("CATCHUP_SECONDS", "")

	s := Load()

	assert.Equal(t, "3000", s.ServerPort)
	assert.Equal(t, "postgres", s.Backend)
	assert.Equal(t, []int{0, 1}, s.RedisDB)
	assert.Equal(t, 15*time.Minute, s.JWTAccessExpire)
	assert.Equal(t, 5*time.Second, s.CatchUpInterval)
	assert.True(t, s.DedupUploads)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "8080")
	t.Setenv("BACKEND", "Memory")
	t.Setenv("REDIS_DB", "2, 3")
	t.Setenv("JWT_REFRESH_EXPIRE", "30")
	t.Setenv("PUBLIC_URL", "https://chat.example.com/")
	t.Setenv("DEDUP_UPLOADS", "false")
	t.Setenv("CATCHUP_SECONDS", "-1")

	s := Load()

	assert.Equal(t, "8080", s.ServerPort)
	assert.Equal(t, "memory", s.Backend)
	assert.Equal(t, []int{2, 3}, s.RedisDB)
	assert.Equal(t, 30*time.Minute, s.JWTRefreshExpire)
	assert.Equal(t, "https://chat.example.com", s.PublicURL)
	assert.False(t, s.DedupUploads)
	assert.Equal(t, -time.Second, s.CatchUpInterval)
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("HISTORY_LIMIT", "lots")
	t.Setenv("REDIS_DB", "x,y")

	s := Load()

	assert.Equal(t, 50, s.HistoryLimit)
	assert.Equal(t, []int{0, 1}, s.RedisDB)
}

package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEnvHelpers(t *testing.T) {
	t.Setenv("DP_STR", "value")
	t.Setenv("DP_INT", "42")
	t.Setenv("DP_BAD_INT", "-3")
	t.Setenv("DP_BOOL", "true")
	t.Setenv("DP_DUR", "250ms")

	assert.Equal(t, "value", Env("DP_STR", "def"))
	assert.Equal(t, "def", Env("DP_MISSING", "def"))
	assert.Equal(t, 42, EnvInt("DP_INT", 1))
	assert.Equal(t, 1, EnvInt("DP_BAD_INT", 1))
	assert.True(t, EnvBool("DP_BOOL", false))
	assert.False(t, EnvBool("DP_MISSING", false))
	assert.Equal(t, 250*time.Millisecond, EnvDuration("DP_DUR", time.Second))
	assert.Equal(t, time.Second, EnvDuration("DP_MISSING", time.Second))
}

func TestDedupAndWithout(t *testing.T) {
	assert.Equal(t, []string{"http://a", "http://b"}, Dedup([]string{"http://a/", "http://b", "http://a"}))
	assert.Equal(t, []string{"u1", "u2"}, Without([]string{"u1", "bot", "u2", "bot"}, "bot"))
	assert.Empty(t, Without([]string{"bot"}, "bot"))
}

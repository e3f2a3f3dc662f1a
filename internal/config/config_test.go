package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, DefaultHost, cfg.Server.Host)
	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Len(t, cfg.Routes, 1)
	assert.NotNil(t, cfg.Routes[0].FileServer)
	assert.Equal(t, ".", cfg.Routes[0].FileServer.Root)
	assert.True(t, cfg.Cache.Enabled)
	assert.True(t, cfg.CircuitBreaker.Enabled)
	assert.True(t, cfg.RateLimiter.Enabled)
	assert.Equal(t, "round_robin", cfg.LoadBalancer.Strategy)
}

func TestLoad_NoConfigFile(t *testing.T) {
	orig, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(orig) })
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(nil)
	assert.NoError(t, err)
	assert.Equal(t, DefaultPort, cfg.Server.Port)
}

package main

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reelrelay/config"
)

func TestWriteSettingsPersistsEffectiveConfig(t *testing.T) {
	fsys := afero.NewMemMapFs()
	environ := func() []string {
		return []string{"LISTEN_ADDR=:9999", "RESOLVE_MAX_ATTEMPTS=5", "STREAM_TIMEOUT=45s"}
	}

	written, err := writeSettings(config.NewManager("etc/reelrelay.json").WithFs(fsys).WithDotenv("").WithEnviron(environ))
	require.NoError(t, err)
	assert.Equal(t, ":9999", written.Server.ListenAddr)

	exists, err := afero.Exists(fsys, "etc/reelrelay.json")
	require.NoError(t, err)
	require.True(t, exists)

	reloaded, err := config.NewManager("etc/reelrelay.json").
		WithFs(fsys).
		WithDotenv("").
		WithEnviron(func() []string { return nil }).
		Load()
	require.NoError(t, err)
	assert.Equal(t, ":9999", reloaded.Server.ListenAddr)
	assert.Equal(t, uint(5), reloaded.Resolver.MaxAttempts)
	assert.Equal(t, 45*time.Second, reloaded.Streaming.Timeout)
}

func TestWriteSettingsRejectsInvalidConfig(t *testing.T) {
	fsys := afero.NewMemMapFs()
	environ := func() []string { return []string{"RESOLVE_MAX_ATTEMPTS=0"} }

	_, err := writeSettings(config.NewManager("reelrelay.json").WithFs(fsys).WithDotenv("").WithEnviron(environ))
	require.Error(t, err)

	exists, err := afero.Exists(fsys, "reelrelay.json")
	require.NoError(t, err)
	assert.False(t, exists)
}

package torrentkit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempSubdir(t *testing.T, name string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	return dir
}

func validConfig(t *testing.T) *ClientConfig {
	t.Helper()
	return NewClientConfig().
		AppName("config-test").
		ConfigDir(tempSubdir(t, "config")).
		DownloadDir(tempSubdir(t, "downloads"))
}

func TestConfigDefaults(t *testing.T) {
	cfg := NewClientConfig()
	assert.True(t, cfg.useUTP)
	assert.True(t, cfg.useDHT)
	assert.Equal(t, DefaultLogLevel, cfg.logLevel)
	assert.Equal(t, DefaultPeerPort, cfg.peerPort)
	assert.False(t, cfg.rpcEnabled)
	assert.Equal(t, DefaultRPCURL, cfg.rpcURL)
	assert.Equal(t, DefaultRPCPort, cfg.rpcPort)
}

func TestConfigRequiredFields(t *testing.T) {
	cases := []struct {
		name  string
		cfg   *ClientConfig
		field string
	}{
		{"missing app name", NewClientConfig().ConfigDir("c").DownloadDir("d"), "AppName"},
		{"missing config dir", NewClientConfig().AppName("a").DownloadDir("d"), "ConfigDir"},
		{"missing download dir", NewClientConfig().AppName("a").ConfigDir("c"), "DownloadDir"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.validate()
			var cerr *ConfigError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tc.field, cerr.Field)
		})
	}
}

func TestConfigLogLevelClamped(t *testing.T) {
	assert.Equal(t, 0, NewClientConfig().LogLevel(-5).logLevel)
	assert.Equal(t, 4, NewClientConfig().LogLevel(17).logLevel)
	assert.Equal(t, 3, NewClientConfig().LogLevel(3).logLevel)
}

func TestConfigRPCValidation(t *testing.T) {
	cfg := validConfig(t).RPCEnabled(true).RPCPort(0)
	var cerr *ConfigError
	require.ErrorAs(t, cfg.validate(), &cerr)
	assert.Equal(t, "RPCPort", cerr.Field)

	cfg = validConfig(t).RPCEnabled(true).RPCURL("")
	require.ErrorAs(t, cfg.validate(), &cerr)
	assert.Equal(t, "RPCURL", cerr.Field)

	// RPC settings are not checked while RPC stays off.
	cfg = validConfig(t).RPCPort(0).RPCURL("")
	assert.NoError(t, cfg.validate())
}

func TestConfigCanonicalizesDirectories(t *testing.T) {
	cfg := validConfig(t)
	require.NoError(t, cfg.validate())
	assert.True(t, filepath.IsAbs(cfg.configDir))
	assert.True(t, filepath.IsAbs(cfg.downloadDir))
}

func TestConfigMissingDirectory(t *testing.T) {
	cfg := validConfig(t).DownloadDir(filepath.Join(t.TempDir(), "does-not-exist"))
	err := cfg.validate()
	var kerr *Error
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, IOError, kerr.Kind)
}

func TestConfigDirClaim(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, claimConfigDir(dir))
	defer releaseConfigDir(dir)

	err := claimConfigDir(dir)
	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "ConfigDir", cerr.Field)

	releaseConfigDir(dir)
	require.NoError(t, claimConfigDir(dir))
}

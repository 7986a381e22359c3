package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Transport, cfg.Transport)
	assert.Equal(t, 9100, cfg.Discovery.NetworkPort)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, []string{"stderr"}, cfg.Log.Outputs)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "read config")
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "printlink.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: debug
  format: json
transport:
  rfcomm_channel: 2
  dial_timeout: 4s
discovery:
  network_cidr: 192.168.7.0/24
  network_workers: 16
registry:
  path: /var/lib/printlink/devices.db
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 2, cfg.Transport.RFCOMMChannel)
	assert.Equal(t, 4*time.Second, cfg.Transport.DialTimeout)
	assert.Equal(t, 3*time.Second, cfg.Transport.ReadTimeout)
	assert.Equal(t, "192.168.7.0/24", cfg.Discovery.NetworkCIDR)
	assert.Equal(t, 16, cfg.Discovery.NetworkWorkers)
	assert.Equal(t, "/var/lib/printlink/devices.db", cfg.Registry.Path)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("PRINTLINK_LOG_LEVEL", "warn")
	t.Setenv("PRINTLINK_TRANSPORT_NETWORK_PORT", "6101")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 6101, cfg.Transport.NetworkPort)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"log level": "log:\n  level: loud\n",
		"channel":   "transport:\n  rfcomm_channel: 0\n",
		"port":      "transport:\n  network_port: 70000\n",
		"cidr":      "discovery:\n  network_cidr: 10.0.0.0/33\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "printlink.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
			_, err := Load(path)
			require.Error(t, err)
		})
	}
}

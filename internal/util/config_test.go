package util

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/user/circuitdiag/internal/model"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 2*time.Hour, cfg.RecencyWindow)
	assert.Equal(t, 5, cfg.Probe.BaselineCount)
	assert.Equal(t, 1472, cfg.Probe.PacketSize)
	assert.Equal(t, "icmpping[,20,200,,]", cfg.Zabbix.PingKey)
	assert.Len(t, cfg.Devices, len(model.Vendors))
}

func TestConfigValidate(t *testing.T) {
	tests := map[string]struct {
		mutate  func(*Config)
		wantErr string
	}{
		"zero lookback": {
			mutate:  func(c *Config) { c.LookbackHours = 0 },
			wantErr: "lookback_hours",
		},
		"bad transport": {
			mutate:  func(c *Config) { c.MCP.Transport = "carrier-pigeon" },
			wantErr: "mcp.transport",
		},
		"unknown vendor": {
			mutate:  func(c *Config) { c.Devices["huawei"] = DeviceCredentials{} },
			wantErr: "huawei",
		},
		"bad port": {
			mutate:  func(c *Config) { c.WebPort = 70000 },
			wantErr: "web_port",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			test.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), test.wantErr)
		})
	}
}

func TestConfigCredentials(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Devices["mikrotik"] = DeviceCredentials{
		Port:        2222,
		Username:    "cpe-user",
		Password:    "cpe-pass",
		PopUsername: "pop-user",
		PopPassword: "pop-pass",
	}

	creds, err := cfg.Credentials(model.VendorMikrotik, model.RoleCPE)
	require.NoError(t, err)
	assert.Equal(t, "cpe-user", creds.Username)
	assert.Equal(t, 2222, creds.Port)

	creds, err = cfg.Credentials(model.VendorMikrotik, model.RolePOP)
	require.NoError(t, err)
	assert.Equal(t, "pop-user", creds.Username)
	assert.Equal(t, "pop-pass", creds.Password)

	creds, err = cfg.Credentials(model.VendorMikrotik, model.RoleNNI)
	require.NoError(t, err)
	assert.Equal(t, "pop-user", creds.Username)

	_, err = cfg.Credentials(model.VendorJuniper, model.RolePOP)
	assert.Error(t, err, "juniper has no username configured")
}

func TestLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "test.log")
	var term bytes.Buffer

	l := newLogger(&term, LevelInfo, path)
	l.Debug("hidden %d", 1)
	l.Info("diagnosed %s", "SVC-1")
	l.SetLevel(LevelDebug)
	l.Debug("visible %d", 2)
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "diagnosed SVC-1")
	assert.Contains(t, string(data), "visible 2")
	assert.NotContains(t, string(data), "hidden 1")
	assert.True(t, strings.Contains(term.String(), "diagnosed SVC-1"))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel("warning"))
	assert.Equal(t, LevelError, ParseLevel("error"))
	assert.Equal(t, LevelInfo, ParseLevel("bogus"))
}

func TestLoadConfigFromFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("CIRCUITDIAG_ZABBIX_PASSWORD", "secret")
	t.Cleanup(viper.Reset)

	path := filepath.Join(t.TempDir(), "circuitdiag.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
lookback_hours: 6
zabbix:
  url: https://zabbix.example
devices:
  juniper:
    username: ops
watch:
  interval: 5m
  services: [SVC-1, SVC-2]
`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.LookbackHours)
	assert.Equal(t, "https://zabbix.example", cfg.Zabbix.URL)
	assert.Equal(t, "secret", cfg.Zabbix.Password)
	assert.Equal(t, "ops", cfg.Devices["juniper"].Username)
	assert.Equal(t, 22, cfg.Devices["juniper"].Port)
	assert.Equal(t, 5*time.Minute, cfg.Watch.Interval)
	assert.Equal(t, []string{"SVC-1", "SVC-2"}, cfg.Watch.Services)
	assert.Equal(t, 2*time.Hour, cfg.RecencyWindow)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Cleanup(viper.Reset)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mcp:\n  transport: smoke\n"), 0644))

	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "mcp.transport")
}

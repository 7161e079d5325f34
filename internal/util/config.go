// Package util provides common utilities for circuitdiag.
package util

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/user/circuitdiag/internal/model"
)

// Config holds all application configuration. It is loaded once at
// startup and passed explicitly to every collaborator constructor.
type Config struct {
	DataDir  string `mapstructure:"data_dir"`
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`

	Netbox  NetboxConfig                 `mapstructure:"netbox"`
	Zabbix  ZabbixConfig                 `mapstructure:"zabbix"`
	Versa   VersaConfig                  `mapstructure:"versa"`
	Devices map[string]DeviceCredentials `mapstructure:"devices"`
	Probe   ProbeConfig                  `mapstructure:"probe"`

	// Attribution
	RecencyWindow time.Duration `mapstructure:"recency_window"`
	LookbackHours int           `mapstructure:"lookback_hours"`
	LossThreshold float64       `mapstructure:"loss_threshold"`

	Watch WatchConfig `mapstructure:"watch"`

	ReportOutputDir string    `mapstructure:"report_output_dir"`
	WebPort         int       `mapstructure:"web_port"`
	MCP             MCPConfig `mapstructure:"mcp"`
}

// NetboxConfig points at the inventory API.
type NetboxConfig struct {
	URL     string        `mapstructure:"url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ZabbixConfig points at the history API and names the items to read.
type ZabbixConfig struct {
	URL             string        `mapstructure:"url"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Timeout         time.Duration `mapstructure:"timeout"`
	PingKey         string        `mapstructure:"ping_key"`
	FallbackPingKey string        `mapstructure:"fallback_ping_key"`
	LossKey         string        `mapstructure:"loss_key"`
}

// VersaConfig points at the Versa Director REST API. Insecure skips
// certificate verification for directors with self-signed certificates.
type VersaConfig struct {
	URL      string        `mapstructure:"url"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Insecure bool          `mapstructure:"insecure"`
}

// DeviceCredentials are the SSH credentials for one vendor. POP
// credentials fall back to the CPE ones when empty.
type DeviceCredentials struct {
	Port        int    `mapstructure:"port"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	PopUsername string `mapstructure:"pop_username"`
	PopPassword string `mapstructure:"pop_password"`
}

// ProbeConfig tunes the escalating probe protocol and the transport.
type ProbeConfig struct {
	BaselineCount    int           `mapstructure:"baseline_count"`
	BaselineInterval time.Duration `mapstructure:"baseline_interval"`
	ExtendedCount    int           `mapstructure:"extended_count"`
	ExtendedInterval time.Duration `mapstructure:"extended_interval"`
	PacketSize       int           `mapstructure:"packet_size"`
	DialTimeout      time.Duration `mapstructure:"dial_timeout"`
	CommandTimeout   time.Duration `mapstructure:"command_timeout"`
	Privileged       bool          `mapstructure:"privileged"`
	KnownHosts       string        `mapstructure:"known_hosts"`
}

// WatchConfig lists services the daemon diagnoses periodically.
type WatchConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	Services    []string      `mapstructure:"services"`
	Concurrency int           `mapstructure:"concurrency"`
}

// MCPConfig selects how the MCP server is exposed.
type MCPConfig struct {
	Transport string `mapstructure:"transport"`
	Addr      string `mapstructure:"addr"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".circuitdiag")

	devices := make(map[string]DeviceCredentials, len(model.Vendors))
	for _, v := range model.Vendors {
		devices[string(v)] = DeviceCredentials{Port: 22}
	}

	return &Config{
		DataDir:  dataDir,
		LogLevel: "info",
		LogFile:  filepath.Join(dataDir, "circuitdiag.log"),

		Netbox: NetboxConfig{Timeout: 15 * time.Second},
		Zabbix: ZabbixConfig{
			Timeout:         15 * time.Second,
			PingKey:         "icmpping[,20,200,,]",
			FallbackPingKey: "icmpping[,20,300,,]",
			LossKey:         "icmppingloss[,20,200,,]",
		},
		Versa:   VersaConfig{Timeout: 30 * time.Second},
		Devices: devices,
		Probe: ProbeConfig{
			BaselineCount:    5,
			BaselineInterval: time.Second,
			ExtendedCount:    1000,
			ExtendedInterval: 100 * time.Millisecond,
			PacketSize:       1472,
			DialTimeout:      10 * time.Second,
			CommandTimeout:   3 * time.Minute,
		},

		RecencyWindow: 2 * time.Hour,
		LookbackHours: 12,
		LossThreshold: 0,

		Watch: WatchConfig{
			Interval:    15 * time.Minute,
			Concurrency: 4,
		},

		ReportOutputDir: filepath.Join(dataDir, "reports"),
		WebPort:         8080,
		MCP:             MCPConfig{Transport: "stdio", Addr: "127.0.0.1:8090"},
	}
}

// LoadConfig loads configuration from file and environment. An empty
// path searches the data dir and the working directory for config.yaml.
// Environment variables use the CIRCUITDIAG_ prefix with dots replaced
// by underscores, e.g. CIRCUITDIAG_DEVICES_JUNIPER_PASSWORD.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(cfg.DataDir)
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("circuitdiag")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults(cfg)

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override keys
// that are absent from the config file.
func setDefaults(cfg *Config) {
	viper.SetDefault("data_dir", cfg.DataDir)
	viper.SetDefault("log_level", cfg.LogLevel)
	viper.SetDefault("log_file", cfg.LogFile)

	viper.SetDefault("netbox.url", cfg.Netbox.URL)
	viper.SetDefault("netbox.token", cfg.Netbox.Token)
	viper.SetDefault("netbox.timeout", cfg.Netbox.Timeout)

	viper.SetDefault("zabbix.url", cfg.Zabbix.URL)
	viper.SetDefault("zabbix.user", cfg.Zabbix.User)
	viper.SetDefault("zabbix.password", cfg.Zabbix.Password)
	viper.SetDefault("zabbix.timeout", cfg.Zabbix.Timeout)
	viper.SetDefault("zabbix.ping_key", cfg.Zabbix.PingKey)
	viper.SetDefault("zabbix.fallback_ping_key", cfg.Zabbix.FallbackPingKey)
	viper.SetDefault("zabbix.loss_key", cfg.Zabbix.LossKey)

	viper.SetDefault("versa.url", cfg.Versa.URL)
	viper.SetDefault("versa.username", cfg.Versa.Username)
	viper.SetDefault("versa.password", cfg.Versa.Password)
	viper.SetDefault("versa.timeout", cfg.Versa.Timeout)
	viper.SetDefault("versa.insecure", cfg.Versa.Insecure)

	for name, creds := range cfg.Devices {
		prefix := "devices." + name + "."
		viper.SetDefault(prefix+"port", creds.Port)
		viper.SetDefault(prefix+"username", "")
		viper.SetDefault(prefix+"password", "")
		viper.SetDefault(prefix+"pop_username", "")
		viper.SetDefault(prefix+"pop_password", "")
	}

	viper.SetDefault("probe.baseline_count", cfg.Probe.BaselineCount)
	viper.SetDefault("probe.baseline_interval", cfg.Probe.BaselineInterval)
	viper.SetDefault("probe.extended_count", cfg.Probe.ExtendedCount)
	viper.SetDefault("probe.extended_interval", cfg.Probe.ExtendedInterval)
	viper.SetDefault("probe.packet_size", cfg.Probe.PacketSize)
	viper.SetDefault("probe.dial_timeout", cfg.Probe.DialTimeout)
	viper.SetDefault("probe.command_timeout", cfg.Probe.CommandTimeout)
	viper.SetDefault("probe.privileged", cfg.Probe.Privileged)
	viper.SetDefault("probe.known_hosts", cfg.Probe.KnownHosts)

	viper.SetDefault("recency_window", cfg.RecencyWindow)
	viper.SetDefault("lookback_hours", cfg.LookbackHours)
	viper.SetDefault("loss_threshold", cfg.LossThreshold)

	viper.SetDefault("watch.interval", cfg.Watch.Interval)
	viper.SetDefault("watch.services", cfg.Watch.Services)
	viper.SetDefault("watch.concurrency", cfg.Watch.Concurrency)

	viper.SetDefault("report_output_dir", cfg.ReportOutputDir)
	viper.SetDefault("web_port", cfg.WebPort)
	viper.SetDefault("mcp.transport", cfg.MCP.Transport)
	viper.SetDefault("mcp.addr", cfg.MCP.Addr)
}

// Validate checks values that would otherwise fail deep inside a request.
func (c *Config) Validate() error {
	if c.LookbackHours <= 0 {
		return fmt.Errorf("lookback_hours must be positive, got %d", c.LookbackHours)
	}
	if c.RecencyWindow <= 0 {
		return fmt.Errorf("recency_window must be positive, got %s", c.RecencyWindow)
	}
	if c.Probe.BaselineCount <= 0 || c.Probe.ExtendedCount <= 0 {
		return errors.New("probe counts must be positive")
	}
	if c.WebPort <= 0 || c.WebPort > 65535 {
		return fmt.Errorf("invalid web_port %d", c.WebPort)
	}
	switch c.MCP.Transport {
	case "stdio", "http":
	default:
		return fmt.Errorf("invalid mcp.transport %q: must be stdio or http", c.MCP.Transport)
	}
	for name := range c.Devices {
		if v := model.ParseVendor(name); v == model.VendorUnknown {
			return fmt.Errorf("unknown vendor %q in devices section", name)
		}
	}
	return nil
}

// Credentials returns the credentials for a vendor and role. POP and
// NNI devices use the pop_* pair when it is set.
func (c *Config) Credentials(v model.Vendor, role model.DeviceRole) (DeviceCredentials, error) {
	creds, ok := c.Devices[string(v)]
	if !ok {
		return DeviceCredentials{}, fmt.Errorf("no credentials configured for vendor %s", v)
	}
	if (role == model.RolePOP || role == model.RoleNNI) && creds.PopUsername != "" {
		creds.Username = creds.PopUsername
		creds.Password = creds.PopPassword
	}
	if creds.Username == "" {
		return DeviceCredentials{}, fmt.Errorf("username for vendor %s (%s) is not set", v, role)
	}
	if creds.Port == 0 {
		creds.Port = 22
	}
	return creds, nil
}

// EnsureDir ensures a directory exists.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// FileExists checks if a file exists.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}
	return !info.IsDir()
}

// Package config provides YAML-based configuration loading for printlink.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root application configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Transport TransportConfig `mapstructure:"transport"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Registry  RegistryConfig  `mapstructure:"registry"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: stdout, stderr, or file paths
	Outputs     []string       `mapstructure:"outputs"`
	Rotation    RotationConfig `mapstructure:"rotation"`
	Development bool           `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// TransportConfig holds link parameters shared by every printer.
type TransportConfig struct {
	RFCOMMChannel int           `mapstructure:"rfcomm_channel"`
	NetworkPort   int           `mapstructure:"network_port"`
	BaudRate      int           `mapstructure:"baud_rate"`
	DialTimeout   time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
}

// DiscoveryConfig controls Bluetooth and network scans.
type DiscoveryConfig struct {
	// NetworkCIDR is the range swept for network printers. Empty means the
	// first private IPv4 network of this host.
	NetworkCIDR      string        `mapstructure:"network_cidr"`
	NetworkPort      int           `mapstructure:"network_port"`
	NetworkTimeout   time.Duration `mapstructure:"network_timeout"`
	NetworkWorkers   int           `mapstructure:"network_workers"`
	BluetoothTimeout time.Duration `mapstructure:"bluetooth_timeout"`
}

// RegistryConfig locates the known-device database.
type RegistryConfig struct {
	Path string `mapstructure:"path"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stderr"},
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/printlink.log",
				MaxSizeMB:  10,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Transport: TransportConfig{
			RFCOMMChannel: 1,
			NetworkPort:   9100,
			BaudRate:      115200,
			DialTimeout:   10 * time.Second,
			ReadTimeout:   3 * time.Second,
		},
		Discovery: DiscoveryConfig{
			NetworkPort:      9100,
			NetworkTimeout:   500 * time.Millisecond,
			NetworkWorkers:   64,
			BluetoothTimeout: 10 * time.Second,
		},
		Registry: RegistryConfig{Path: defaultRegistryPath()},
	}
}

func defaultRegistryPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "printlink", "devices.db")
	}
	return "printlink.db"
}

// Load reads configuration from path (if non-empty), otherwise it searches
// common locations. Environment variables use the prefix PRINTLINK with `.`
// replaced by `_`, e.g. PRINTLINK_LOG_LEVEL=debug.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("PRINTLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults so env-only configs work
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("transport.rfcomm_channel", cfg.Transport.RFCOMMChannel)
	v.SetDefault("transport.network_port", cfg.Transport.NetworkPort)
	v.SetDefault("transport.baud_rate", cfg.Transport.BaudRate)
	v.SetDefault("transport.dial_timeout", cfg.Transport.DialTimeout)
	v.SetDefault("transport.read_timeout", cfg.Transport.ReadTimeout)
	v.SetDefault("discovery.network_cidr", cfg.Discovery.NetworkCIDR)
	v.SetDefault("discovery.network_port", cfg.Discovery.NetworkPort)
	v.SetDefault("discovery.network_timeout", cfg.Discovery.NetworkTimeout)
	v.SetDefault("discovery.network_workers", cfg.Discovery.NetworkWorkers)
	v.SetDefault("discovery.bluetooth_timeout", cfg.Discovery.BluetoothTimeout)
	v.SetDefault("registry.path", cfg.Registry.Path)

	if path == "" {
		if envPath := os.Getenv("PRINTLINK_CONFIG"); envPath != "" {
			path = envPath
		}
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("printlink")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".printlink"))
		}
	}

	// A missing config file is fine; defaults and env still apply.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stderr"}
	}

	if c.Transport.RFCOMMChannel < 1 || c.Transport.RFCOMMChannel > 30 {
		return fmt.Errorf("invalid transport.rfcomm_channel: %d", c.Transport.RFCOMMChannel)
	}
	if err := validPort("transport.network_port", c.Transport.NetworkPort); err != nil {
		return err
	}
	if err := validPort("discovery.network_port", c.Discovery.NetworkPort); err != nil {
		return err
	}
	if c.Transport.BaudRate <= 0 {
		return fmt.Errorf("invalid transport.baud_rate: %d", c.Transport.BaudRate)
	}
	if c.Discovery.NetworkCIDR != "" {
		if _, err := netip.ParsePrefix(c.Discovery.NetworkCIDR); err != nil {
			return fmt.Errorf("invalid discovery.network_cidr: %w", err)
		}
	}
	if c.Discovery.NetworkWorkers < 1 {
		c.Discovery.NetworkWorkers = 1
	}
	return nil
}

func validPort(name string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("invalid %s: %d", name, port)
	}
	return nil
}

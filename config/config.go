// Package config provides configuration management for nm-openvpn.
// It handles loading, saving, and validating user settings.
package config

import (
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/yllada/nm-openvpn/common"
	"github.com/yllada/nm-openvpn/vpn"
)

// Config represents the application configuration.
// All settings are persisted to a YAML file in the user's config directory.
type Config struct {
	// Protocol is the preferred variant: "openvpn-tcp", "openvpn-udp",
	// or empty to pick automatically.
	Protocol string `yaml:"protocol"`
	// DNSCustomIPs replaces the resolvers pushed by the server.
	DNSCustomIPs []string `yaml:"dns_custom_ips"`
	// UseCertificate authenticates with a client certificate instead of
	// a username and password.
	UseCertificate bool `yaml:"use_certificate"`
	// CAFile is the server CA bundle.
	CAFile       string `yaml:"ca_file"`
	TLSCryptFile string `yaml:"tls_crypt_file"`
	// CertFile and KeyFile are required when UseCertificate is set.
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	// DeviceName is the tunnel device of generated connections.
	DeviceName string `yaml:"device_name"`
	// CatalogPath is the server catalog database.
	CatalogPath string `yaml:"catalog_path"`
	// CertDir receives inline certificates extracted on import.
	CertDir string `yaml:"cert_dir"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DeviceName: common.DefaultDeviceName,
		LogLevel:   "info",
	}
}

// Load loads the configuration from the default path.
// If the file doesn't exist, it creates one with default values.
func Load() (*Config, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	if !common.FileExists(configPath) {
		cfg := DefaultConfig()
		if err := cfg.SaveTo(configPath); err != nil {
			return cfg, err
		}
		return cfg, nil
	}
	return LoadFrom(configPath)
}

// LoadFrom loads the configuration at path. Unknown fields are rejected.
func LoadFrom(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening configuration: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true) // Strict validation: reject unknown fields

	config := DefaultConfig()
	if err := decoder.Decode(config); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("error parsing configuration: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate verifies that configuration values are valid.
func (c *Config) Validate() error {
	validProtocols := []string{"", vpn.ProtocolTCP, vpn.ProtocolUDP}
	if !slices.Contains(validProtocols, c.Protocol) {
		return fmt.Errorf("%w: unknown protocol %q", common.ErrInvalidConfig, c.Protocol)
	}

	for _, ip := range c.DNSCustomIPs {
		addr, err := netip.ParseAddr(ip)
		if err != nil || !addr.Is4() {
			return fmt.Errorf("%w: dns_custom_ips entry %q is not an IPv4 address", common.ErrInvalidConfig, ip)
		}
	}

	if c.UseCertificate && (c.CertFile == "" || c.KeyFile == "") {
		return fmt.Errorf("%w: use_certificate requires cert_file and key_file", common.ErrInvalidConfig)
	}

	if c.DeviceName == "" {
		c.DeviceName = common.DefaultDeviceName
	}
	validLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLevels, c.LogLevel) {
		c.LogLevel = "info" // Fallback to default
	}
	return nil
}

// Save saves the configuration to the default path.
func (c *Config) Save() error {
	configPath, err := getConfigPath()
	if err != nil {
		return err
	}
	return c.SaveTo(configPath)
}

// SaveTo saves the configuration to path.
func (c *Config) SaveTo(path string) error {
	if err := common.EnsureDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("error serializing configuration: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("error saving configuration: %w", err)
	}
	return nil
}

// ResolveCatalogPath returns CatalogPath or the default location.
func (c *Config) ResolveCatalogPath() (string, error) {
	if c.CatalogPath != "" {
		return c.CatalogPath, nil
	}
	dir, err := common.GetDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, common.CatalogFileName), nil
}

// ResolveCertDir returns CertDir or the default location.
func (c *Config) ResolveCertDir() (string, error) {
	if c.CertDir != "" {
		return c.CertDir, nil
	}
	dir, err := common.GetDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, common.CertDirName), nil
}

// Settings adapts the configuration to what the profile builder consults.
func (c *Config) Settings() *Settings {
	return &Settings{cfg: c}
}

// Settings exposes a Config as vpn.Settings. It also implements
// vpn.DNSSettings.
type Settings struct {
	cfg *Config
}

// Protocol returns the preferred protocol.
func (s *Settings) Protocol() string {
	return s.cfg.Protocol
}

// TLSMaterial returns the configured certificate files.
func (s *Settings) TLSMaterial() vpn.TLSMaterial {
	return vpn.TLSMaterial{
		CAFile:       s.cfg.CAFile,
		TLSCryptFile: s.cfg.TLSCryptFile,
		CertFile:     s.cfg.CertFile,
		KeyFile:      s.cfg.KeyFile,
	}
}

// DNSCustomIPs returns the custom resolvers.
func (s *Settings) DNSCustomIPs() []string {
	return s.cfg.DNSCustomIPs
}

func getConfigPath() (string, error) {
	dir, err := common.GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, common.ConfigFileName), nil
}

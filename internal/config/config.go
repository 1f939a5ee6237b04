// Package config loads the proxy-wide YAML configuration: bind
// addresses and ports, buffer size, idle-connection pool size, and an
// initial user list, validated field-by-field with wrapped errors
// naming the offending field.
package config

import (
	"fmt"
	"net"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jicanta-labs/socks5ev/internal/userstore"
)

// UserEntry is one initial credential, as it appears in the YAML file
// or a CLI "name:password" argument.
type UserEntry struct {
	Name     string `yaml:"name"`
	Password string `yaml:"password"`
}

// Config is the top-level YAML configuration record.
type Config struct {
	SocksAddr string `yaml:"socks_addr"`
	SocksPort int    `yaml:"socks_port"`

	MgmtAddr string `yaml:"mgmt_addr"`
	MgmtPort int    `yaml:"mgmt_port"`

	BufferSize int `yaml:"buffer_size"`
	PoolSize   int `yaml:"pool_size"`

	Users []UserEntry `yaml:"users"`
}

// Defaults match the engine's own DefaultBufSize and DefaultPoolCap.
const (
	DefaultBufferSize = 4096
	DefaultPoolSize   = 50
	DefaultSocksPort  = 1080
	DefaultMgmtPort   = 8080
)

// Load reads and validates the YAML configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := &Config{
		SocksPort:  DefaultSocksPort,
		MgmtPort:   DefaultMgmtPort,
		BufferSize: DefaultBufferSize,
		PoolSize:   DefaultPoolSize,
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field ranges and cross-field constraints, failing
// fast with a wrapped error naming the offending field.
func (c *Config) Validate() error {
	if c.SocksAddr != "" && net.ParseIP(c.SocksAddr) == nil {
		return fmt.Errorf("config: socks_addr: invalid IP address %q", c.SocksAddr)
	}
	if c.MgmtAddr != "" && net.ParseIP(c.MgmtAddr) == nil {
		return fmt.Errorf("config: mgmt_addr: invalid IP address %q", c.MgmtAddr)
	}
	if c.SocksPort < 1 || c.SocksPort > 65535 {
		return fmt.Errorf("config: socks_port: %d out of range (1-65535)", c.SocksPort)
	}
	if c.MgmtPort < 1 || c.MgmtPort > 65535 {
		return fmt.Errorf("config: mgmt_port: %d out of range (1-65535)", c.MgmtPort)
	}
	if c.SocksPort == c.MgmtPort {
		return fmt.Errorf("config: socks_port and mgmt_port must differ (both %d)", c.SocksPort)
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("config: buffer_size must be positive, got %d", c.BufferSize)
	}
	if c.PoolSize < 0 {
		return fmt.Errorf("config: pool_size must be non-negative, got %d", c.PoolSize)
	}
	if len(c.Users) > userstore.MaxUsers {
		return fmt.Errorf("config: too many users: %d (max %d)", len(c.Users), userstore.MaxUsers)
	}
	seen := make(map[string]struct{}, len(c.Users))
	for i, u := range c.Users {
		if u.Name == "" || u.Password == "" {
			return fmt.Errorf("config: users[%d]: name and password are both required", i)
		}
		if _, dup := seen[u.Name]; dup {
			return fmt.Errorf("config: users[%d]: duplicate user %q", i, u.Name)
		}
		seen[u.Name] = struct{}{}
	}
	return nil
}

// Credentials converts the configured users into userstore.Credential
// values ready for userstore.New.
func (c *Config) Credentials() []userstore.Credential {
	out := make([]userstore.Credential, len(c.Users))
	for i, u := range c.Users {
		out[i] = userstore.Credential{Name: u.Name, Password: u.Password}
	}
	return out
}

// ParseUserArg parses one "name:password" CLI argument, for each
// repeatable -user flag on the command line.
func ParseUserArg(s string) (UserEntry, error) {
	name, pass, ok := strings.Cut(s, ":")
	if !ok || name == "" || pass == "" {
		return UserEntry{}, fmt.Errorf("config: invalid user argument %q, want name:password", s)
	}
	return UserEntry{Name: name, Password: pass}, nil
}

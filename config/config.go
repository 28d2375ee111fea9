package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/BurntSushi/toml"

	"rentmail/models"
)

// DefaultOperatorEmail is used when no sender address is configured
const DefaultOperatorEmail = "agent@noreply"

// Storage drivers understood by the thread store factory
const (
	DriverFile = "file"
	DriverBolt = "bolt"
)

type ServerConfig struct {
	Port              int `toml:"port"`
	KeepAliveSeconds  int `toml:"keepalive_seconds"`   // SSE ping interval
	RateLimitRequests int `toml:"rate_limit_requests"` // per minute per IP, 0 disables
}

type StorageConfig struct {
	Driver string `toml:"driver"` // "file" or "bolt"
	Path   string `toml:"path"`   // relative to the working directory
}

type SMTPConfig struct {
	Server             string `toml:"server"`
	Port               int    `toml:"port"`
	UseSTARTTLS        bool   `toml:"use_starttls"` // true for port 587, false for port 465
	Username           string `toml:"username"`
	Password           string `toml:"password"`
	FromName           string `toml:"from_name"`
	FromAddress        string `toml:"from_address"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

type LogConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // console or json
}

type Config struct {
	Server  ServerConfig  `toml:"server"`
	Storage StorageConfig `toml:"storage"`
	SMTP    SMTPConfig    `toml:"smtp"`
	Log     LogConfig     `toml:"log"`
}

// Default returns the configuration used when no file overrides it
func Default() *Config {
	var config Config

	config.Server.Port = 3000
	config.Server.KeepAliveSeconds = 25
	config.Server.RateLimitRequests = 100

	config.Storage.Driver = DriverFile
	config.Storage.Path = "./data/mails.json"

	config.SMTP.Server = "smtp.gmail.com"
	config.SMTP.Port = 465
	config.SMTP.FromName = "NoReply"

	config.Log.Level = "info"
	config.Log.Format = "console"

	return &config
}

// LoadConfig reads filepath over the defaults. A missing file is not an error.
func LoadConfig(filepath string) (*Config, error) {
	config := Default()

	if _, err := toml.DecodeFile(filepath, config); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to decode %s: %w", filepath, err)
		}
	}

	// The operator address doubles as the SMTP login when not set explicitly
	if config.SMTP.FromAddress == "" {
		config.SMTP.FromAddress = config.SMTP.Username
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks values that would otherwise fail late at runtime
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Server.KeepAliveSeconds <= 0 {
		return fmt.Errorf("server.keepalive_seconds must be positive")
	}
	switch c.Storage.Driver {
	case DriverFile, DriverBolt:
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}
	return nil
}

// KeepAlive returns the SSE ping interval
func (c *ServerConfig) KeepAlive() time.Duration {
	return time.Duration(c.KeepAliveSeconds) * time.Second
}

// Helper method to get the appropriate SMTP port based on encryption
func (c *SMTPConfig) GetPort() int {
	if c.Port != 0 {
		return c.Port
	}
	if c.UseSTARTTLS {
		return 587 // STARTTLS port
	}
	return 465 // SSL/TLS port
}

// HasCredentials reports whether outgoing mail can authenticate
func (c *SMTPConfig) HasCredentials() bool {
	return c.Username != "" && c.Password != ""
}

// TLSConfig returns the client TLS settings for the SMTP server
func (c *SMTPConfig) TLSConfig() *tls.Config {
	return &tls.Config{
		ServerName:         c.Server,
		InsecureSkipVerify: c.InsecureSkipVerify,
	}
}

// Operator returns the party that outgoing messages are sent as
func (c *SMTPConfig) Operator() models.Party {
	email := c.FromAddress
	if email == "" {
		email = DefaultOperatorEmail
	}
	return models.Party{Name: "You", Email: email}
}

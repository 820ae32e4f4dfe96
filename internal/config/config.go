// Package config provides environment-variable-first configuration
// loading with optional YAML file fallback for the sendmail CLI.
// Command-line flags override both layers; the password is never read
// from or written to a config file.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the defaults a user can persist so that routine sends do
// not need to repeat the server and identity flags.
type Config struct {
	Mail    MailConfig    `yaml:"mail"`
	TLS     TLSConfig     `yaml:"tls"`
	Logging LoggingConfig `yaml:"logging"`
}

// MailConfig holds the default sender identity and server.
type MailConfig struct {
	Server   string `yaml:"server"`    // SMTP submission server, host or host:port
	Login    string `yaml:"login"`     // auth identity, usually the sender address
	FromName string `yaml:"from_name"` // display name for the From header
	ReplyTo  string `yaml:"reply_to"`
}

// TLSConfig holds the optional private CA for STARTTLS verification.
type TLSConfig struct {
	CAFile string `yaml:"ca_file"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load loads configuration from environment variables with sensible
// defaults. Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	cfg.applyEnvVars()

	return cfg, nil
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values. The
// password deliberately has no place here: it travels through
// MAIL_PASSWORD straight to the CLI layer and is never stored.
func (c *Config) applyEnvVars() {
	if v := os.Getenv("MAIL_SERVER"); v != "" {
		c.Mail.Server = v
	}
	if v := os.Getenv("MAIL_USER"); v != "" {
		c.Mail.Login = v
	}
	if v := os.Getenv("MAIL_FROM_NAME"); v != "" {
		c.Mail.FromName = v
	}
	if v := os.Getenv("MAIL_REPLY_TO"); v != "" {
		c.Mail.ReplyTo = v
	}
	if v := os.Getenv("MAIL_TLS_CA_FILE"); v != "" {
		c.TLS.CAFile = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

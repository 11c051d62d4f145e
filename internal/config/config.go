// Package config loads and validates the cloudvault server configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds every tunable of the server process. It is immutable
// after Load and passed by value into the components that need it.
type ServerConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	MaxSessions       int           `mapstructure:"max_sessions"`
	SessionTimeout    time.Duration `mapstructure:"session_timeout"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	ChunkSize         int           `mapstructure:"chunk_size"`
	MaxPacketSize     int           `mapstructure:"max_packet_size"`
	NetworkBufferSize int           `mapstructure:"network_buffer_size"`
	AcceptRate        float64       `mapstructure:"accept_rate"`
	DataDir           string        `mapstructure:"data_dir"`
	CompressChunks    bool          `mapstructure:"compress_chunks"`
	LogLevel          string        `mapstructure:"log_level"`
	LogFile           string        `mapstructure:"log_file"`
	MetricsAddr       string        `mapstructure:"metrics_addr"`
	Discovery         bool          `mapstructure:"discovery"`
	InstanceName      string        `mapstructure:"instance_name"`
	AdminPassword     string        `mapstructure:"admin_password"`
}

// DefaultServerConfig returns the default configuration.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:              "0.0.0.0",
		Port:              9000,
		MaxSessions:       100,
		SessionTimeout:    30 * time.Minute,
		SweepInterval:     30 * time.Second,
		ChunkSize:         1 << 20,  // 1 MiB
		MaxPacketSize:     25 << 20, // 25 MiB
		NetworkBufferSize: 8 << 10,  // 8 KiB
		AcceptRate:        0,        // no limit
		DataDir:           "data",
		CompressChunks:    false,
		LogLevel:          "info",
		LogFile:           "", // resolved to <data_dir>/logs/server.log by Load
		MetricsAddr:       "", // disabled
		Discovery:         false,
		InstanceName:      "cloudvault",
		AdminPassword:     "admin",
	}
}

// Load reads the configuration from path (optional) merged with CLOUDVAULT_*
// environment variables on top of the defaults.
func Load(path string) (*ServerConfig, error) {
	config := DefaultServerConfig()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("CLOUDVAULT")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("cloudvault")
		if homeDir, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ".config", "cloudvault"))
		}
		v.AddConfigPath("/etc/cloudvault")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if path != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found - use defaults (not an error)
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if config.LogFile == "" {
		config.LogFile = filepath.Join(config.DataDir, "logs", "server.log")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the configuration for impossible values.
func (c *ServerConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.MaxSessions <= 0 {
		return fmt.Errorf("max_sessions must be positive, got %d", c.MaxSessions)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize)
	}
	if c.MaxPacketSize < c.ChunkSize {
		return fmt.Errorf("max_packet_size %d is smaller than chunk_size %d", c.MaxPacketSize, c.ChunkSize)
	}
	if c.SessionTimeout <= 0 {
		return fmt.Errorf("session_timeout must be positive")
	}
	if c.SweepInterval <= 0 || c.SweepInterval > time.Minute {
		return fmt.Errorf("sweep_interval must be in (0s, 1m], got %s", c.SweepInterval)
	}
	return nil
}

// Addr returns the host:port the server listens on.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// UsersDir returns the directory holding the user store.
func (c *ServerConfig) UsersDir() string { return filepath.Join(c.DataDir, "users") }

// MetadataDir returns the directory holding file/directory metadata.
func (c *ServerConfig) MetadataDir() string { return filepath.Join(c.DataDir, "metadata") }

// FilesDir returns the directory holding file chunk payloads.
func (c *ServerConfig) FilesDir() string { return filepath.Join(c.DataDir, "files") }

// Package config loads vtasync server configuration from TOML with
// environment overrides, following the layering the rest of the stack
// expects: file defaults < config file < APP_ prefixed env vars < flags.
package config

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config holds all configuration for the vtasync server.
type Config struct {
	ListenIP   string         `mapstructure:"listen_ip"`
	ListenPort int            `mapstructure:"listen_port"`
	LogLevel   string         `mapstructure:"log_level"`
	Secure     bool           `mapstructure:"secure"`
	Database   DatabaseConfig `mapstructure:"database"`
}

// DatabaseConfig describes the relational store connection.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DB       string `mapstructure:"db"`
	MaxConn  int    `mapstructure:"max_conn"`
}

// Addr returns the listen address in host:port form.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.ListenIP, c.ListenPort)
}

// Load reads configuration from an optional TOML file, environment
// variables prefixed APP_, and bound command flags, in that precedence
// order (flags win).
func Load(cmd *cobra.Command) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if err := bindFlags(cmd, v); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	if configFile, _ := cmd.Flags().GetString("config"); configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("APP")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_ip", "127.0.0.1")
	v.SetDefault("listen_port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("secure", true)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "vtasync")
	v.SetDefault("database.db", "vtasync.db")
	v.SetDefault("database.max_conn", 10)
}

func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	flags := map[string]string{
		"listen-ip":   "listen_ip",
		"listen-port": "listen_port",
		"log-level":   "log_level",
		"secure":      "secure",
	}

	for flag, key := range flags {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}

	return nil
}

func validate(cfg *Config) error {
	if cfg.ListenPort <= 0 || cfg.ListenPort > 65535 {
		return fmt.Errorf("listen_port out of range: %d", cfg.ListenPort)
	}
	if cfg.Database.DB == "" {
		return fmt.Errorf("database.db is required")
	}
	if cfg.Database.MaxConn <= 0 {
		return fmt.Errorf("database.max_conn must be positive")
	}
	return nil
}

// Package config loads server settings.
package config

import (
	"errors"
	"time"
)

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	LogFormat         string        `mapstructure:"log_format" yaml:"log_format"`

	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`

	JWTSecret   string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	JWTTTL      time.Duration `mapstructure:"jwt_ttl" yaml:"jwt_ttl"`

	IdleTimeout       time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	SendQueueSize     int           `mapstructure:"send_queue_size" yaml:"send_queue_size"`
	MaxMessageBytes   int64         `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	MaxBodyChars      int           `mapstructure:"max_body_chars" yaml:"max_body_chars"`
	MessagesPerMinute int           `mapstructure:"messages_per_minute" yaml:"messages_per_minute"`
	HistoryLimit      int           `mapstructure:"history_limit" yaml:"history_limit"`
	AllowedOrigins    []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		LogFormat:         "console",
		DatabasePath:      "boundless.db",
		JWTSecret:         "change-me",
		JWTIssuer:         "boundless",
		JWTAudience:       "boundless",
		JWTTTL:            24 * time.Hour,
		IdleTimeout:       5 * time.Minute,
		WriteTimeout:      10 * time.Second,
		SendQueueSize:     64,
		MaxMessageBytes:   16 << 10,
		MaxBodyChars:      4000,
		MessagesPerMinute: 60,
		HistoryLimit:      50,
	}
}

// Validate reports settings the server cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if c.DatabasePath == "" {
		errs = append(errs, errors.New("database_path is required"))
	}
	if c.LogFormat != "console" && c.LogFormat != "json" {
		errs = append(errs, errors.New("log_format must be console or json"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("jwt_secret is required"))
	}
	if c.JWTTTL <= 0 {
		errs = append(errs, errors.New("jwt_ttl must be positive"))
	}
	if c.SendQueueSize <= 0 {
		errs = append(errs, errors.New("send_queue_size must be positive"))
	}
	if c.MaxBodyChars <= 0 {
		errs = append(errs, errors.New("max_body_chars must be positive"))
	}
	return errors.Join(errs...)
}

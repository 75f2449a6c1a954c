package config

import (
	"fmt"
	"time"
)

// ServerConfig configures the HTTP gateway.
type ServerConfig struct {
	Host     string `yaml:"host"`
	HTTPPort int    `yaml:"http_port"`

	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`

	// ShutdownTimeout bounds graceful shutdown: draining lanes, flushing
	// sessions and exporting spans. Default: 30s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// TurnTimeout bounds a synchronous turn request. Zero waits for as long
	// as the client stays connected.
	TurnTimeout time.Duration `yaml:"turn_timeout"`

	// MaxBodyBytes caps request bodies. Default: 1 MiB.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.HTTPPort == 0 {
		cfg.HTTPPort = 8080
	}
	if cfg.ReadHeaderTimeout == 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
}

func (c ServerConfig) validate() []string {
	var issues []string
	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		issues = append(issues, fmt.Sprintf("server.http_port %d is out of range", c.HTTPPort))
	}
	if c.TurnTimeout < 0 {
		issues = append(issues, "server.turn_timeout must be >= 0")
	}
	if c.MaxBodyBytes < 0 {
		issues = append(issues, "server.max_body_bytes must be >= 0")
	}
	return issues
}

// AuthConfig configures bearer-token authentication. An empty JWTSecret
// leaves the API open.
type AuthConfig struct {
	JWTSecret   string        `yaml:"jwt_secret"`
	TokenExpiry time.Duration `yaml:"token_expiry"`
}

func applyAuthDefaults(cfg *AuthConfig) {
	if cfg.TokenExpiry == 0 {
		cfg.TokenExpiry = 24 * time.Hour
	}
}

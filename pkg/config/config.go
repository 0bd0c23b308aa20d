package config

import (
	"fmt"
	"time"

	"signalhub-backend/pkg/constants"
	"signalhub-backend/pkg/env"
)

// Config holds all configuration for the signaling service
type Config struct {
	Server ServerConfig
	Redis  RedisConfig
	Turn   TurnConfig
	JWT    JWTConfig
	WS     WSConfig
	Call   CallConfig
	Log    LogConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port        int
	Environment string // development, staging, production
	ServiceName string
}

// RedisConfig holds Redis configuration for the presence mirror
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
	Timeout  time.Duration
}

// TurnConfig holds relay-server credential configuration
type TurnConfig struct {
	// Secret is the shared secret used to sign short-lived credentials.
	// When empty the issuer falls back to non-authoritative demo credentials.
	Secret string
	// Label is the service label embedded in issued usernames
	Label string
	// URLs are the TURN relay URLs handed to clients
	URLs []string
	// StunURLs are plain STUN servers handed to clients without credentials
	StunURLs []string
}

// JWTConfig holds identity-token verification configuration.
// Token issuance belongs to the auth service; this service only verifies.
type JWTConfig struct {
	Secret string
}

// WSConfig holds WebSocket gateway configuration
type WSConfig struct {
	MaxConnections int
	AllowedOrigins []string
}

// CallConfig holds call lifecycle configuration
type CallConfig struct {
	RingTimeout time.Duration
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, text
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:        env.GetInt("PORT", 8084),
			Environment: env.GetString("ENV", "development"),
			ServiceName: env.GetString("SERVICE_NAME", "signaling-service"),
		},
		Redis: RedisConfig{
			Host:     env.GetString("REDIS_HOST", "localhost"),
			Port:     env.GetInt("REDIS_PORT", 6379),
			Password: env.GetStringFromFile("REDIS_PASSWORD", ""),
			DB:       env.GetInt("REDIS_DB", 0),
			PoolSize: env.GetInt("REDIS_POOL_SIZE", 10),
			Timeout:  env.GetDuration("REDIS_TIMEOUT", 5*time.Second),
		},
		Turn: TurnConfig{
			Secret: env.GetStringFromFile("TURN_SECRET", ""),
			Label:  env.GetString("TURN_LABEL", "signalhub"),
			URLs: env.GetStringSlice("TURN_URLS", []string{
				"turn:localhost:3478?transport=udp",
				"turns:localhost:5349?transport=tcp",
			}),
			StunURLs: env.GetStringSlice("STUN_URLS", []string{
				"stun:stun.l.google.com:19302",
			}),
		},
		JWT: JWTConfig{
			Secret: env.GetStringFromFile("JWT_SECRET", ""),
		},
		WS: WSConfig{
			MaxConnections: env.GetInt("WS_MAX_SIGNALING_CONNECTIONS", constants.MaxSignalingConnections),
			AllowedOrigins: env.GetStringSlice("CORS_ALLOWED_ORIGINS", []string{
				"http://localhost:3000",
				"http://localhost:8080",
				"http://127.0.0.1:3000",
				"http://127.0.0.1:8080",
			}),
		},
		Call: CallConfig{
			RingTimeout: env.GetDuration("CALL_RING_TIMEOUT", constants.RingTimeout),
		},
		Log: LogConfig{
			Level:  env.GetString("LOG_LEVEL", "info"),
			Format: env.GetString("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks configuration consistency
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Call.RingTimeout <= 0 {
		return fmt.Errorf("invalid ring timeout: %v", c.Call.RingTimeout)
	}
	if c.Server.Environment == "production" && c.Turn.Secret == "" {
		return fmt.Errorf("TURN_SECRET is required in production")
	}
	if c.Server.Environment == "production" && c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required in production")
	}
	return nil
}

// IsProduction reports whether the service runs in production mode
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

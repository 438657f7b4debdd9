package config

import (
	"encoding/base64"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DriverPostgres = "postgres"
	DriverSqlite   = "sqlite"

	defaultSigningKey  = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="
	defaultSendTimeout = 5 * time.Second
)

type Config struct {
	ServerAddr     string
	AllowedOrigins []string
	DatabaseDriver string
	DatabaseDSN    string
	SigningKey     []byte
	SendTimeout    time.Duration
	LogLevel       string
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(base64Secret)
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("empty signing secret")
	}
	return key, nil
}

func NewConfig(serverAddr, driver, databaseDSN, base64Secret string, allowedOrigins []string, sendTimeout time.Duration) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if !slices.Contains([]string{DriverPostgres, DriverSqlite}, driver) {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}
	if sendTimeout <= 0 {
		return nil, fmt.Errorf("send timeout must be positive")
	}

	// Decode the base64 encoded signing secret
	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		ServerAddr:     serverAddr,
		AllowedOrigins: allowedOrigins,
		DatabaseDriver: driver,
		DatabaseDSN:    databaseDSN,
		SigningKey:     signingKey,
		SendTimeout:    sendTimeout,
	}, nil
}

// SetDefaults registers the default value of every key Load reads.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "localhost:8000")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.dsn", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable")
	v.SetDefault("auth.signing_key", defaultSigningKey)
	v.SetDefault("chat.send_timeout", defaultSendTimeout)
	v.SetDefault("log.level", "info")
}

// Load builds a Config from v. Environment variables prefixed with
// GOCHAT_ override file values, e.g. GOCHAT_DATABASE_DSN.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix("gochat")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg, err := NewConfig(
		v.GetString("server.addr"),
		v.GetString("database.driver"),
		v.GetString("database.dsn"),
		v.GetString("auth.signing_key"),
		splitOrigins(v.GetStringSlice("server.allowed_origins")),
		v.GetDuration("chat.send_timeout"),
	)
	if err != nil {
		return nil, err
	}

	cfg.LogLevel = v.GetString("log.level")
	return cfg, nil
}

// splitOrigins accepts both list values and a single comma separated value
// as set through the environment.
func splitOrigins(in []string) []string {
	var out []string
	for _, o := range in {
		for _, part := range strings.Split(o, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

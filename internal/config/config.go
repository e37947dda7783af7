// Package config loads process configuration from the environment,
// grounded on webitel-im-delivery-service's go.mod dependency on
// spf13/viper (no standalone config.go survived distillation in that
// repo, so the wiring here follows viper's own documented idiom:
// AutomaticEnv plus an optional override file).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every setting named in spec.md §6's external interfaces.
type Config struct {
	// TCP signaling listener (C1-C7).
	Addr string

	// UDP media relay listener (C8).
	UDPAddr string

	// HTTPS CRUD surface (supplemented, §5).
	HTTPAddr string

	// Prometheus exposition endpoint.
	MetricsAddr string

	// TLS material. When either is empty a self-signed certificate is
	// generated for local development (internal/tlsutil).
	TLSCertPath string
	TLSKeyPath  string

	// Persistence (C9). StorePath is a filesystem path to the sqlite
	// database standing in for the original's Scylla cluster URI. It is
	// read from SCYLLA_URI, or from STORE_PATH when SCYLLA_URI is unset.
	StorePath string

	// Directory file transfers (C7) are written under.
	StorageMedia string

	// Object-store mirror for Image/Video media (spec.md §9). Empty Host
	// disables the upload hook.
	MinioHost     string
	MinioPort     string
	MinioRootUser string
	MinioRootPass string

	// JWT signing secret (C4). Must be non-empty in production.
	JWTSecret string

	// zap level name: debug, info, warn, error.
	LogLevel string

	// Controls internal/logging's production vs development encoder.
	Env string
}

// Load reads configuration from the environment (and, if present, a
// config file named by NEXUS_CONFIG), applying defaults for everything
// optional.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("ADDR", ":7777")
	v.SetDefault("UDP_ADDR", ":7778")
	v.SetDefault("HTTP_ADDR", ":8443")
	v.SetDefault("METRICS_ADDR", ":9090")
	v.SetDefault("STORE_PATH", "nexus.db")
	v.SetDefault("STORAGE_MEDIA", "./media")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("ENV", "development")

	if cfgFile := v.GetString("NEXUS_CONFIG"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	cfg := &Config{
		Addr:          v.GetString("ADDR"),
		UDPAddr:       v.GetString("UDP_ADDR"),
		HTTPAddr:      v.GetString("HTTP_ADDR"),
		MetricsAddr:   v.GetString("METRICS_ADDR"),
		TLSCertPath:   v.GetString("TLS_CERT_PATH"),
		TLSKeyPath:    v.GetString("TLS_KEY_PATH"),
		StorePath:     v.GetString("STORE_PATH"),
		StorageMedia:  v.GetString("STORAGE_MEDIA"),
		MinioHost:     v.GetString("MINIO_HOST"),
		MinioPort:     v.GetString("MINIO_PORT"),
		MinioRootUser: v.GetString("MINIO_ROOT_USER"),
		MinioRootPass: v.GetString("MINIO_ROOT_PASSWORD"),
		JWTSecret:     v.GetString("JWT_SECRET"),
		LogLevel:      v.GetString("LOG_LEVEL"),
		Env:           v.GetString("ENV"),
	}
	if uri := v.GetString("SCYLLA_URI"); uri != "" {
		cfg.StorePath = uri
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("config: JWT_SECRET is required")
	}

	return cfg, nil
}

// StartupRetryDelay is how long the entrypoint waits between database
// connection attempts during startup (original_source/nexus/src/db.rs
// retries the Scylla connection on a fixed backoff before giving up).
const StartupRetryDelay = 2 * time.Second

// StartupRetryAttempts bounds the startup retry loop.
const StartupRetryAttempts = 10

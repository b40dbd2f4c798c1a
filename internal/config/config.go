// Package config loads client and server configuration from an optional YAML
// file overlaid with environment variables.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// ClientConfig configures the alarm client.
type ClientConfig struct {
	DatabasePath     string        `yaml:"database_path" env:"ALARMIFY_DB" env-default:"alarmify.db"`
	CloudURL         string        `yaml:"cloud_url" env:"ALARMIFY_CLOUD_URL" env-default:"http://localhost:8080"`
	TickInterval     time.Duration `yaml:"tick_interval" env:"ALARMIFY_TICK_INTERVAL" env-default:"1s"`
	AutoSyncInterval time.Duration `yaml:"auto_sync_interval" env:"ALARMIFY_AUTO_SYNC_INTERVAL" env-default:"30m"`
	TombstoneGrace   time.Duration `yaml:"tombstone_grace" env:"ALARMIFY_TOMBSTONE_GRACE" env-default:"720h"`

	// Spotify credentials are obtained externally; the client only refreshes
	// them.
	SpotifyClientID     string `yaml:"spotify_client_id" env:"ALARMIFY_SPOTIFY_CLIENT_ID"`
	SpotifyAccessToken  string `yaml:"spotify_access_token" env:"ALARMIFY_SPOTIFY_ACCESS_TOKEN"`
	SpotifyRefreshToken string `yaml:"spotify_refresh_token" env:"ALARMIFY_SPOTIFY_REFRESH_TOKEN"`
}

// ServerConfig configures the cloud server.
type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"ALARMIFY_ADDR" env-default:":8080"`
	DatabaseDSN     string        `yaml:"database_dsn" env:"ALARMIFY_DATABASE_DSN" env-required:"true"`
	JWTSecret       string        `yaml:"jwt_secret" env:"ALARMIFY_JWT_SECRET" env-required:"true"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl" env:"ALARMIFY_ACCESS_TOKEN_TTL" env-default:"15m"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl" env:"ALARMIFY_REFRESH_TOKEN_TTL" env-default:"720h"`
	TombstoneGrace  time.Duration `yaml:"tombstone_grace" env:"ALARMIFY_TOMBSTONE_GRACE" env-default:"720h"`
}

// LoadClient reads the client configuration. A missing path falls back to
// environment variables and defaults.
func LoadClient(path string) (*ClientConfig, error) {
	cfg := &ClientConfig{}
	if err := load(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadServer reads the server configuration. A missing path falls back to
// environment variables and defaults.
func LoadServer(path string) (*ServerConfig, error) {
	cfg := &ServerConfig{}
	if err := load(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func load(path string, cfg any) error {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := cleanenv.ReadConfig(path, cfg); err != nil {
				return fmt.Errorf("reading config %s: %w", path, err)
			}
			return nil
		}
	}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return fmt.Errorf("reading environment: %w", err)
	}
	return nil
}

// Package config loads daemon configuration from environment variables,
// optional config file, and command-line flags via viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix            = "INKWELL"
	defaultControlAddr   = "127.0.0.1:7411"
	defaultDatabasePath  = "inkwell-sync.db"
	defaultLogLevel      = "info"
	defaultSyncInterval  = 5 * time.Minute
	defaultSettleWindow  = 700 * time.Millisecond
	defaultSkewBufferMin = 15
)

// AppConfig captures runtime configuration for the sync daemon.
type AppConfig struct {
	ControlAddress       string
	ControlSigningSecret string
	ControlPairingSecret string
	RemoteBaseURL        string
	RemoteAccessToken    string
	NotifyURL            string
	DatabasePath         string
	LogLevel             string
	ReplicaID            string
	SyncInterval         time.Duration
	SettleWindow         time.Duration
	SkewBuffer           time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper
// instance. Every key maps to an INKWELL_-prefixed variable with dots
// replaced by underscores.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("control.address", defaultControlAddr)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("sync.interval", defaultSyncInterval)
	configViper.SetDefault("sync.settle_window", defaultSettleWindow)
	configViper.SetDefault("sync.skew_buffer_minutes", defaultSkewBufferMin)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		ControlAddress:       configViper.GetString("control.address"),
		ControlSigningSecret: configViper.GetString("control.signing_secret"),
		ControlPairingSecret: configViper.GetString("control.pairing_secret"),
		RemoteBaseURL:        configViper.GetString("remote.base_url"),
		RemoteAccessToken:    configViper.GetString("remote.access_token"),
		NotifyURL:            configViper.GetString("remote.notify_url"),
		DatabasePath:         configViper.GetString("database.path"),
		LogLevel:             configViper.GetString("log.level"),
		ReplicaID:            configViper.GetString("sync.replica_id"),
		SyncInterval:         configViper.GetDuration("sync.interval"),
		SettleWindow:         configViper.GetDuration("sync.settle_window"),
		SkewBuffer:           time.Duration(configViper.GetInt("sync.skew_buffer_minutes")) * time.Minute,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.RemoteBaseURL) == "" {
		return fmt.Errorf("remote.base_url is required")
	}
	if strings.TrimSpace(c.ControlSigningSecret) == "" {
		return fmt.Errorf("control.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("sync.interval must be positive")
	}
	return nil
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                 = "SKETCHBOARD"
	defaultHTTPAddress        = "0.0.0.0:8080"
	defaultDatabaseDriver     = "sqlite"
	defaultDatabaseDSN        = "sketchboard.db"
	defaultLogLevel           = "info"
	defaultLogFormat          = "json"
	defaultCookieName         = "sketchboard_session"
	defaultIssuer             = "sketchboard"
	defaultMembershipPolicy   = "open"
	defaultSnapshotTTL        = 5 * time.Minute
	defaultTombstoneRetention = 24 * time.Hour
	defaultSweepInterval      = 10 * time.Minute
	defaultServerURL          = "http://localhost:8080"
	defaultFlushDebounce      = 10 * time.Millisecond
	defaultFlushMaxWait       = 250 * time.Millisecond
	defaultRequestTimeout     = 15 * time.Second
	defaultResyncInterval     = 30 * time.Second
	defaultViewSaveDelay      = time.Second
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress        string
	AllowedOrigins     []string
	SigningSecret      string
	CookieName         string
	Issuer             string
	DatabaseDriver     string
	DatabaseDSN        string
	RedisURL           string
	SnapshotTTL        time.Duration
	MembershipPolicy   string
	TombstoneRetention time.Duration
	SweepInterval      time.Duration
	LogLevel           string
	LogFormat          string
}

// ClientConfig captures runtime configuration for the headless client.
type ClientConfig struct {
	ServerURL      string
	Token          string
	RoomID         string
	ClientID       string
	FlushDebounce  time.Duration
	FlushMaxWait   time.Duration
	RequestTimeout time.Duration
	ResyncInterval time.Duration
	ViewSaveDelay  time.Duration
	LogLevel       string
	LogFormat      string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper
// instance. SKETCHBOARD_DATABASE_DSN overrides database.dsn and so on.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.allowed_origins", []string{})
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("auth.issuer", defaultIssuer)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.dsn", defaultDatabaseDSN)
	configViper.SetDefault("redis.url", "")
	configViper.SetDefault("snapshot.ttl", defaultSnapshotTTL)
	configViper.SetDefault("membership.policy", defaultMembershipPolicy)
	configViper.SetDefault("tombstone.retention", defaultTombstoneRetention)
	configViper.SetDefault("tombstone.sweep_interval", defaultSweepInterval)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)

	configViper.SetDefault("client.server_url", defaultServerURL)
	configViper.SetDefault("client.room", "")
	configViper.SetDefault("client.client_id", "")
	configViper.SetDefault("client.flush_debounce", defaultFlushDebounce)
	configViper.SetDefault("client.flush_max_wait", defaultFlushMaxWait)
	configViper.SetDefault("client.request_timeout", defaultRequestTimeout)
	configViper.SetDefault("client.resync_interval", defaultResyncInterval)
	configViper.SetDefault("client.view_save_delay", defaultViewSaveDelay)
}

// Load parses server configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:        configViper.GetString("http.address"),
		AllowedOrigins:     splitList(configViper.GetStringSlice("http.allowed_origins")),
		SigningSecret:      configViper.GetString("auth.signing_secret"),
		CookieName:         configViper.GetString("auth.cookie_name"),
		Issuer:             configViper.GetString("auth.issuer"),
		DatabaseDriver:     configViper.GetString("database.driver"),
		DatabaseDSN:        configViper.GetString("database.dsn"),
		RedisURL:           configViper.GetString("redis.url"),
		SnapshotTTL:        configViper.GetDuration("snapshot.ttl"),
		MembershipPolicy:   configViper.GetString("membership.policy"),
		TombstoneRetention: configViper.GetDuration("tombstone.retention"),
		SweepInterval:      configViper.GetDuration("tombstone.sweep_interval"),
		LogLevel:           configViper.GetString("log.level"),
		LogFormat:          configViper.GetString("log.format"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.DatabaseDriver)) {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.DatabaseDriver)
	}
	if c.TombstoneRetention <= 0 {
		return fmt.Errorf("tombstone.retention must be positive")
	}
	return nil
}

// LoadClient parses headless client configuration from viper.
func LoadClient(configViper *viper.Viper) (ClientConfig, error) {
	cfg := ClientConfig{
		ServerURL:      strings.TrimRight(configViper.GetString("client.server_url"), "/"),
		Token:          configViper.GetString("client.token"),
		RoomID:         configViper.GetString("client.room"),
		ClientID:       configViper.GetString("client.client_id"),
		FlushDebounce:  configViper.GetDuration("client.flush_debounce"),
		FlushMaxWait:   configViper.GetDuration("client.flush_max_wait"),
		RequestTimeout: configViper.GetDuration("client.request_timeout"),
		ResyncInterval: configViper.GetDuration("client.resync_interval"),
		ViewSaveDelay:  configViper.GetDuration("client.view_save_delay"),
		LogLevel:       configViper.GetString("log.level"),
		LogFormat:      configViper.GetString("log.format"),
	}
	if strings.TrimSpace(cfg.ServerURL) == "" {
		return ClientConfig{}, fmt.Errorf("client.server_url is required")
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return ClientConfig{}, fmt.Errorf("client.token is required")
	}
	if strings.TrimSpace(cfg.RoomID) == "" {
		return ClientConfig{}, fmt.Errorf("client.room is required")
	}
	return cfg, nil
}

func splitList(values []string) []string {
	result := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
	}
	return result
}

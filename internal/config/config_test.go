package config

import (
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "secret")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.HTTPAddress != defaultHTTPAddress || cfg.DatabaseDriver != "sqlite" || cfg.DatabaseDSN != defaultDatabaseDSN {
		t.Fatalf("unexpected defaults %#v", cfg)
	}
	if cfg.SnapshotTTL != 5*time.Minute || cfg.TombstoneRetention != 24*time.Hour || cfg.SweepInterval != 10*time.Minute {
		t.Fatalf("unexpected durations %#v", cfg)
	}
	if cfg.CookieName != defaultCookieName || cfg.MembershipPolicy != "open" {
		t.Fatalf("unexpected auth defaults %#v", cfg)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("SKETCHBOARD_AUTH_SIGNING_SECRET", "from-env")
	t.Setenv("SKETCHBOARD_DATABASE_DRIVER", "postgres")
	t.Setenv("SKETCHBOARD_DATABASE_DSN", "postgres://localhost/sketchboard")
	t.Setenv("SKETCHBOARD_SNAPSHOT_TTL", "90s")

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.SigningSecret != "from-env" || cfg.DatabaseDriver != "postgres" {
		t.Fatalf("expected env overrides, got %#v", cfg)
	}
	if cfg.SnapshotTTL != 90*time.Second {
		t.Fatalf("expected 90s ttl, got %v", cfg.SnapshotTTL)
	}
}

func TestLoadValidates(t *testing.T) {
	if _, err := Load(NewViper()); err == nil {
		t.Fatalf("expected missing signing secret error")
	}
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "secret")
	configViper.Set("database.driver", "mysql")
	if _, err := Load(configViper); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}

func TestLoadSplitsAllowedOrigins(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "secret")
	configViper.Set("http.allowed_origins", []string{"https://a.example, https://b.example", " "})

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins %#v", cfg.AllowedOrigins)
	}
}

func TestLoadClient(t *testing.T) {
	configViper := NewViper()
	if _, err := LoadClient(configViper); err == nil {
		t.Fatalf("expected missing token error")
	}
	configViper.Set("client.token", "token")
	configViper.Set("client.room", "room-1")
	configViper.Set("client.server_url", "http://example.test/")

	cfg, err := LoadClient(configViper)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.ServerURL != "http://example.test" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.ServerURL)
	}
	if cfg.FlushDebounce != 10*time.Millisecond || cfg.FlushMaxWait != 250*time.Millisecond || cfg.ResyncInterval != 30*time.Second {
		t.Fatalf("unexpected client defaults %#v", cfg)
	}
}

package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("BOOTSTRAP_ADMIN_PASSWORD", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if cfg.BootstrapAdminPassword != "" {
		t.Fatalf("expected empty BOOTSTRAP_ADMIN_PASSWORD when unset, got %q", cfg.BootstrapAdminPassword)
	}
}

func TestLoadFallsBackOnInvalidNumbers(t *testing.T) {
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "soon")
	t.Setenv("RESTOCK_REPORT_TTL_SECONDS", "0")
	t.Setenv("REDIS_DB", "3")

	cfg := Load()
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("expected default token ttl, got %d", cfg.AccessTokenTTLMinutes)
	}
	if cfg.RestockReportTTLSeconds != 60 {
		t.Fatalf("expected default report ttl, got %d", cfg.RestockReportTTLSeconds)
	}
	if cfg.RedisDB != 3 {
		t.Fatalf("expected redis db 3, got %d", cfg.RedisDB)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("RUN_MIGRATIONS", "true")
	t.Setenv("LOG_FORMAT", "console")

	cfg := Load()
	if cfg.Address() != ":9090" {
		t.Fatalf("unexpected address %q", cfg.Address())
	}
	if !cfg.RunMigrations {
		t.Fatalf("expected migrations enabled")
	}
	if cfg.LogFormat != "console" {
		t.Fatalf("unexpected log format %q", cfg.LogFormat)
	}
}

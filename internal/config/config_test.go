package config

import (
	"slices"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"DB_PORT", "DB_SSLMODE", "HTTP_ADDR", "JWT_TTL", "CORS_ORIGINS", "VISION_ENABLED", "WRITEBACK_WORKERS"} {
		t.Setenv(k, "")
	}
	cfg := Load()

	if cfg.DBPort != 5432 || cfg.DBSSLMode != "disable" || cfg.HTTPAddr != ":8080" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.JWTTTL != 24*time.Hour || cfg.VisionEnabled || cfg.WritebackWorkers != 4 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if !slices.Equal(cfg.CORSOrigins, []string{"*"}) {
		t.Fatalf("cors default: %v", cfg.CORSOrigins)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("DB_USER", "fs")
	t.Setenv("DB_PASSWORD", "pw")
	t.Setenv("DB_NAME", "fieldservice")
	t.Setenv("DB_SSLMODE", "require")
	t.Setenv("JWT_TTL", "90m")
	t.Setenv("CORS_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("VISION_ENABLED", "true")
	t.Setenv("SHUTDOWN_TIMEOUT", "bogus")

	cfg := Load()
	want := "host=db port=6543 user=fs password=pw dbname=fieldservice sslmode=require"
	if got := cfg.ConnString(); got != want {
		t.Fatalf("ConnString = %q, want %q", got, want)
	}
	if cfg.JWTTTL != 90*time.Minute || !cfg.VisionEnabled {
		t.Fatalf("unexpected values: %+v", cfg)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Fatalf("bad duration should fall back, got %v", cfg.ShutdownTimeout)
	}
	if !slices.Equal(cfg.CORSOrigins, []string{"https://a.example", "https://b.example"}) {
		t.Fatalf("cors: %v", cfg.CORSOrigins)
	}
}

func TestValidate(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	cfg := Load()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error without JWT_SECRET")
	}
	cfg.JWTSecret = []byte("x")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

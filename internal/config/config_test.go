package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	t.Run("creates defaults", func(t *testing.T) {
		dir := t.TempDir()
		cfg, err := Load(dir)
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Driver != "jsonl" {
			t.Errorf("Driver = %q", cfg.Driver)
		}
		if len(cfg.JWTSecret) != 64 {
			t.Errorf("JWTSecret length = %d", len(cfg.JWTSecret))
		}
		if _, err := os.Stat(filepath.Join(dir, FileName)); err != nil {
			t.Fatal(err)
		}
		again, err := Load(dir)
		if err != nil {
			t.Fatal(err)
		}
		if again.JWTSecret != cfg.JWTSecret {
			t.Error("secret was regenerated")
		}
	})
	t.Run("partial file", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "driver: sqlite\ntoken_ttl: 1h\n")
		cfg, err := Load(dir)
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Driver != "sqlite" || cfg.TokenTTL != time.Hour {
			t.Errorf("got %+v", cfg)
		}
		if cfg.Login.Attempts != 5 {
			t.Errorf("Login.Attempts = %d", cfg.Login.Attempts)
		}
		if cfg.JWTSecret == "" {
			t.Error("secret not generated")
		}
	})
	errs := []struct {
		name    string
		content string
		want    string
	}{
		{"syntax", "driver: [", "failed to parse"},
		{"driver", "driver: mongo\n", "unknown driver"},
		{"short secret", "jwt_secret: abcd\n", "at least 32 bytes"},
		{"bad secret", "jwt_secret: zz\n", "hex encoded"},
		{"login", "login:\n  attempts: -1\n", "login: attempts"},
	}
	for _, tt := range errs {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, dir, tt.content)
			_, err := Load(dir)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load() error = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestSaveInvalid(t *testing.T) {
	cfg := Default()
	if err := cfg.Save(t.TempDir()); err == nil {
		t.Fatal("expected error without secret")
	}
}

func writeFile(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

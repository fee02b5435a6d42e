package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"DATABASE_URL", "DATABASE_DRIVER", "RECOGNITION_THRESHOLD", "EMBEDDING_DIM",
		"UNKNOWN_STREAK_FRAMES", "UNKNOWN_TRACK_TTL", "ATTENDANCE_TIMEZONE", "ATTENDANCE_MODE",
	} {
		os.Unsetenv(key)
	}

	cfg := Load()

	if cfg.Database.Driver != "sqlite" {
		t.Errorf("expected sqlite driver without DATABASE_URL, got %q", cfg.Database.Driver)
	}
	if cfg.Recognition.Threshold != 0.6 {
		t.Errorf("expected default threshold 0.6, got %v", cfg.Recognition.Threshold)
	}
	if cfg.Recognition.EmbeddingDim != 512 {
		t.Errorf("expected default embedding dim 512, got %d", cfg.Recognition.EmbeddingDim)
	}
	if cfg.Recognition.UnknownStreak != 10 {
		t.Errorf("expected default unknown streak 10, got %d", cfg.Recognition.UnknownStreak)
	}
	if cfg.Recognition.TrackTTL != 1500*time.Millisecond {
		t.Errorf("expected default track TTL 1.5s, got %v", cfg.Recognition.TrackTTL)
	}
	if cfg.Attendance.TimeZone != "UTC" {
		t.Errorf("expected UTC, got %q", cfg.Attendance.TimeZone)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected defaults to validate, got %v", err)
	}
}

func TestLoad_PostgresInferredFromURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/rupx")
	t.Setenv("DATABASE_DRIVER", "")

	cfg := Load()

	if cfg.Database.Driver != "postgres" {
		t.Errorf("expected postgres driver, got %q", cfg.Database.Driver)
	}
}

func TestLoad_InvalidNumbersFallBack(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
		check func(*Config) bool
	}{
		{"threshold not a number", "RECOGNITION_THRESHOLD", "high", func(c *Config) bool { return c.Recognition.Threshold == 0.6 }},
		{"negative threshold", "RECOGNITION_THRESHOLD", "-0.5", func(c *Config) bool { return c.Recognition.Threshold == 0.6 }},
		{"zero dim", "EMBEDDING_DIM", "0", func(c *Config) bool { return c.Recognition.EmbeddingDim == 512 }},
		{"bad duration", "UNKNOWN_TRACK_TTL", "soon", func(c *Config) bool { return c.Recognition.TrackTTL == 1500*time.Millisecond }},
		{"custom duration", "UNKNOWN_TRACK_TTL", "3s", func(c *Config) bool { return c.Recognition.TrackTTL == 3*time.Second }},
		{"custom threshold", "RECOGNITION_THRESHOLD", "0.42", func(c *Config) bool { return c.Recognition.Threshold == 0.42 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if !tt.check(Load()) {
				t.Errorf("unexpected value for %s=%q", tt.key, tt.value)
			}
		})
	}
}

func TestLoad_AllowedOrigins(t *testing.T) {
	t.Setenv("WEB_ALLOWED_ORIGINS", "https://a.example.com, ,https://b.example.com")

	cfg := Load()

	if len(cfg.Web.AllowedOrigins) != 2 {
		t.Fatalf("expected 2 origins, got %v", cfg.Web.AllowedOrigins)
	}
	if cfg.Web.AllowedOrigins[1] != "https://b.example.com" {
		t.Errorf("unexpected origin %q", cfg.Web.AllowedOrigins[1])
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"postgres without url", func(c *Config) { c.Database.Driver = "postgres"; c.Database.URL = "" }, "DATABASE_URL is required"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "oracle" }, "unsupported DATABASE_DRIVER"},
		{"threshold above one", func(c *Config) { c.Recognition.Threshold = 1.5 }, "RECOGNITION_THRESHOLD"},
		{"bad mode", func(c *Config) { c.Attendance.DefaultMode = "weekly" }, "ATTENDANCE_MODE"},
		{"bad zone", func(c *Config) { c.Attendance.TimeZone = "Mars/Olympus" }, "attendance time zone"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Database:    DatabaseConfig{Driver: "sqlite"},
				Recognition: RecognitionConfig{Threshold: 0.6},
				Attendance:  AttendanceConfig{TimeZone: "UTC", DefaultMode: "daily"},
			}
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLocation(t *testing.T) {
	cfg := AttendanceConfig{TimeZone: "Asia/Kolkata"}

	loc, err := cfg.Location()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loc.String() != "Asia/Kolkata" {
		t.Errorf("expected Asia/Kolkata, got %s", loc)
	}
}

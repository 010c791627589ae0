package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"unset uses default", "", 5 * time.Minute},
		{"go duration", "90s", 90 * time.Second},
		{"hours and minutes", "1h50m", 110 * time.Minute},
		{"bare number is minutes", "15", 15 * time.Minute},
		{"garbage uses default", "soon", 5 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("PAGEFEED_TEST_DURATION", tt.value)
			got := GetEnvDuration("PAGEFEED_TEST_DURATION", 5*time.Minute)
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvNumbers(t *testing.T) {
	t.Setenv("PAGEFEED_TEST_INT", "12")
	t.Setenv("PAGEFEED_TEST_FLOAT", "0.5")
	t.Setenv("PAGEFEED_TEST_BAD", "x")

	if got := GetEnvInt("PAGEFEED_TEST_INT", 1); got != 12 {
		t.Errorf("GetEnvInt: got %d", got)
	}
	if got := GetEnvInt("PAGEFEED_TEST_BAD", 1); got != 1 {
		t.Errorf("GetEnvInt fallback: got %d", got)
	}
	if got := GetEnvInt64("PAGEFEED_TEST_INT", 1); got != 12 {
		t.Errorf("GetEnvInt64: got %d", got)
	}
	if got := GetEnvFloat("PAGEFEED_TEST_FLOAT", 1); got != 0.5 {
		t.Errorf("GetEnvFloat: got %v", got)
	}
	if got := GetEnvLogLevel("PAGEFEED_TEST_BAD", zerolog.WarnLevel); got != zerolog.WarnLevel {
		t.Errorf("GetEnvLogLevel fallback: got %v", got)
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "PAGEFEED_TEST_FROM_FILE=postgres://watcher@db/pagefeed\nPAGEFEED_TEST_PRESET=file\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("PAGEFEED_TEST_PRESET", "env")
	t.Cleanup(func() { os.Unsetenv("PAGEFEED_TEST_FROM_FILE") })

	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("LoadEnvFile: %v", err)
	}
	if got := GetEnvString("PAGEFEED_TEST_FROM_FILE", ""); got != "postgres://watcher@db/pagefeed" {
		t.Errorf("value from file: got %q", got)
	}
	if got := GetEnvString("PAGEFEED_TEST_PRESET", ""); got != "env" {
		t.Errorf("existing variable overridden: got %q", got)
	}

	if err := LoadEnvFile(filepath.Join(dir, "missing.env")); err != nil {
		t.Errorf("missing file should be ignored, got %v", err)
	}
}

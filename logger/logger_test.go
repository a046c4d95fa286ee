package logger

import (
	"testing"
)

func TestWithComponent(t *testing.T) {
	log := GetLogger()
	entry := log.WithComponent("server")
	if entry == nil {
		t.Fatal("expected entry, got nil")
	}
	if got, ok := entry.Data["component"]; !ok || got != "server" {
		t.Fatalf("expected component field 'server', got %v", got)
	}
}

func TestConfigureInvalidLevel(t *testing.T) {
	log := GetLogger()
	t.Setenv("LOG_LEVEL", "")
	if err := log.Configure("not-a-level", "json", "stdout", 0); err == nil {
		t.Fatal("expected error for invalid log level")
	}
}

func TestConfigureFormats(t *testing.T) {
	log := GetLogger()
	for _, format := range []string{"json", "text"} {
		if err := log.Configure("info", format, "stdout", 0); err != nil {
			t.Fatalf("unexpected error configuring %s format: %v", format, err)
		}
	}
}

func TestWithEnv(t *testing.T) {
	log := GetLogger()
	t.Setenv("APP_ENV", "production")
	entry := log.WithEnv("APP_ENV")
	if got, ok := entry.Data["APP_ENV"]; !ok || got != "production" {
		t.Fatalf("expected APP_ENV field 'production', got %v", got)
	}
}

func TestWithFieldsChain(t *testing.T) {
	log := GetLogger()
	entry := log.WithComponent("watcher").WithFields(Fields{"account": "alice"})
	if got := entry.Data["component"]; got != "watcher" {
		t.Fatalf("expected component 'watcher', got %v", got)
	}
	if got := entry.Data["account"]; got != "alice" {
		t.Fatalf("expected account 'alice', got %v", got)
	}
}

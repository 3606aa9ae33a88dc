package assistant

import (
	"testing"
	"time"
)

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(`name: TestBot`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Name != "TestBot" {
		t.Errorf("name = %q", cfg.Name)
	}
	if cfg.Engine.HistoryWindow != 10 {
		t.Errorf("history window = %d, want default 10", cfg.Engine.HistoryWindow)
	}
	if cfg.Sweeper.IdleTTL() != 48*time.Hour {
		t.Errorf("idle ttl = %s, want default 48h", cfg.Sweeper.IdleTTL())
	}
}

func TestParseConfigOverrides(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
engine:
  history_window: 4
  turn_timeout_seconds: 10
sweeper:
  enabled: false
  idle_ttl_hours: 24
admins:
  - "100"
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Engine.HistoryWindow != 4 {
		t.Errorf("history window = %d", cfg.Engine.HistoryWindow)
	}
	if cfg.Engine.TurnTimeout() != 10*time.Second {
		t.Errorf("turn timeout = %s", cfg.Engine.TurnTimeout())
	}
	if cfg.Sweeper.Enabled {
		t.Error("sweeper should be disabled")
	}
	if !cfg.IsAdmin("100") || cfg.IsAdmin("200") {
		t.Error("admin list not honored")
	}
}

func TestParseConfigRejectsBadYAML(t *testing.T) {
	if _, err := ParseConfig([]byte("engine: [notamap")); err == nil {
		t.Fatal("expected parse error")
	}
}

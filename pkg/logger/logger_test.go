package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for input, want := range cases {
		if got := parseLevel(input); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestAuditRequiresPath(t *testing.T) {
	if err := Init(Config{Audit: AuditConfig{Enabled: true}}); err == nil {
		t.Fatalf("expected error for empty audit path")
	}
}

func TestRedactSensitiveAttributes(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{ReplaceAttr: redact}))
	log.Info("request", "Authorization", "Bearer abc", "openai_api_key", "sk-1", "user_id", "alice")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if record["Authorization"] != Redacted || record["openai_api_key"] != Redacted {
		t.Fatalf("credentials leaked: %v", record)
	}
	if record["user_id"] != "alice" {
		t.Fatalf("unexpected user_id %v", record["user_id"])
	}
}

func TestInitWithAuditFile(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		Level:   "debug",
		Format:  "console",
		Service: "wallethub-test",
		Audit:   AuditConfig{Enabled: true, Path: filepath.Join(dir, "audit", "audit.log")},
	}
	if err := Init(cfg); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() {
		_ = Init(Config{})
	})

	if Audit() == L() {
		t.Fatalf("audit logger should be separate when enabled")
	}
	Audit().Info("intent.built", "user_id", "alice")
	if err := Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
}

func TestNamedReturnsLogger(t *testing.T) {
	if Named("pipeline") == nil {
		t.Fatalf("expected named logger")
	}
	if Audit() == nil {
		t.Fatalf("expected audit logger fallback")
	}
}

package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:    "valid JSON config",
			config:  Config{Level: "info", Format: "json"},
			wantErr: false,
		},
		{
			name:    "valid text config",
			config:  Config{Level: "debug", Format: "text"},
			wantErr: false,
		},
		{
			name:    "console is text",
			config:  Config{Level: "WARN", Format: "console"},
			wantErr: false,
		},
		{
			name:    "empty config uses defaults",
			config:  Config{},
			wantErr: false,
		},
		{
			name:    "invalid log level",
			config:  Config{Level: "invalid", Format: "json"},
			wantErr: true,
		},
		{
			name:    "invalid format",
			config:  Config{Level: "info", Format: "xml"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && logger == nil {
				t.Error("expected non-nil logger")
			}
		})
	}
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "warn", Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	logger.Info("dropped")
	logger.Warn("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Error("expected info message to be filtered")
	}
	if !strings.Contains(out, "kept") {
		t.Error("expected warn message to be written")
	}
}

func TestNew_RedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	logger.Info("calling provider",
		"api_key", "sk-abc123xyz789",
		"header", "Authorization: Bearer eyJhbGciOi.payload",
		"note", "key sk-proj-abcdefgh12 leaked",
		"units", 42,
	)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to decode log line: %v", err)
	}

	if entry["api_key"] != "sk-a***" {
		t.Errorf("expected api_key redacted, got %v", entry["api_key"])
	}
	if entry["header"] != "Authorization: Bearer ***" {
		t.Errorf("expected bearer token redacted, got %v", entry["header"])
	}
	if entry["note"] != "key sk-*** leaked" {
		t.Errorf("expected embedded key redacted, got %v", entry["note"])
	}
	if entry["units"] != float64(42) {
		t.Errorf("expected non-string attrs untouched, got %v", entry["units"])
	}
}

func TestNew_DisableRedaction(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Format: "text", Writer: &buf, DisableRedaction: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	logger.Info("x", "api_key", "sk-abc123xyz789")
	if !strings.Contains(buf.String(), "sk-abc123xyz789") {
		t.Error("expected raw secret when redaction is disabled")
	}
}

func TestRedactSecret(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"short", "***"},
		{"12345678", "***"},
		{"gsk_longsecretvalue", "gsk_***"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := RedactSecret(tt.in); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"ERROR", slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if err != nil {
				t.Fatalf("ParseLevel() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

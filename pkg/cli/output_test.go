package cli

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"mercator-hq/costgate/pkg/ledger/storage"
)

func sampleDocument() *storage.Document {
	doc := storage.NewDocument()
	doc.GlobalBuckets["stable:openai"] = storage.BucketRecord{
		WindowDay: "2026-10-17",
		Daily:     storage.UsageRecord{InputUnits: 30, OutputUnits: 12},
		Monthly:   storage.UsageRecord{InputUnits: 300, OutputUnits: 120},
		Committed: storage.UsageRecord{InputUnits: 300, OutputUnits: 120, Cost: 1.25},
	}
	doc.GlobalBuckets["burst:local"] = storage.BucketRecord{WindowDay: "2026-10-17"}
	doc.UserBuckets["alice"] = map[string]storage.BucketRecord{
		"stable:openai": {
			WindowDay:   "2026-10-17",
			Reserved:    storage.UsageRecord{InputUnits: 5},
			HardStopped: true,
		},
	}
	return doc
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    OutputFormat
		wantErr bool
	}{
		{"", FormatText, false},
		{"text", FormatText, false},
		{"JSON", FormatJSON, false},
		{"csv", FormatCSV, false},
		{"junit", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFormat(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseFormat(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestBucketRows(t *testing.T) {
	rows := BucketRows(sampleDocument())
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}

	// Global buckets sort first, then by lane.
	if rows[0].Lane != "burst" || rows[1].Lane != "stable" || rows[2].User != "alice" {
		t.Errorf("unexpected order: %+v", rows)
	}

	stable := rows[1]
	if stable.Provider != "openai" {
		t.Errorf("expected provider openai, got %q", stable.Provider)
	}
	if stable.DailyUnits != 42 {
		t.Errorf("expected 42 daily units, got %d", stable.DailyUnits)
	}
	if stable.MonthlyUnits != 420 {
		t.Errorf("expected 420 monthly units, got %d", stable.MonthlyUnits)
	}
	if stable.Cost != 1.25 {
		t.Errorf("expected cost 1.25, got %v", stable.Cost)
	}

	alice := rows[2]
	if !alice.HardStopped || alice.ReservedUnits != 5 {
		t.Errorf("unexpected user row: %+v", alice)
	}
}

func TestTextFormatter(t *testing.T) {
	t.Run("bucket table", func(t *testing.T) {
		var buf bytes.Buffer
		if err := (&TextFormatter{}).FormatTo(&buf, BucketRows(sampleDocument())); err != nil {
			t.Fatalf("FormatTo() error = %v", err)
		}

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		if len(lines) != 4 {
			t.Fatalf("expected header plus 3 rows, got %d lines:\n%s", len(lines), buf.String())
		}
		if !strings.HasPrefix(lines[0], "USER") {
			t.Errorf("expected header first, got %q", lines[0])
		}
		if !strings.Contains(lines[3], "alice") || !strings.Contains(lines[3], "yes") {
			t.Errorf("expected hard-stopped alice row, got %q", lines[3])
		}
	})

	t.Run("empty", func(t *testing.T) {
		var buf bytes.Buffer
		if err := (&TextFormatter{}).FormatTo(&buf, []BucketRow{}); err != nil {
			t.Fatalf("FormatTo() error = %v", err)
		}
		if buf.String() != "no buckets recorded\n" {
			t.Errorf("unexpected output %q", buf.String())
		}
	})

	t.Run("other values", func(t *testing.T) {
		var buf bytes.Buffer
		if err := (&TextFormatter{}).FormatTo(&buf, "test message"); err != nil {
			t.Fatalf("FormatTo() error = %v", err)
		}
		if buf.String() != "test message\n" {
			t.Errorf("FormatTo() = %q, want %q", buf.String(), "test message\n")
		}
	})
}

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	if err := (&JSONFormatter{Indent: true}).FormatTo(&buf, BucketRows(sampleDocument())); err != nil {
		t.Fatalf("FormatTo() error = %v", err)
	}

	var rows []map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rows); err != nil {
		t.Fatalf("FormatTo() produced invalid JSON: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if _, ok := rows[0]["user_id"]; ok {
		t.Error("global rows should omit user_id")
	}
	if rows[2]["user_id"] != "alice" {
		t.Errorf("expected user_id alice, got %v", rows[2]["user_id"])
	}
}

func TestCSVFormatter(t *testing.T) {
	var buf bytes.Buffer
	if err := (&CSVFormatter{}).FormatTo(&buf, BucketRows(sampleDocument())); err != nil {
		t.Fatalf("FormatTo() error = %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("invalid CSV: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("expected 4 records, got %d", len(records))
	}
	if records[2][7] != "1.2500" {
		t.Errorf("expected cost 1.2500, got %q", records[2][7])
	}

	if err := (&CSVFormatter{}).FormatTo(&buf, "not rows"); err == nil {
		t.Error("expected error for unsupported data")
	}
}

func TestNewFormatter(t *testing.T) {
	tests := []struct {
		name   string
		format OutputFormat
		want   string
	}{
		{"text formatter", FormatText, "*cli.TextFormatter"},
		{"json formatter", FormatJSON, "*cli.JSONFormatter"},
		{"csv formatter", FormatCSV, "*cli.CSVFormatter"},
		{"default to text", "unknown", "*cli.TextFormatter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := fmt.Sprintf("%T", NewFormatter(tt.format))
			if got != tt.want {
				t.Errorf("NewFormatter(%q) type = %v, want %v", tt.format, got, tt.want)
			}
		})
	}
}

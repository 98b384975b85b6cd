package cli

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"mercator-hq/costgate/pkg/ledger/storage"
)

// OutputFormat represents the output format for command results.
type OutputFormat string

const (
	// FormatText is an aligned table (default).
	FormatText OutputFormat = "text"
	// FormatJSON is JSON output.
	FormatJSON OutputFormat = "json"
	// FormatCSV is CSV output.
	FormatCSV OutputFormat = "csv"
)

// ParseFormat validates a --format flag value.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case FormatText, FormatJSON, FormatCSV:
		return f, nil
	case "":
		return FormatText, nil
	default:
		return "", fmt.Errorf("unknown output format %q (expected text, json or csv)", s)
	}
}

// BucketRow is one ledger bucket flattened for display.
type BucketRow struct {
	User          string  `json:"user_id,omitempty"`
	Lane          string  `json:"lane"`
	Provider      string  `json:"provider"`
	Day           string  `json:"window_day"`
	DailyUnits    int64   `json:"daily_units"`
	MonthlyUnits  int64   `json:"monthly_units"`
	ReservedUnits int64   `json:"reserved_units"`
	Cost          float64 `json:"cost"`
	HardStopped   bool    `json:"hard_stopped"`
}

var bucketHeaders = []string{"USER", "LANE", "PROVIDER", "DAY", "DAILY", "MONTHLY", "RESERVED", "COST", "HARD STOP"}

// BucketRows flattens a ledger document into rows ordered by user
// (global first), lane and provider.
func BucketRows(doc *storage.Document) []BucketRow {
	var rows []BucketRow
	add := func(user, key string, b storage.BucketRecord) {
		lane, provider, ok := strings.Cut(key, ":")
		if !ok {
			lane = key
		}
		rows = append(rows, BucketRow{
			User:          user,
			Lane:          lane,
			Provider:      provider,
			Day:           b.WindowDay,
			DailyUnits:    units(b.Daily),
			MonthlyUnits:  units(b.Monthly),
			ReservedUnits: units(b.Reserved),
			Cost:          b.Committed.Cost,
			HardStopped:   b.HardStopped,
		})
	}

	for key, b := range doc.GlobalBuckets {
		add("", key, b)
	}
	for user, buckets := range doc.UserBuckets {
		for key, b := range buckets {
			add(user, key, b)
		}
	}

	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.User != b.User {
			return a.User < b.User
		}
		if a.Lane != b.Lane {
			return a.Lane < b.Lane
		}
		return a.Provider < b.Provider
	})
	return rows
}

func units(u storage.UsageRecord) int64 {
	return u.InputUnits + u.OutputUnits
}

func (r BucketRow) fields() []string {
	user := r.User
	if user == "" {
		user = "-"
	}
	stop := "no"
	if r.HardStopped {
		stop = "yes"
	}
	return []string{
		user,
		r.Lane,
		r.Provider,
		r.Day,
		strconv.FormatInt(r.DailyUnits, 10),
		strconv.FormatInt(r.MonthlyUnits, 10),
		strconv.FormatInt(r.ReservedUnits, 10),
		strconv.FormatFloat(r.Cost, 'f', 4, 64),
		stop,
	}
}

// Formatter formats command output.
type Formatter interface {
	FormatTo(w io.Writer, data any) error
}

// TextFormatter renders []BucketRow as an aligned table and anything else
// with %v.
type TextFormatter struct{}

// FormatTo writes data to writer in text format.
func (f *TextFormatter) FormatTo(w io.Writer, data any) error {
	rows, ok := data.([]BucketRow)
	if !ok {
		_, err := fmt.Fprintf(w, "%v\n", data)
		return err
	}
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "no buckets recorded")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(bucketHeaders, "\t"))
	for _, r := range rows {
		fmt.Fprintln(tw, strings.Join(r.fields(), "\t"))
	}
	return tw.Flush()
}

// JSONFormatter formats output as JSON.
type JSONFormatter struct {
	Indent bool
}

// FormatTo writes data to writer in JSON format.
func (f *JSONFormatter) FormatTo(w io.Writer, data any) error {
	encoder := json.NewEncoder(w)
	if f.Indent {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(data)
}

// CSVFormatter formats []BucketRow as CSV.
type CSVFormatter struct{}

// FormatTo writes data to writer in CSV format.
func (f *CSVFormatter) FormatTo(w io.Writer, data any) error {
	rows, ok := data.([]BucketRow)
	if !ok {
		return fmt.Errorf("csv output is not supported for %T", data)
	}

	csvWriter := csv.NewWriter(w)
	if err := csvWriter.Write(bucketHeaders); err != nil {
		return err
	}
	for _, r := range rows {
		if err := csvWriter.Write(r.fields()); err != nil {
			return err
		}
	}
	csvWriter.Flush()
	return csvWriter.Error()
}

// NewFormatter creates a new formatter for the specified format.
func NewFormatter(format OutputFormat) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatCSV:
		return &CSVFormatter{}
	default:
		return &TextFormatter{}
	}
}

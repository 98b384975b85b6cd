package storage

import (
	"context"
	"time"
)

// Backend defines the interface for ledger persistence.
// Implementations must be thread-safe and support concurrent access.
type Backend interface {
	// Load reads the persisted document.
	// Returns an empty document (never nil) if nothing has been saved yet.
	Load(ctx context.Context) (*Document, error)

	// Save replaces the persisted document with doc.
	Save(ctx context.Context, doc *Document) error

	// Close releases any resources held by the backend.
	// The backend should not be used after calling Close.
	Close() error
}

// Document is the persisted form of the whole ledger.
type Document struct {
	// GlobalBuckets maps "<lane>:<provider>" to its bucket.
	GlobalBuckets map[string]BucketRecord `json:"global_buckets"`

	// UserBuckets maps a user identifier to that user's buckets,
	// keyed the same way as GlobalBuckets.
	UserBuckets map[string]map[string]BucketRecord `json:"user_buckets"`
}

// NewDocument returns an empty document with initialized maps.
func NewDocument() *Document {
	return &Document{
		GlobalBuckets: make(map[string]BucketRecord),
		UserBuckets:   make(map[string]map[string]BucketRecord),
	}
}

// Normalize replaces nil maps with empty ones so decoded documents from
// older writers can be used directly.
func (d *Document) Normalize() *Document {
	if d.GlobalBuckets == nil {
		d.GlobalBuckets = make(map[string]BucketRecord)
	}
	if d.UserBuckets == nil {
		d.UserBuckets = make(map[string]map[string]BucketRecord)
	}
	for user, buckets := range d.UserBuckets {
		if buckets == nil {
			d.UserBuckets[user] = make(map[string]BucketRecord)
		}
	}
	return d
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	out := NewDocument()
	for k, v := range d.GlobalBuckets {
		out.GlobalBuckets[k] = v
	}
	for user, buckets := range d.UserBuckets {
		m := make(map[string]BucketRecord, len(buckets))
		for k, v := range buckets {
			m[k] = v
		}
		out.UserBuckets[user] = m
	}
	return out
}

// Len returns the total number of buckets in the document.
func (d *Document) Len() int {
	n := len(d.GlobalBuckets)
	for _, buckets := range d.UserBuckets {
		n += len(buckets)
	}
	return n
}

// BucketRecord is the persisted state of a single ledger bucket.
type BucketRecord struct {
	// WindowDay is the day key (YYYY-MM-DD) the daily counter belongs to.
	WindowDay string `json:"window_day"`

	// WindowMonth is the month key (YYYY-MM) the monthly counter belongs to.
	WindowMonth string `json:"window_month"`

	// Committed is the lifetime settled usage.
	Committed UsageRecord `json:"committed"`

	// Reserved is usage held by in-flight reservations.
	Reserved UsageRecord `json:"reserved"`

	// Daily is settled usage within WindowDay.
	Daily UsageRecord `json:"daily"`

	// Monthly is settled usage within WindowMonth.
	Monthly UsageRecord `json:"monthly"`

	// HardStopped blocks all admissions until cleared by an operator.
	HardStopped bool `json:"hard_stopped"`

	// LastUpdate is when the bucket was last mutated.
	LastUpdate time.Time `json:"last_update"`
}

// UsageRecord is the persisted form of a usage quantity.
type UsageRecord struct {
	InputUnits  int64   `json:"input_units"`
	OutputUnits int64   `json:"output_units"`
	Cost        float64 `json:"cost"`
}

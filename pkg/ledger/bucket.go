package ledger

import (
	"time"

	"mercator-hq/costgate/pkg/ledger/storage"
)

// Bucket is the accounting record for one ledger key.
//
// All mutation goes through the Ledger; a Bucket returned from Snapshot is
// a copy.
type Bucket struct {
	// WindowDay is the day key (YYYY-MM-DD) Daily belongs to.
	WindowDay string

	// WindowMonth is the month key (YYYY-MM) Monthly belongs to.
	WindowMonth string

	// Committed is lifetime settled usage.
	Committed Usage

	// Reserved is usage held by outstanding reservations.
	Reserved Usage

	// Daily is settled usage within WindowDay.
	Daily Usage

	// Monthly is settled usage within WindowMonth.
	Monthly Usage

	// HardStopped denies every admission until an operator clears it.
	HardStopped bool

	// LastUpdate is when the bucket was last mutated.
	LastUpdate time.Time
}

func newBucket(day, month string) Bucket {
	return Bucket{WindowDay: day, WindowMonth: month}
}

// rotate moves the bucket into the given window, zeroing the counters whose
// window has ended. Returns true if anything changed.
func (b *Bucket) rotate(day, month string) bool {
	changed := false
	if b.WindowMonth != month {
		b.Monthly = Usage{}
		b.WindowMonth = month
		changed = true
	}
	if b.WindowDay != day {
		b.Daily = Usage{}
		b.WindowDay = day
		changed = true
	}
	return changed
}

// settle records usage as consumed in every counter.
func (b *Bucket) settle(u Usage) {
	b.Committed = b.Committed.Add(u)
	b.Daily = b.Daily.Add(u)
	b.Monthly = b.Monthly.Add(u)
}

// Record returns the bucket in its persisted form.
func (b Bucket) Record() storage.BucketRecord {
	return storage.BucketRecord{
		WindowDay:   b.WindowDay,
		WindowMonth: b.WindowMonth,
		Committed:   b.Committed.record(),
		Reserved:    b.Reserved.record(),
		Daily:       b.Daily.record(),
		Monthly:     b.Monthly.record(),
		HardStopped: b.HardStopped,
		LastUpdate:  b.LastUpdate,
	}
}

func bucketFromRecord(r storage.BucketRecord) Bucket {
	return Bucket{
		WindowDay:   r.WindowDay,
		WindowMonth: r.WindowMonth,
		Committed:   usageFromRecord(r.Committed),
		Reserved:    usageFromRecord(r.Reserved),
		Daily:       usageFromRecord(r.Daily),
		Monthly:     usageFromRecord(r.Monthly),
		HardStopped: r.HardStopped,
		LastUpdate:  r.LastUpdate,
	}
}

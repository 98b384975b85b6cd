package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"mercator-hq/costgate/pkg/ledger/storage"
)

// DefaultTimezone is the IANA zone day and month windows are computed in
// when Config.Location is nil.
const DefaultTimezone = "Asia/Tokyo"

// Config contains configuration for a Ledger.
type Config struct {
	// Limits is the initial cap table. Pairs without an entry are unrestricted.
	Limits Limits

	// Storage persists the ledger document. Defaults to an in-memory backend.
	Storage storage.Backend

	// Location is the timezone for window boundaries. Defaults to DefaultTimezone.
	Location *time.Location

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics may be nil.
	Metrics *Metrics

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// KeepOrphanedReserved keeps reserved usage found in storage at startup.
	// By default it is released, since the reservations that placed it did
	// not survive the restart and could never be settled.
	KeepOrphanedReserved bool
}

// entry guards one bucket's read-modify-write cycle.
type entry struct {
	mu     sync.Mutex
	bucket Bucket
}

// Ledger evaluates admission decisions and mediates the
// reserve/commit/rollback protocol over per-key buckets.
//
// Lock order is entry, then reservation table. The persist lock is never
// acquired while an entry lock is held.
type Ledger struct {
	mu      sync.RWMutex
	entries map[Key]*entry
	limits  Limits

	reservations *reservationTable

	storage   storage.Backend
	persistMu sync.Mutex

	loc     *time.Location
	now     func() time.Time
	logger  *slog.Logger
	metrics *Metrics

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// New creates a Ledger and loads its state from cfg.Storage.
func New(ctx context.Context, cfg Config) (*Ledger, error) {
	if cfg.Storage == nil {
		cfg.Storage = storage.NewMemoryBackend()
	}
	if cfg.Location == nil {
		loc, err := time.LoadLocation(DefaultTimezone)
		if err != nil {
			loc = time.FixedZone("JST", 9*60*60)
		}
		cfg.Location = loc
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	l := &Ledger{
		entries:      make(map[Key]*entry),
		limits:       cfg.Limits,
		reservations: newReservationTable(),
		storage:      cfg.Storage,
		loc:          cfg.Location,
		now:          cfg.Now,
		logger:       cfg.Logger.With("component", "ledger"),
		metrics:      cfg.Metrics,
	}

	doc, err := cfg.Storage.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger state: %w", err)
	}
	orphaned := l.restore(doc, cfg.KeepOrphanedReserved)

	l.logger.Info("ledger loaded",
		"buckets", len(l.entries),
		"timezone", l.loc.String(),
		"orphaned_reservations_released", orphaned,
	)
	return l, nil
}

// restore populates entries from a loaded document and returns the number
// of buckets whose orphaned reserved usage was released.
func (l *Ledger) restore(doc *storage.Document, keepReserved bool) int {
	orphaned := 0
	add := func(userID, bucketKey string, rec storage.BucketRecord) {
		lane, provider, err := parseBucketKey(bucketKey)
		if err != nil {
			l.logger.Warn("skipping persisted bucket", "user_id", userID, "key", bucketKey, "error", err)
			return
		}
		b := bucketFromRecord(rec)
		if !keepReserved && !b.Reserved.IsZero() {
			b.Reserved = Usage{}
			orphaned++
		}
		l.entries[Key{Lane: lane, Provider: provider, UserID: userID}] = &entry{bucket: b}
	}

	for bucketKey, rec := range doc.GlobalBuckets {
		add("", bucketKey, rec)
	}
	for userID, buckets := range doc.UserBuckets {
		if userID == "" {
			continue
		}
		for bucketKey, rec := range buckets {
			add(userID, bucketKey, rec)
		}
	}
	return orphaned
}

// ============================================================================
// Admission
// ============================================================================

// CanCall reports whether a call with the given estimate may proceed.
// It never fails; a denial is a Decision value with a fallback hint.
func (l *Ledger) CanCall(ctx context.Context, key Key, estimate Usage) Decision {
	limit, ok := l.limitFor(key)
	if !ok || !limit.enforced() {
		l.metrics.RecordAdmission(key, allow(), "")
		return allow()
	}

	e, _ := l.lock(key)
	d, cause := evaluate(&e.bucket, limit, estimate.clamp())
	e.mu.Unlock()

	l.metrics.RecordAdmission(key, d, cause)
	if !d.Allowed {
		l.logger.Debug("admission denied", "key", key.String(), "reason", d.Reason)
	}
	return d
}

// Admit checks admission and, if allowed, places the reservation in the same
// critical section. A denied Decision places nothing and is not an error.
func (l *Ledger) Admit(ctx context.Context, key Key, reservationID string, estimate Usage) (Decision, error) {
	if err := checkArgs(key, reservationID); err != nil {
		return Decision{}, err
	}
	estimate = estimate.clamp()
	limit, limited := l.limitFor(key)

	e, now := l.lock(key)
	d, cause := allow(), ""
	if limited && limit.enforced() {
		d, cause = evaluate(&e.bucket, limit, estimate)
	}
	if !d.Allowed {
		e.mu.Unlock()
		l.metrics.RecordAdmission(key, d, cause)
		l.logger.Debug("admission denied", "key", key.String(), "reason", d.Reason)
		return d, nil
	}
	err := l.reserveLocked(e, key, reservationID, estimate, now)
	e.mu.Unlock()
	if err != nil {
		return Decision{}, err
	}

	l.metrics.RecordAdmission(key, d, cause)
	l.metrics.RecordReservation("reserved", l.reservations.len())
	l.persist(ctx)
	return d, nil
}

// evaluate applies limit to b. The caller holds the bucket's lock.
func evaluate(b *Bucket, limit Limit, estimate Usage) (Decision, string) {
	if b.HardStopped {
		return deny("hard stop active"), "hard_stop"
	}
	if limit.DailyUnits != nil {
		current := b.Daily.Units() + b.Reserved.Units()
		if current+estimate.Units() > *limit.DailyUnits {
			return deny(fmt.Sprintf("daily unit limit exceeded (%d/%d)", current, *limit.DailyUnits)), "daily_units"
		}
	}
	if limit.MonthlyUnits != nil {
		current := b.Monthly.Units() + b.Reserved.Units()
		if current+estimate.Units() > *limit.MonthlyUnits {
			return deny(fmt.Sprintf("monthly unit limit exceeded (%d/%d)", current, *limit.MonthlyUnits)), "monthly_units"
		}
	}
	if limit.TotalCost != nil {
		current := b.Committed.Cost + b.Reserved.Cost
		if current+estimate.Cost > *limit.TotalCost {
			return deny(fmt.Sprintf("cost budget exceeded (%.4f/%.4f)", current, *limit.TotalCost)), "total_cost"
		}
	}
	return allow(), ""
}

// ============================================================================
// Reservation protocol
// ============================================================================

// Reserve holds estimate against key under reservationID until a matching
// Commit or Rollback. It does not check limits; use Admit for that.
func (l *Ledger) Reserve(ctx context.Context, key Key, reservationID string, estimate Usage) error {
	if err := checkArgs(key, reservationID); err != nil {
		return err
	}

	e, now := l.lock(key)
	err := l.reserveLocked(e, key, reservationID, estimate.clamp(), now)
	e.mu.Unlock()
	if err != nil {
		return err
	}

	l.metrics.RecordReservation("reserved", l.reservations.len())
	l.persist(ctx)
	return nil
}

func (l *Ledger) reserveLocked(e *entry, key Key, id string, estimate Usage, now time.Time) error {
	if !l.reservations.put(id, reservation{key: key, estimate: estimate, placedAt: now}) {
		return &ReservationError{ID: id, Key: key, Err: ErrDuplicateReservation}
	}
	e.bucket.Reserved = e.bucket.Reserved.Add(estimate)
	e.bucket.LastUpdate = now
	return nil
}

// Commit settles a reservation with the actual usage. If reservationID is
// unknown the actual usage is still recorded and the returned error wraps
// ErrUnknownReservation.
func (l *Ledger) Commit(ctx context.Context, key Key, reservationID string, actual Usage) error {
	if err := checkArgs(key, reservationID); err != nil {
		return err
	}
	actual = actual.clamp()

	e, now := l.lock(key)
	r, found, mismatch := l.reservations.take(reservationID, key)
	if mismatch {
		e.mu.Unlock()
		return &ReservationError{ID: reservationID, Key: key, Err: ErrReservationMismatch}
	}
	e.bucket.settle(actual)
	e.bucket.Reserved = e.bucket.Reserved.Sub(r.estimate)
	e.bucket.LastUpdate = now
	e.mu.Unlock()

	l.metrics.RecordCommit(key, actual)
	l.persist(ctx)

	if !found {
		l.metrics.RecordReservation("unknown", l.reservations.len())
		l.logger.Warn("commit for unknown reservation", "key", key.String(), "reservation_id", reservationID)
		return &ReservationError{ID: reservationID, Key: key, Err: ErrUnknownReservation}
	}
	l.metrics.RecordReservation("committed", l.reservations.len())
	return nil
}

// Rollback reverses a reservation. RollbackRelease returns the estimate to
// the budget; RollbackKeep settles it as consumed. An unknown reservationID
// changes nothing and the returned error wraps ErrUnknownReservation.
func (l *Ledger) Rollback(ctx context.Context, key Key, reservationID string, mode RollbackMode) error {
	if mode != RollbackRelease && mode != RollbackKeep {
		return fmt.Errorf("%w: %q", ErrInvalidRollbackMode, mode)
	}
	if err := checkArgs(key, reservationID); err != nil {
		return err
	}

	e, now := l.lock(key)
	r, found, mismatch := l.reservations.take(reservationID, key)
	if !found || mismatch {
		e.mu.Unlock()
		if mismatch {
			return &ReservationError{ID: reservationID, Key: key, Err: ErrReservationMismatch}
		}
		l.metrics.RecordReservation("unknown", l.reservations.len())
		return &ReservationError{ID: reservationID, Key: key, Err: ErrUnknownReservation}
	}
	e.bucket.Reserved = e.bucket.Reserved.Sub(r.estimate)
	if mode == RollbackKeep {
		e.bucket.settle(r.estimate)
	}
	e.bucket.LastUpdate = now
	e.mu.Unlock()

	if mode == RollbackKeep {
		l.metrics.RecordCommit(key, r.estimate)
		l.metrics.RecordReservation("kept", l.reservations.len())
	} else {
		l.metrics.RecordReservation("released", l.reservations.len())
	}
	l.persist(ctx)
	return nil
}

// ExpireReservations releases reservations placed more than maxAge ago and
// returns how many were released. It reclaims holds whose callers never
// settled them.
func (l *Ledger) ExpireReservations(ctx context.Context, maxAge time.Duration) int {
	if maxAge <= 0 {
		return 0
	}
	n := 0
	for _, id := range l.reservations.olderThan(l.now().Add(-maxAge)) {
		r, ok := l.reservations.lookup(id)
		if !ok {
			continue
		}
		if err := l.Rollback(ctx, r.key, id, RollbackRelease); err == nil {
			n++
		}
	}
	if n > 0 {
		l.logger.Warn("released expired reservations", "count", n, "max_age", maxAge.String())
	}
	return n
}

// Outstanding returns the number of unsettled reservations.
func (l *Ledger) Outstanding() int {
	return l.reservations.len()
}

func checkArgs(key Key, reservationID string) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if reservationID == "" {
		return &ReservationError{Key: key, Err: ErrEmptyReservationID}
	}
	return nil
}

// ============================================================================
// Administration
// ============================================================================

// SetHardStop sets or clears the hard-stop flag on key's bucket. A stopped
// bucket denies every admission until the flag is cleared.
func (l *Ledger) SetHardStop(ctx context.Context, key Key, stopped bool) error {
	if err := key.Validate(); err != nil {
		return err
	}

	e, now := l.lock(key)
	previous := e.bucket.HardStopped
	e.bucket.HardStopped = stopped
	e.bucket.LastUpdate = now
	e.mu.Unlock()

	l.logger.Info("hard stop updated", "key", key.String(), "stopped", stopped, "previous", previous)
	return l.save(ctx)
}

// Rollover rotates every bucket into the current day and month window and
// persists the result. It returns the number of buckets that changed.
func (l *Ledger) Rollover(ctx context.Context) (int, error) {
	day, month := l.windows(l.now())

	n := 0
	for _, e := range l.entryList() {
		e.mu.Lock()
		if e.bucket.rotate(day, month) {
			n++
		}
		e.mu.Unlock()
	}

	l.metrics.RecordRollover(n)
	if n == 0 {
		return 0, nil
	}
	l.logger.Info("rolled over ledger windows", "buckets", n, "day", day, "month", month)
	return n, l.save(ctx)
}

// SetLimits replaces the cap table. Buckets are unaffected.
func (l *Ledger) SetLimits(limits Limits) {
	l.mu.Lock()
	l.limits = limits
	l.mu.Unlock()
	l.logger.Info("limits updated", "lanes", len(limits))
}

// Limits returns the current cap table.
func (l *Ledger) Limits() Limits {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.limits
}

// Snapshot returns a copy of key's bucket as seen in the current window.
func (l *Ledger) Snapshot(key Key) (Bucket, bool) {
	l.mu.RLock()
	e, ok := l.entries[key]
	l.mu.RUnlock()
	if !ok {
		return Bucket{}, false
	}

	day, month := l.windows(l.now())
	e.mu.Lock()
	b := e.bucket
	e.mu.Unlock()
	b.rotate(day, month)
	return b, true
}

// Document returns the ledger in its persisted form.
func (l *Ledger) Document() *storage.Document {
	return l.document()
}

// Flush persists the current state, returning any storage error.
func (l *Ledger) Flush(ctx context.Context) error {
	return l.save(ctx)
}

// Close flushes the ledger and closes its storage backend.
func (l *Ledger) Close() error {
	l.closeOnce.Do(func() {
		err := l.save(context.Background())
		l.closed.Store(true)
		l.closeErr = errors.Join(err, l.storage.Close())
	})
	return l.closeErr
}

// ============================================================================
// Internals
// ============================================================================

func (l *Ledger) limitFor(key Key) (Limit, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.limits.Lookup(key.Lane, key.Provider)
}

func (l *Ledger) windows(t time.Time) (day, month string) {
	local := t.In(l.loc)
	return local.Format("2006-01-02"), local.Format("2006-01")
}

// entry returns key's entry, creating it on first access.
func (l *Ledger) entry(key Key) *entry {
	l.mu.RLock()
	e, ok := l.entries[key]
	l.mu.RUnlock()
	if ok {
		return e
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[key]; ok {
		return e
	}
	day, month := l.windows(l.now())
	e = &entry{bucket: newBucket(day, month)}
	l.entries[key] = e
	return e
}

// lock returns key's entry locked and rotated into the current window.
// The caller must unlock e.mu.
func (l *Ledger) lock(key Key) (*entry, time.Time) {
	e := l.entry(key)
	e.mu.Lock()
	now := l.now()
	day, month := l.windows(now)
	e.bucket.rotate(day, month)
	return e, now
}

func (l *Ledger) entryList() []*entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*entry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e)
	}
	return out
}

func (l *Ledger) document() *storage.Document {
	l.mu.RLock()
	snapshot := make(map[Key]*entry, len(l.entries))
	for k, e := range l.entries {
		snapshot[k] = e
	}
	l.mu.RUnlock()

	doc := storage.NewDocument()
	for key, e := range snapshot {
		e.mu.Lock()
		rec := e.bucket.Record()
		e.mu.Unlock()

		if key.IsGlobal() {
			doc.GlobalBuckets[key.BucketKey()] = rec
			continue
		}
		buckets, ok := doc.UserBuckets[key.UserID]
		if !ok {
			buckets = make(map[string]storage.BucketRecord)
			doc.UserBuckets[key.UserID] = buckets
		}
		buckets[key.BucketKey()] = rec
	}
	return doc
}

// save writes a snapshot taken while holding the persist lock, so the last
// write always reflects every mutation completed before it began.
func (l *Ledger) save(ctx context.Context) error {
	if l.closed.Load() {
		return nil
	}
	l.persistMu.Lock()
	defer l.persistMu.Unlock()

	if err := l.storage.Save(ctx, l.document()); err != nil {
		l.metrics.RecordPersistError()
		return fmt.Errorf("failed to persist ledger: %w", err)
	}
	return nil
}

// persist saves after a mutation. Failures are logged; in-memory state stays
// authoritative and the next successful save catches storage up.
func (l *Ledger) persist(ctx context.Context) {
	if err := l.save(context.WithoutCancel(ctx)); err != nil {
		l.logger.Error("ledger persistence failed", "error", err)
	}
}

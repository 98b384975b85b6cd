package ledger

import (
	"errors"
	"fmt"
	"strings"
)

// Well-known lanes.
const (
	// LaneBurn is a prepaid trial tier whose cost cap never resets.
	LaneBurn = "burn"

	// LaneStable is the shared paid tier with daily quotas.
	LaneStable = "stable"

	// LaneBYOK is the user-supplied-key tier; it is never hard stopped.
	LaneBYOK = "byok"
)

// ProviderLocal is the free local backend every denial falls back to.
const ProviderLocal = "local"

// Key identifies a ledger bucket. An empty UserID addresses the global
// bucket for the lane and provider.
type Key struct {
	Lane     string
	Provider string
	UserID   string
}

// GlobalKey returns the key of the global bucket for lane and provider.
func GlobalKey(lane, provider string) Key {
	return Key{Lane: lane, Provider: provider}
}

// UserKey returns the key of a user's bucket for lane and provider.
func UserKey(userID, lane, provider string) Key {
	return Key{Lane: lane, Provider: provider, UserID: userID}
}

// BucketKey returns the "<lane>:<provider>" form used in the persisted document.
func (k Key) BucketKey() string {
	return k.Lane + ":" + k.Provider
}

// IsGlobal reports whether k addresses a global bucket.
func (k Key) IsGlobal() bool {
	return k.UserID == ""
}

// String implements fmt.Stringer.
func (k Key) String() string {
	if k.IsGlobal() {
		return k.BucketKey()
	}
	return k.UserID + "/" + k.BucketKey()
}

// Validate checks that the key can be stored and parsed back.
func (k Key) Validate() error {
	if k.Lane == "" || k.Provider == "" {
		return fmt.Errorf("%w: lane and provider are required", ErrInvalidKey)
	}
	if strings.Contains(k.Lane, ":") {
		return fmt.Errorf("%w: lane %q contains ':'", ErrInvalidKey, k.Lane)
	}
	return nil
}

// parseBucketKey splits a "<lane>:<provider>" key.
func parseBucketKey(s string) (lane, provider string, err error) {
	lane, provider, ok := strings.Cut(s, ":")
	if !ok || lane == "" || provider == "" {
		return "", "", fmt.Errorf("%w: malformed bucket key %q", ErrInvalidKey, s)
	}
	return lane, provider, nil
}

// Limit is the configured cap set for one (lane, provider) pair.
// Nil fields are not enforced.
type Limit struct {
	// DailyUnits caps input+output units within the current day.
	DailyUnits *int64

	// MonthlyUnits caps input+output units within the current month.
	MonthlyUnits *int64

	// TotalCost caps lifetime cost.
	TotalCost *float64

	// HardStop, when explicitly false, disables enforcement for the pair.
	HardStop *bool
}

// enforced reports whether the limit should be evaluated at all.
func (l Limit) enforced() bool {
	return l.HardStop == nil || *l.HardStop
}

// Limits maps lane → provider → Limit.
type Limits map[string]map[string]Limit

// Lookup returns the limit configured for lane and provider.
func (l Limits) Lookup(lane, provider string) (Limit, bool) {
	providers, ok := l[lane]
	if !ok {
		return Limit{}, false
	}
	limit, ok := providers[provider]
	return limit, ok
}

// Decision is the result of an admission check.
// It is always returned as a value; a denial is not an error.
type Decision struct {
	// Allowed indicates the call may proceed.
	Allowed bool

	// Reason explains a denial.
	Reason string

	// Fallback names the provider the caller should degrade to when denied.
	Fallback string
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason, Fallback: ProviderLocal}
}

// RollbackMode selects how a reservation is reversed.
type RollbackMode string

const (
	// RollbackRelease returns the reserved estimate to the budget.
	// Use when the call failed before any consumption.
	RollbackRelease RollbackMode = "release"

	// RollbackKeep settles the reserved estimate as consumed.
	// Use when the call partially executed and its quota should count.
	RollbackKeep RollbackMode = "keep"
)

// Error types for reservation bookkeeping.
var (
	// ErrUnknownReservation is returned by Commit and Rollback when the
	// reservation id is not outstanding. Commit still records the actual
	// usage; Rollback is a no-op.
	ErrUnknownReservation = errors.New("unknown reservation")

	// ErrDuplicateReservation is returned by Reserve and Admit when the id
	// is already outstanding.
	ErrDuplicateReservation = errors.New("duplicate reservation id")

	// ErrReservationMismatch is returned when a reservation is settled
	// against a different key than it was placed on.
	ErrReservationMismatch = errors.New("reservation key mismatch")

	// ErrInvalidKey is returned for keys that cannot be stored.
	ErrInvalidKey = errors.New("invalid ledger key")

	// ErrInvalidRollbackMode is returned for an unrecognized RollbackMode.
	ErrInvalidRollbackMode = errors.New("invalid rollback mode")

	// ErrEmptyReservationID is returned when no reservation id is given.
	ErrEmptyReservationID = errors.New("reservation id is required")
)

// ReservationError adds the reservation id and key to a bookkeeping error.
type ReservationError struct {
	// ID is the reservation id the caller supplied.
	ID string

	// Key is the key the caller supplied.
	Key Key

	// Err is one of the sentinel errors above.
	Err error
}

// Error implements the error interface.
func (e *ReservationError) Error() string {
	return fmt.Sprintf("reservation %q on %s: %v", e.ID, e.Key, e.Err)
}

// Unwrap returns the underlying sentinel for errors.Is.
func (e *ReservationError) Unwrap() error {
	return e.Err
}

package ledger

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// NewReservationID returns a fresh random reservation id.
// Callers may use any globally unique string; this is the easy way to get one.
func NewReservationID() string {
	return uuid.NewString()
}

// reservation is an outstanding hold placed by Reserve.
type reservation struct {
	key      Key
	estimate Usage
	placedAt time.Time
}

// reservationTable indexes outstanding reservations by id.
// It lives only in memory; holds do not survive a restart.
type reservationTable struct {
	mu    sync.Mutex
	items map[string]reservation
}

func newReservationTable() *reservationTable {
	return &reservationTable{items: make(map[string]reservation)}
}

// put records a reservation. Returns false if id is already outstanding.
func (t *reservationTable) put(id string, r reservation) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.items[id]; exists {
		return false
	}
	t.items[id] = r
	return true
}

// take removes and returns the reservation for id if it was placed on key.
// found is false for an unknown id; mismatch is true when the id exists
// under a different key (the entry is left in place).
func (t *reservationTable) take(id string, key Key) (r reservation, found, mismatch bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, found = t.items[id]
	if !found {
		return reservation{}, false, false
	}
	if r.key != key {
		return reservation{}, true, true
	}
	delete(t.items, id)
	return r, true, false
}

// len returns the number of outstanding reservations.
func (t *reservationTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

// olderThan returns ids placed before cutoff.
func (t *reservationTable) olderThan(cutoff time.Time) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var ids []string
	for id, r := range t.items {
		if r.placedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}

// lookup returns the reservation for id without removing it.
func (t *reservationTable) lookup(id string) (reservation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.items[id]
	return r, ok
}

// Package store implements the Persistent Store collaborator described in
// spec.md §2/§6: an opaque keyed-blob contract the core mirrors its
// persisted peer set into, with writes coalesced behind a debounce so the
// core never blocks on I/O (spec.md §5).
package store

import "time"

// PersistedPeersKey is the single keyed blob the core loads on startup and
// mirrors the persisted peer set into (spec.md §6).
const PersistedPeersKey = "PersistedPeers"

// DebounceInterval is the fixed 2s debounce of spec.md §6 (DEBOUNCE_PERSIST).
const DebounceInterval = 2 * time.Second

// PersistedRecord is the store's on-the-wire shape of a catalog.Record; the
// store package doesn't import catalog so the two can evolve independently
// of whatever encoding a given Store implementation chooses.
type PersistedRecord struct {
	Address        string
	FirstSeen      time.Time
	FailedAttempts int
}

// Store is the contract the core consumes. Save is fire-and-forget: the
// implementation owns debouncing and the background writer goroutine, and
// logs rather than propagating failures, matching spec.md §9's guidance
// that silent retry is acceptable.
type Store interface {
	Save(records []PersistedRecord)
	Load() ([]PersistedRecord, error)
	Close() error
}

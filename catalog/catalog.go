// Package catalog implements the Peer Catalog of spec.md §4.1: the two
// bounded, aging, fault-accounting peer sets ("reported" and "persisted")
// that sit beneath the connection policy engine. All mutation is mediated
// through the Catalog type; callers never see the underlying maps.
package catalog

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	logging "github.com/ipfs/go-log"
	"github.com/pkg/errors"

	"github.com/phoreproject/go-phore-peermgr/store"
)

var log = logging.Logger("peermgr/catalog")

// Tunables from spec.md §6.
const (
	MaxReported            = 1000
	MaxPersisted           = 500
	MaxAge                 = 14 * 24 * time.Hour
	defaultFaultThreshold  = 5
	batchOverheadAllowance = 10
)

// Option configures a Catalog at construction.
type Option func(*Catalog)

// WithFaultThreshold overrides the default fault-count threshold (spec.md
// §4.1/§9 flags the value 5 as a placeholder implementers should be able
// to tune).
func WithFaultThreshold(n int) Option {
	return func(c *Catalog) { c.faultThreshold = n }
}

// WithRandSource injects a deterministic source for the purge PRNG
// (spec.md §9 "tests inject a deterministic sequence").
func WithRandSource(src rand.Source) Option {
	return func(c *Catalog) { c.rnd = rand.New(src) }
}

// Catalog owns the reported and persisted peer sets and mediates every
// mutation, including the debounced mirror to the Persistent Store.
type Catalog struct {
	mu        sync.Mutex
	reported  map[string]*Record
	persisted map[string]*Record

	rnd            *rand.Rand
	faultThreshold int
	localAddr      Address
	absoluteLimit  int

	store store.Store
}

// New constructs a Catalog. absoluteLimit seeds the reported-set purge
// threshold (MaxReported - absoluteLimit) and the AddReported batch-size
// guard; call SetAbsoluteLimit whenever the Limits Engine recomputes it.
func New(local Address, st store.Store, absoluteLimit int, opts ...Option) *Catalog {
	c := &Catalog{
		reported:       make(map[string]*Record),
		persisted:      make(map[string]*Record),
		rnd:            rand.New(rand.NewSource(time.Now().UnixNano())),
		faultThreshold: defaultFaultThreshold,
		localAddr:      local,
		absoluteLimit:  absoluteLimit,
		store:          st,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load populates the persisted set from the Persistent Store's
// PersistedPeers blob, per spec.md §6 ("On startup the core loads this
// blob, if present, into the persisted set").
func (c *Catalog) Load() error {
	records, err := c.store.Load()
	if err != nil {
		return errors.Wrap(err, "loading persisted peer set")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range records {
		addr := NewAddress(r.Address)
		c.persisted[addr.String()] = &Record{
			Address:        addr,
			FirstSeen:      r.FirstSeen,
			FailedAttempts: r.FailedAttempts,
		}
	}
	return nil
}

// SetAbsoluteLimit updates the derived limit used by the reported-set
// purge threshold and the batch-size guard; called whenever max_connections
// changes (spec.md §4.6 "Changing M at runtime recomputes all derived
// limits atomically").
func (c *Catalog) SetAbsoluteLimit(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.absoluteLimit = n
}

// AddReported ingests a gossiped batch of addresses. A batch larger than
// MaxReported+absoluteLimit+10 is rejected outright via onViolation and
// leaves both sets untouched; otherwise the batch is unioned into both
// sets, each purged down to its limit if oversized, and the persisted set
// is re-mirrored to the store (spec.md §4.1).
func (c *Catalog) AddReported(batch []Address, onViolation func(RuleViolation)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	threshold := MaxReported + c.absoluteLimit + batchOverheadAllowance
	if len(batch) > threshold {
		log.Warningf("rejecting oversized reported-peer batch: %d peers (limit %d)", len(batch), threshold)
		if onViolation != nil {
			onViolation(TooManyReportedPeersSent)
		}
		return
	}

	now := time.Now()
	for _, addr := range batch {
		if addr == c.localAddr {
			continue
		}
		if _, ok := c.reported[addr.String()]; !ok {
			c.reported[addr.String()] = &Record{Address: addr, FirstSeen: now}
		}
	}
	c.purgeIfExceedsLocked(c.reported, MaxReported-c.absoluteLimit)

	for _, addr := range batch {
		if addr == c.localAddr {
			continue
		}
		if _, ok := c.persisted[addr.String()]; !ok {
			c.persisted[addr.String()] = &Record{Address: addr, FirstSeen: now}
		}
	}
	c.purgeIfExceedsLocked(c.persisted, MaxPersisted)
	c.schedulePersistLocked()
}

// RemoveReported removes addr from the reported set; idempotent, returns
// whether it was present.
func (c *Catalog) RemoveReported(addr Address) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeReportedLocked(addr)
}

func (c *Catalog) removeReportedLocked(addr Address) bool {
	key := addr.String()
	if _, ok := c.reported[key]; !ok {
		return false
	}
	delete(c.reported, key)
	return true
}

// RemovePersisted removes addr from the persisted set; idempotent, returns
// whether it was present.
func (c *Catalog) RemovePersisted(addr Address) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := addr.String()
	if _, ok := c.persisted[key]; !ok {
		return false
	}
	delete(c.persisted, key)
	c.schedulePersistLocked()
	return true
}

// RegisterFault records a connection fault against a persisted peer. If
// the peer isn't persisted, this is a no-op. On crossing the fault
// threshold, or on any rule violation, the peer is evicted from both sets
// and the persisted set is aged and re-mirrored (spec.md §4.1).
func (c *Catalog) RegisterFault(addr Address, hadRuleViolation bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.persisted[addr.String()]
	if !ok {
		return
	}
	rec.FailedAttempts++

	if rec.FailedAttempts >= c.faultThreshold || hadRuleViolation {
		delete(c.persisted, addr.String())
		c.removeReportedLocked(addr)
		c.purgeOldLocked(c.persisted, time.Now())
		c.schedulePersistLocked()
	}
}

// PurgeOldReported removes reported records older than MaxAge.
func (c *Catalog) PurgeOldReported(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purgeOldLocked(c.reported, now)
}

// PurgeOldPersisted removes persisted records older than MaxAge and
// re-mirrors the set if anything changed.
func (c *Catalog) PurgeOldPersisted(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.purgeOldLocked(c.persisted, now) {
		c.schedulePersistLocked()
	}
}

func (c *Catalog) purgeOldLocked(set map[string]*Record, now time.Time) bool {
	changed := false
	for k, r := range set {
		if now.Sub(r.FirstSeen) > MaxAge {
			delete(set, k)
			changed = true
		}
	}
	return changed
}

// purgeIfExceedsLocked removes uniformly-at-random entries from set until
// its size is at most limit. Random (not LRU) selection defeats an
// adversary who could otherwise manipulate activity timestamps to avoid
// eviction (spec.md §3).
func (c *Catalog) purgeIfExceedsLocked(set map[string]*Record, limit int) {
	if limit < 0 {
		limit = 0
	}
	if len(set) <= limit {
		return
	}

	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys) // map order is random; fix it so only c.rnd decides
	c.rnd.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })

	for _, k := range keys {
		if len(set) <= limit {
			break
		}
		delete(set, k)
	}
}

func (c *Catalog) persistedSnapshotLocked() []store.PersistedRecord {
	out := make([]store.PersistedRecord, 0, len(c.persisted))
	for _, r := range c.persisted {
		out = append(out, store.PersistedRecord{
			Address:        r.Address.String(),
			FirstSeen:      r.FirstSeen,
			FailedAttempts: r.FailedAttempts,
		})
	}
	return out
}

func (c *Catalog) schedulePersistLocked() {
	c.store.Save(c.persistedSnapshotLocked())
}

// ReportedLen returns the current size of the reported set.
func (c *Catalog) ReportedLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reported)
}

// PersistedLen returns the current size of the persisted set.
func (c *Catalog) PersistedLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.persisted)
}

// ReportedSnapshot returns a point-in-time copy of the reported set.
func (c *Catalog) ReportedSnapshot() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Record, 0, len(c.reported))
	for _, r := range c.reported {
		out = append(out, *r)
	}
	return out
}

// PersistedSnapshot returns a point-in-time copy of the persisted set.
func (c *Catalog) PersistedSnapshot() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Record, 0, len(c.persisted))
	for _, r := range c.persisted {
		out = append(out, *r)
	}
	return out
}

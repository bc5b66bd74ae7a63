// Package peermgr implements the Peer Manager of spec.md: the policy
// brain governing connection admission/eviction, the two durable peer
// catalogs, and the housekeeping/liveness machinery that sits above a
// transport facade. It is grounded on
// github.com/phoreproject/go-phore-connmgr, a libp2p connection manager
// that trims connections against watermarks; see DESIGN.md for the full
// grounding ledger.
package peermgr

import (
	"time"

	logging "github.com/ipfs/go-log"

	"github.com/phoreproject/go-phore-peermgr/catalog"
	"github.com/phoreproject/go-phore-peermgr/peerclock"
	"github.com/phoreproject/go-phore-peermgr/store"
)

var log = logging.Logger("peermgr")

// FaultThresholdDefault is the placeholder fault-count threshold spec.md
// §4.1/§9 asks implementers to parameterize.
const FaultThresholdDefault = 5

// DefaultIdleTolerance is used when Config.IdleTolerance is unset.
const DefaultIdleTolerance = 60 * time.Second

// Config bundles the constructor parameters of spec.md §6.
type Config struct {
	Transport      Transport
	MaxConnections int
	SeedAddresses  []Address
	StorageDir     string
	Clock          peerclock.Source

	// FaultThreshold overrides FaultThresholdDefault when > 0.
	FaultThreshold int
	// IdleTolerance overrides DefaultIdleTolerance when > 0.
	IdleTolerance time.Duration
}

// PeerManager is the core Peer Manager. All state mutation happens on a
// single executor goroutine per spec.md §5.
type PeerManager struct {
	transport Transport
	catalog   *catalog.Catalog
	policy    *PolicyEngine
	limits    *limitsBox
	scheduler *housekeepingScheduler
	liveness  *livenessObserver
	listeners *listenerSet
	exec      *executor
	store     store.Store

	connCount int // mutated only on the executor goroutine
}

// New constructs and wires a PeerManager: it opens the persistent store,
// loads the persisted peer set, and registers itself as the transport's
// connection listener.
func New(cfg Config) (*PeerManager, error) {
	if cfg.FaultThreshold <= 0 {
		cfg.FaultThreshold = FaultThresholdDefault
	}
	if cfg.IdleTolerance <= 0 {
		cfg.IdleTolerance = DefaultIdleTolerance
	}
	if cfg.Clock == nil {
		cfg.Clock = peerclock.NewRealSource(time.Second)
	}

	st, err := store.OpenBadgerStore(cfg.StorageDir)
	if err != nil {
		return nil, err
	}

	limits := newLimitsBox(cfg.MaxConnections)
	localAddr := cfg.Transport.LocalAddress()
	cat := catalog.New(localAddr, st, limits.Get().Absolute, catalog.WithFaultThreshold(cfg.FaultThreshold))
	if err := cat.Load(); err != nil {
		log.Warningf("loading persisted peers: %s", err)
	}

	seeds := newSeedSet(cfg.SeedAddresses)
	policy := newPolicyEngine(cfg.Transport, limits, seeds)
	listeners := &listenerSet{}
	exec := newExecutor()

	pm := &PeerManager{
		transport: cfg.Transport,
		catalog:   cat,
		policy:    policy,
		limits:    limits,
		listeners: listeners,
		exec:      exec,
		store:     st,
	}
	pm.liveness = newLivenessObserver(exec, listeners, cfg.Clock, cfg.IdleTolerance)
	pm.scheduler = newHousekeepingScheduler(exec, pm.liveness.Stopped, pm.runHousekeeping)

	cfg.Transport.AddConnectionListener(pm)
	return pm, nil
}

// AddListener registers a lifecycle observer (spec.md §4.5/§6).
func (pm *PeerManager) AddListener(l Listener) { pm.listeners.Add(l) }

// RemoveListener deregisters a lifecycle observer.
func (pm *PeerManager) RemoveListener(l Listener) { pm.listeners.Remove(l) }

// SetMaxConnections recomputes all derived limits atomically and updates
// the catalog's purge threshold to match (spec.md §4.6).
func (pm *PeerManager) SetMaxConnections(n int) {
	l := pm.limits.Set(n)
	pm.exec.Post(func() {
		pm.catalog.SetAbsoluteLimit(l.Absolute)
	})
}

// Limits returns the current derived limits.
func (pm *PeerManager) Limits() Limits {
	return pm.limits.Get()
}

// AddReportedPeers ingests a gossiped batch of addresses from origin
// (spec.md §4.1).
func (pm *PeerManager) AddReportedPeers(batch []Address, origin Connection) {
	pm.exec.Post(func() {
		pm.catalog.AddReported(batch, func(v catalog.RuleViolation) {
			origin.ReportRuleViolation(v)
		})
	})
}

// RegisterFault records a fault against addr's persisted record
// (spec.md §4.1).
func (pm *PeerManager) RegisterFault(addr Address, hadRuleViolation bool) {
	pm.exec.Post(func() {
		pm.catalog.RegisterFault(addr, hadRuleViolation)
	})
}

// Shutdown tears the manager down: it cancels the housekeeping timer,
// detaches the clock listener, deregisters from the transport, closes
// the persistent store, and stops the executor (spec.md §5).
func (pm *PeerManager) Shutdown() {
	pm.scheduler.Stop()
	pm.liveness.Close()
	pm.transport.RemoveConnectionListener(pm)
	if err := pm.store.Close(); err != nil {
		log.Warningf("closing persistent store: %s", err)
	}
	pm.exec.Stop()
}

// --- ConnectionListener (the teacher's Notifee equivalent) ---

// OnConnect classifies the connection, updates the liveness edge, and
// arms the housekeeping scheduler (spec.md §4.2–§4.4).
func (pm *PeerManager) OnConnect(c Connection) {
	pm.exec.Post(func() {
		pm.connCount++
		pm.policy.ClassifyOnConnect(c)
		pm.liveness.OnConnect()
		pm.scheduler.ArmOnConnect()
	})
}

// OnDisconnect updates fault accounting for every confirmed disconnect,
// then updates the liveness edge (spec.md §1 "a disconnect updates fault
// counts", §4.1, §4.4).
func (pm *PeerManager) OnDisconnect(c Connection) {
	pm.exec.Post(func() {
		pm.connCount--
		if pm.connCount < 0 {
			pm.connCount = 0
		}

		if addr, ok := c.PeerAddress(); ok {
			_, hadViolation := c.RuleViolationIfAny()
			pm.catalog.RegisterFault(addr, hadViolation)
		}

		pm.liveness.OnDisconnect(len(pm.transport.AllConnections()))
	})
}

// OnError ignores transient transport errors, per spec.md §7: no state
// mutation, no listener notification.
func (pm *PeerManager) OnError(c Connection, err error) {}

var _ ConnectionListener = (*PeerManager)(nil)

// --- housekeeping sweep (spec.md §4.3) ---

// runHousekeeping is the single coalesced maintenance pass: reap
// anonymous connections, release superfluous seeds, purge aged catalog
// entries, then enforce the connection-count tier ladder. It always runs
// on the executor goroutine, invoked by the scheduler's expiry.
func (pm *PeerManager) runHousekeeping() {
	now := time.Now()

	for _, c := range pm.policy.anonymousVictims(now) {
		pm.policy.Shutdown(c, ReasonUnknownPeerAddress, nil)
	}

	pm.enforceSuperfluousSeeds()

	pm.catalog.PurgeOldReported(now)
	pm.catalog.PurgeOldPersisted(now)

	pm.enforceMaxConnections()
}

// enforceSuperfluousSeeds shuts down at most one seed connection per
// invocation; the shutdown completion re-posts itself onto the executor,
// so each pass removes at most one connection and other events can
// interleave between passes (spec.md §9 "Cyclic references"). Seed
// connections are never DIRECT_MSG_PEER, so this closes the connection
// directly rather than through the privileged policy.Shutdown helper.
func (pm *PeerManager) enforceSuperfluousSeeds() {
	victim, ok := pm.policy.selectSuperfluousSeedVictim()
	if !ok {
		return
	}
	victim.Shutdown(ReasonTooManySeedNodesConnected, func() {
		pm.exec.Post(pm.enforceSuperfluousSeeds)
	})
}

// enforceMaxConnections implements the tail-recursive eviction loop of
// spec.md §4.2: select a victim, shut it down, and re-invoke once the
// shutdown completes. The tier filters themselves encode the
// DIRECT_MSG_PEER privilege (excluded from tiers 1-3, eligible only in
// tier 4 once the absolute limit is exceeded), so this closes the chosen
// victim directly rather than through policy.Shutdown's separate,
// unconditional privilege guard meant for other callers.
func (pm *PeerManager) enforceMaxConnections() {
	victim, reason, ok := pm.policy.selectVictim()
	if !ok {
		return
	}
	victim.Shutdown(reason, func() {
		pm.exec.Post(pm.enforceMaxConnections)
	})
}

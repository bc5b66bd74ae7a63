package peermgr

import (
	"sort"
	"time"

	logging "github.com/ipfs/go-log"
)

var policyLog = logging.Logger("peermgr/policy")

// AnonymousPeerDelay is REMOVE_ANONYMOUS_PEER of spec.md §6.
const AnonymousPeerDelay = 120 * time.Second

// seedSet is the immutable-after-construction address set of spec.md §3.
type seedSet struct {
	addrs map[string]struct{}
}

func newSeedSet(addrs []Address) *seedSet {
	s := &seedSet{addrs: make(map[string]struct{}, len(addrs))}
	for _, a := range addrs {
		s.addrs[a.String()] = struct{}{}
	}
	return s
}

func (s *seedSet) Contains(a Address) bool {
	_, ok := s.addrs[a.String()]
	return ok
}

// PolicyEngine implements spec.md §4.2: connection classification, the
// tiered eviction ladder, the anonymous-peer and superfluous-seed
// reapers, and the privileged-shutdown helpers. Grounded on the teacher's
// getConnsToClose: build a candidate slice under lock, sort it, walk it —
// generalized here from "sort by tag value with a temp-peer tiebreak" to
// "sort by oldest last-activity within whichever tier is live".
type PolicyEngine struct {
	transport Transport
	limits    *limitsBox
	seeds     *seedSet
}

func newPolicyEngine(t Transport, limits *limitsBox, seeds *seedSet) *PolicyEngine {
	return &PolicyEngine{transport: t, limits: limits, seeds: seeds}
}

// ClassifyOnConnect sets PeerType := SEED_NODE when the remote address is
// a known seed; other PeerType values are left to neighboring subsystems
// (spec.md §4.2). If the address isn't known yet, classification is
// skipped (spec.md §7); the anonymous reaper handles that case later.
func (p *PolicyEngine) ClassifyOnConnect(c Connection) {
	addr, ok := c.PeerAddress()
	if !ok {
		return
	}
	if p.seeds.Contains(addr) {
		c.SetPeerType(PeerTypeSeedNode)
	}
}

// Shutdown shuts c down unless it is a privileged DIRECT_MSG_PEER
// connection (spec.md §4.2 "shutdown(connection, reason)").
func (p *PolicyEngine) Shutdown(c Connection, reason ShutdownReason, onDone func()) {
	if c.PeerType() == PeerTypeDirectMsgPeer {
		return
	}
	c.Shutdown(reason, onDone)
}

// ShutdownByAddress shuts down the first matching non-privileged
// connection (spec.md §4.2 "shutdown_by_address").
func (p *PolicyEngine) ShutdownByAddress(addr Address, reason ShutdownReason) {
	for _, c := range p.transport.AllConnections() {
		if c.PeerType() == PeerTypeDirectMsgPeer {
			continue
		}
		if a, ok := c.PeerAddress(); ok && a == addr {
			p.Shutdown(c, reason, nil)
			return
		}
	}
}

// anonymousVictims returns connections whose peer address is still
// unknown more than AnonymousPeerDelay after they were first observed
// (spec.md §4.2 "Anonymous-peer reaper").
func (p *PolicyEngine) anonymousVictims(now time.Time) []Connection {
	var out []Connection
	for _, c := range p.transport.AllConnections() {
		if _, ok := c.PeerAddress(); ok {
			continue
		}
		if now.Sub(c.FirstObserved()) > AnonymousPeerDelay {
			out = append(out, c)
		}
	}
	return out
}

// selectSuperfluousSeedVictim implements spec.md §4.2's "Superfluous-seed
// reaper": it returns the oldest-activity seed connection to release, or
// ok=false if the node isn't over max_connections, isn't yet sufficiently
// connected, or only one seed remains.
func (p *PolicyEngine) selectSuperfluousSeedVictim() (Connection, bool) {
	confirmed := p.transport.ConfirmedConnections()
	l := p.limits.Get()

	if len(confirmed) <= l.Max || len(confirmed) < l.Min {
		return nil, false
	}

	seedConns := filterConns(confirmed, func(c Connection) bool {
		return c.PeerType() == PeerTypeSeedNode
	})
	if len(seedConns) <= 1 {
		return nil, false
	}

	return oldestByActivity(seedConns), true
}

// tier is one rung of the eviction ladder of spec.md §4.2.
type tier struct {
	threshold func(Limits) int
	filter    func(Connection) bool
}

var tiers = []tier{
	{
		threshold: func(l Limits) int { return l.Max },
		filter: func(c Connection) bool {
			return c.Direction() == Inbound && c.PeerType() == PeerTypePeer
		},
	},
	{
		threshold: func(l Limits) int { return l.Peer },
		filter: func(c Connection) bool {
			return c.PeerType() == PeerTypePeer
		},
	},
	{
		threshold: func(l Limits) int { return l.NonDirect },
		filter: func(c Connection) bool {
			return c.PeerType() != PeerTypeDirectMsgPeer
		},
	},
	{
		threshold: func(l Limits) int { return l.Absolute },
		filter: func(c Connection) bool {
			return true
		},
	},
}

// selectVictim walks the tier ladder of spec.md §4.2: each tier is
// consulted only if the previous tier yielded no candidates and its own
// threshold is exceeded. Within the chosen tier, the victim is the
// connection with the smallest LastActivity.
func (p *PolicyEngine) selectVictim() (Connection, ShutdownReason, bool) {
	all := p.transport.AllConnections()
	n := len(all)
	l := p.limits.Get()

	for _, t := range tiers {
		if n <= t.threshold(l) {
			continue
		}
		candidates := filterConns(all, t.filter)
		if len(candidates) == 0 {
			continue
		}
		return oldestByActivity(candidates), ReasonTooManyConnectionsOpen, true
	}

	policyLog.Debug("no eviction candidates; connection count within all tiers")
	return nil, "", false
}

func filterConns(conns []Connection, pred func(Connection) bool) []Connection {
	out := make([]Connection, 0, len(conns))
	for _, c := range conns {
		if pred(c) {
			out = append(out, c)
		}
	}
	return out
}

func oldestByActivity(conns []Connection) Connection {
	if len(conns) == 0 {
		return nil
	}
	sort.Slice(conns, func(i, j int) bool {
		return conns[i].LastActivity().Before(conns[j].LastActivity())
	})
	return conns[0]
}

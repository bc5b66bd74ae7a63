package peermgr

import (
	"time"

	"github.com/phoreproject/go-phore-peermgr/catalog"
)

// Address is the peer identity type shared across the catalog and the
// policy engine (spec.md §3).
type Address = catalog.Address

// PeerType is the tagged variant attached to every live connection
// (spec.md §3). The core only ever sets SeedNode; the other values are
// set by neighboring subsystems and merely respected here.
type PeerType int

const (
	PeerTypeUnknown PeerType = iota
	PeerTypeSeedNode
	PeerTypePeer
	PeerTypeDirectMsgPeer
	PeerTypeInitialDataExchange
)

func (t PeerType) String() string {
	switch t {
	case PeerTypeSeedNode:
		return "SEED_NODE"
	case PeerTypePeer:
		return "PEER"
	case PeerTypeDirectMsgPeer:
		return "DIRECT_MSG_PEER"
	case PeerTypeInitialDataExchange:
		return "INITIAL_DATA_EXCHANGE"
	default:
		return "UNKNOWN"
	}
}

// Direction is the connection's dial direction (spec.md §3).
type Direction int

const (
	Inbound Direction = iota
	Outbound
)

// ShutdownReason is one of the produced reason codes of spec.md §6.
type ShutdownReason string

const (
	ReasonTooManyConnectionsOpen    ShutdownReason = "TOO_MANY_CONNECTIONS_OPEN"
	ReasonTooManySeedNodesConnected ShutdownReason = "TOO_MANY_SEED_NODES_CONNECTED"
	ReasonUnknownPeerAddress        ShutdownReason = "UNKNOWN_PEER_ADDRESS"
)

// RuleViolation re-exports catalog.RuleViolation so callers of the
// transport contract don't need to import catalog directly.
type RuleViolation = catalog.RuleViolation

// Connection is the subset of a live connection's observable state and
// control surface the core consumes (spec.md §3, §6 "Transport-facing
// contract (consumed/produced)").
type Connection interface {
	// PeerAddress returns the remote peer's address and whether it is
	// known yet; unconfirmed ("anonymous") connections return ok=false.
	PeerAddress() (Address, bool)
	PeerType() PeerType
	SetPeerType(PeerType)
	Direction() Direction
	LastActivity() time.Time
	IsClosed() bool
	// FirstObserved is when this connection was first seen by the
	// transport, used by the anonymous-peer reaper (spec.md §4.2).
	FirstObserved() time.Time
	// RuleViolationIfAny reports a pending rule violation against this
	// connection, if any (spec.md §3 "rule_violation_if_any").
	RuleViolationIfAny() (RuleViolation, bool)
	// ReportRuleViolation is how the catalog signals a violation back to
	// its origin connection (spec.md §4.1).
	ReportRuleViolation(RuleViolation)
	// Shutdown closes the connection with the given reason. onDone, if
	// non-nil, is invoked once the shutdown completes; the core always
	// posts that continuation back onto its executor rather than calling
	// it inline (spec.md §9 "Cyclic references").
	Shutdown(reason ShutdownReason, onDone func())
}

// ConnectionListener is the Notifee-equivalent the core registers with the
// Transport facade (spec.md §6).
type ConnectionListener interface {
	OnConnect(c Connection)
	OnDisconnect(c Connection)
	OnError(c Connection, err error)
}

// Transport is the consumed facade described in spec.md §6.
type Transport interface {
	AllConnections() []Connection
	ConfirmedConnections() []Connection
	ConfirmedAddresses() []Address
	AddConnectionListener(l ConnectionListener)
	RemoveConnectionListener(l ConnectionListener)
	LocalAddress() Address
}

// Listener is the public lifecycle-event contract of spec.md §6/§4.5.
type Listener interface {
	OnAllConnectionsLost()
	OnNewConnectionAfterAllConnectionsLost()
	OnAwakeFromStandby()
}

package catalog

import "time"

// Record is a peer record as described in spec.md §3: identity is the
// Address alone, FirstSeen anchors aging, and FailedAttempts drives the
// fault-accounting protocol in RegisterFault.
type Record struct {
	Address        Address
	FirstSeen      time.Time
	FailedAttempts int
}

// RuleViolation names an upstream-reportable rule breach (spec.md §4.1,
// §7). TooManyReportedPeersSent is the only violation the catalog itself
// raises; the type is exported so neighboring components can report
// others against the same Connection contract.
type RuleViolation string

// TooManyReportedPeersSent is raised against the origin connection of an
// oversized AddReported batch.
const TooManyReportedPeersSent RuleViolation = "TOO_MANY_REPORTED_PEERS_SENT"

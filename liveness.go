package peermgr

import (
	"sync"
	"time"

	logging "github.com/ipfs/go-log"

	"github.com/phoreproject/go-phore-peermgr/peerclock"
)

var liveLog = logging.Logger("peermgr/liveness")

// livenessObserver tracks the two edges of spec.md §4.4: the
// all-connections-lost edge (driven by connect/disconnect counts) and the
// standby-wake edge (driven by the clock source's missed-tick signal).
type livenessObserver struct {
	mu      sync.Mutex
	stopped bool
	lostAll bool

	listeners     *listenerSet
	idleTolerance time.Duration
	unsubscribe   func()

	exec *executor
}

// newLivenessObserver wires the clock source's missed-tick signal through
// exec so it is observed on the same single executor goroutine as every
// other transport/clock callback (spec.md §5 "clock callbacks arrive on
// that same executor").
func newLivenessObserver(exec *executor, listeners *listenerSet, clock peerclock.Source, idleTolerance time.Duration) *livenessObserver {
	o := &livenessObserver{
		listeners:     listeners,
		idleTolerance: idleTolerance,
		exec:          exec,
	}
	o.unsubscribe = clock.OnMissedTick(func(gap time.Duration) {
		o.exec.Post(func() { o.handleMissedTick(gap) })
	})
	return o
}

func (o *livenessObserver) handleMissedTick(gap time.Duration) {
	if gap <= o.idleTolerance {
		return
	}
	o.mu.Lock()
	o.stopped = false
	o.mu.Unlock()

	liveLog.Infof("awake from standby after a %s gap", gap)
	o.listeners.notifyAwakeFromStandby()
}

// OnConnect clears lostAll/stopped and, if the node had previously lost
// all connections, notifies listeners exactly once for the transition.
func (o *livenessObserver) OnConnect() {
	o.mu.Lock()
	wasLostAll := o.lostAll
	o.lostAll = false
	o.stopped = false
	o.mu.Unlock()

	if wasLostAll {
		o.listeners.notifyNewConnectionAfterAllConnectionsLost()
	}
}

// OnDisconnect is called after a disconnect with the post-disconnect
// connection count. It latches stopped and notifies on the first
// transition to zero connections only.
func (o *livenessObserver) OnDisconnect(remaining int) {
	if remaining > 0 {
		return
	}

	o.mu.Lock()
	already := o.lostAll
	o.lostAll = true
	o.stopped = true
	o.mu.Unlock()

	if !already {
		o.listeners.notifyAllConnectionsLost()
	}
}

// Stopped reports the latched stopped flag housekeeping gates on.
func (o *livenessObserver) Stopped() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stopped
}

// Close detaches the clock listener (spec.md §5 "detaches the clock
// listener").
func (o *livenessObserver) Close() {
	if o.unsubscribe != nil {
		o.unsubscribe()
	}
}

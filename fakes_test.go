package peermgr

import (
	"sync"
	"time"

	"github.com/phoreproject/go-phore-peermgr/catalog"
)

// fakeConn is a minimal in-memory Connection used across this package's
// tests, standing in for the transport's real connection handle.
type fakeConn struct {
	mu sync.Mutex

	addr          Address
	hasAddr       bool
	peerType      PeerType
	direction     Direction
	lastActivity  time.Time
	firstObserved time.Time
	closed        bool
	violation     RuleViolation
	hasViolation  bool
	reported      []RuleViolation

	shutdownReason ShutdownReason
	shutdownCalled bool
}

func newFakeConn(addr string, direction Direction, pt PeerType, lastActivity time.Time) *fakeConn {
	return &fakeConn{
		addr:          NewAddressForTest(addr),
		hasAddr:       addr != "",
		peerType:      pt,
		direction:     direction,
		lastActivity:  lastActivity,
		firstObserved: lastActivity,
	}
}

func (c *fakeConn) PeerAddress() (Address, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addr, c.hasAddr
}

func (c *fakeConn) PeerType() PeerType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerType
}

func (c *fakeConn) SetPeerType(t PeerType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peerType = t
}

func (c *fakeConn) Direction() Direction { return c.direction }

func (c *fakeConn) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

func (c *fakeConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) FirstObserved() time.Time { return c.firstObserved }

func (c *fakeConn) RuleViolationIfAny() (RuleViolation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.violation, c.hasViolation
}

func (c *fakeConn) ReportRuleViolation(v RuleViolation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reported = append(c.reported, v)
}

func (c *fakeConn) Shutdown(reason ShutdownReason, onDone func()) {
	c.mu.Lock()
	c.closed = true
	c.shutdownReason = reason
	c.shutdownCalled = true
	c.mu.Unlock()
	if onDone != nil {
		onDone()
	}
}

// fakeTransport is an in-memory Transport for tests.
type fakeTransport struct {
	mu        sync.Mutex
	conns     []Connection
	local     Address
	listeners []ConnectionListener
}

func newFakeTransport(local string) *fakeTransport {
	return &fakeTransport{local: NewAddressForTest(local)}
}

func (t *fakeTransport) AllConnections() []Connection {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Connection, 0, len(t.conns))
	for _, c := range t.conns {
		if !c.IsClosed() {
			out = append(out, c)
		}
	}
	return out
}

func (t *fakeTransport) ConfirmedConnections() []Connection {
	var out []Connection
	for _, c := range t.AllConnections() {
		if _, ok := c.PeerAddress(); ok {
			out = append(out, c)
		}
	}
	return out
}

func (t *fakeTransport) ConfirmedAddresses() []Address {
	var out []Address
	for _, c := range t.ConfirmedConnections() {
		if a, ok := c.PeerAddress(); ok {
			out = append(out, a)
		}
	}
	return out
}

func (t *fakeTransport) AddConnectionListener(l ConnectionListener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, l)
}

func (t *fakeTransport) RemoveConnectionListener(l ConnectionListener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	next := t.listeners[:0]
	for _, existing := range t.listeners {
		if existing != l {
			next = append(next, existing)
		}
	}
	t.listeners = next
}

func (t *fakeTransport) LocalAddress() Address { return t.local }

func (t *fakeTransport) add(c Connection) {
	t.mu.Lock()
	t.conns = append(t.conns, c)
	listeners := append([]ConnectionListener(nil), t.listeners...)
	t.mu.Unlock()
	for _, l := range listeners {
		l.OnConnect(c)
	}
}

func (t *fakeTransport) disconnect(c Connection) {
	t.mu.Lock()
	remaining := t.conns[:0]
	for _, existing := range t.conns {
		if existing != c {
			remaining = append(remaining, existing)
		}
	}
	t.conns = remaining
	listeners := append([]ConnectionListener(nil), t.listeners...)
	t.mu.Unlock()
	for _, l := range listeners {
		l.OnDisconnect(c)
	}
}

// fakeListener records every lifecycle event it receives.
type fakeListener struct {
	mu           sync.Mutex
	allLost      int
	newAfterLost int
	awake        int
}

func (l *fakeListener) OnAllConnectionsLost() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allLost++
}

func (l *fakeListener) OnNewConnectionAfterAllConnectionsLost() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.newAfterLost++
}

func (l *fakeListener) OnAwakeFromStandby() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.awake++
}

func (l *fakeListener) counts() (int, int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allLost, l.newAfterLost, l.awake
}

// NewAddressForTest exposes catalog.NewAddress to this package's tests
// without exporting a public constructor from the production API.
func NewAddressForTest(s string) Address {
	return catalog.NewAddress(s)
}

package peermgr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	missSubs []func(time.Duration)
}

func (c *fakeClock) OnTick(fn func(time.Time)) func() { return func() {} }

func (c *fakeClock) OnMissedTick(fn func(time.Duration)) func() {
	c.missSubs = append(c.missSubs, fn)
	idx := len(c.missSubs) - 1
	return func() { c.missSubs[idx] = nil }
}

func (c *fakeClock) Now() time.Time { return time.Now() }

func (c *fakeClock) emitMissedTick(gap time.Duration) {
	for _, fn := range c.missSubs {
		if fn != nil {
			fn(gap)
		}
	}
}

// Scenario 6 of spec.md §8: three connects followed by three disconnects
// fire exactly one OnAllConnectionsLost, and the subsequent connect fires
// exactly one OnNewConnectionAfterAllConnectionsLost.
func TestLivenessObserver_AllLostThenNewAfterLostEdges(t *testing.T) {
	listeners := &listenerSet{}
	fl := &fakeListener{}
	listeners.Add(fl)

	exec := newExecutor()
	defer exec.Stop()
	clock := &fakeClock{}
	o := newLivenessObserver(exec, listeners, clock, time.Minute)

	for i := 0; i < 3; i++ {
		o.OnConnect()
	}
	// disconnect down to zero: only the last should fire the edge.
	o.OnDisconnect(2)
	o.OnDisconnect(1)
	o.OnDisconnect(0)

	allLost, newAfterLost, _ := fl.counts()
	require.Equal(t, 1, allLost)
	require.Equal(t, 0, newAfterLost)
	require.True(t, o.Stopped())

	o.OnConnect()
	allLost, newAfterLost, _ = fl.counts()
	require.Equal(t, 1, allLost)
	require.Equal(t, 1, newAfterLost)
	require.False(t, o.Stopped())
}

// Scenario 5 of spec.md §8: a missed tick larger than the idle tolerance
// clears stopped and notifies OnAwakeFromStandby.
func TestLivenessObserver_StandbyWake(t *testing.T) {
	listeners := &listenerSet{}
	fl := &fakeListener{}
	listeners.Add(fl)

	exec := newExecutor()
	defer exec.Stop()
	clock := &fakeClock{}
	o := newLivenessObserver(exec, listeners, clock, 30*time.Second)

	o.OnConnect()
	o.OnDisconnect(0)
	require.True(t, o.Stopped())

	clock.emitMissedTick(600 * time.Second)

	require.Eventually(t, func() bool {
		_, _, awake := fl.counts()
		return awake == 1
	}, time.Second, time.Millisecond)
	require.False(t, o.Stopped())
}

func TestLivenessObserver_IgnoresTickWithinTolerance(t *testing.T) {
	listeners := &listenerSet{}
	fl := &fakeListener{}
	listeners.Add(fl)

	exec := newExecutor()
	defer exec.Stop()
	clock := &fakeClock{}
	o := newLivenessObserver(exec, listeners, clock, 30*time.Second)
	o.OnConnect()
	o.OnDisconnect(0)

	clock.emitMissedTick(5 * time.Second)

	// Post a no-op and wait for it to drain so any (incorrectly) posted
	// missed-tick handling would have already run before this check.
	done := make(chan struct{})
	exec.Post(func() { close(done) })
	<-done

	_, _, awake := fl.counts()
	require.Equal(t, 0, awake)
	require.True(t, o.Stopped())
}

func TestLivenessObserver_ImmediateDisconnectWithOtherConnRemaining(t *testing.T) {
	listeners := &listenerSet{}
	fl := &fakeListener{}
	listeners.Add(fl)

	exec := newExecutor()
	defer exec.Stop()
	clock := &fakeClock{}
	o := newLivenessObserver(exec, listeners, clock, time.Minute)

	o.OnConnect()
	o.OnConnect()
	o.OnDisconnect(1) // one connection remains

	allLost, _, _ := fl.counts()
	require.Equal(t, 0, allLost)
	require.False(t, o.Stopped())
}

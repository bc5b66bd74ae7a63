package peermgr

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHousekeepingScheduler_CoalescesBurstOfConnects(t *testing.T) {
	exec := newExecutor()
	defer exec.Stop()

	var swept int32
	stopped := func() bool { return false }
	sched := newHousekeepingScheduler(exec, stopped, func() {
		atomic.AddInt32(&swept, 1)
	})
	sched.delay = 20 * time.Millisecond

	sched.ArmOnConnect()
	sched.ArmOnConnect()
	sched.ArmOnConnect()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&swept) == 1
	}, time.Second, time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	require.EqualValues(t, 1, atomic.LoadInt32(&swept), "a burst of connects must coalesce into a single sweep")
}

func TestHousekeepingScheduler_SkipsSweepWhenStopped(t *testing.T) {
	exec := newExecutor()
	defer exec.Stop()

	var swept int32
	sched := newHousekeepingScheduler(exec, func() bool { return true }, func() {
		atomic.AddInt32(&swept, 1)
	})
	sched.delay = 10 * time.Millisecond

	sched.ArmOnConnect()
	time.Sleep(50 * time.Millisecond)
	require.EqualValues(t, 0, atomic.LoadInt32(&swept))
}

func TestHousekeepingScheduler_StopCancelsPendingExpiry(t *testing.T) {
	exec := newExecutor()
	defer exec.Stop()

	var swept int32
	sched := newHousekeepingScheduler(exec, func() bool { return false }, func() {
		atomic.AddInt32(&swept, 1)
	})
	sched.delay = 20 * time.Millisecond

	sched.ArmOnConnect()
	sched.Stop()
	time.Sleep(50 * time.Millisecond)
	require.EqualValues(t, 0, atomic.LoadInt32(&swept))
}

func TestHousekeepingScheduler_RearmsAfterExpiry(t *testing.T) {
	exec := newExecutor()
	defer exec.Stop()

	var swept int32
	sched := newHousekeepingScheduler(exec, func() bool { return false }, func() {
		atomic.AddInt32(&swept, 1)
	})
	sched.delay = 15 * time.Millisecond

	sched.ArmOnConnect()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&swept) == 1 }, time.Second, time.Millisecond)

	sched.ArmOnConnect()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&swept) == 2 }, time.Second, time.Millisecond)
}

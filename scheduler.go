package peermgr

import (
	"sync"
	"time"

	logging "github.com/ipfs/go-log"
)

var schedLog = logging.Logger("peermgr/scheduler")

// HousekeepingDelay is CHECK_MAX_CONN_DELAY of spec.md §6.
const HousekeepingDelay = 5 * time.Second

// housekeepingScheduler is the single-shot, re-armed timer of spec.md
// §4.3, generalized from the teacher's TrimOpenConns/background():
// the teacher polls a ticker every minute and throttles trims with a
// silence period; this instead arms a 5s one-shot only on a connect
// event and lets activity re-arm it, which better matches "coalesce
// housekeeping triggers" than a fixed poll interval would.
type housekeepingScheduler struct {
	mu    sync.Mutex
	timer *time.Timer
	delay time.Duration

	exec      *executor
	stoppedFn func() bool
	sweep     func()
}

func newHousekeepingScheduler(exec *executor, stoppedFn func() bool, sweep func()) *housekeepingScheduler {
	return &housekeepingScheduler{
		exec:      exec,
		stoppedFn: stoppedFn,
		sweep:     sweep,
		delay:     HousekeepingDelay,
	}
}

// ArmOnConnect arms the timer if it isn't already armed; a second
// connect before expiry is a no-op, coalescing bursts of connects into a
// single sweep (spec.md §4.3).
func (h *housekeepingScheduler) ArmOnConnect() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.timer != nil {
		return
	}
	h.timer = time.AfterFunc(h.delay, h.expire)
}

func (h *housekeepingScheduler) expire() {
	h.mu.Lock()
	h.timer = nil
	h.mu.Unlock()

	h.exec.Post(func() {
		if h.stoppedFn() {
			schedLog.Debug("housekeeping sweep skipped: node stopped")
			return
		}
		h.sweep()
	})
}

// Stop cancels a pending expiry, if any (spec.md §5 "Shutdown of the core
// cancels the timer").
func (h *housekeepingScheduler) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
}

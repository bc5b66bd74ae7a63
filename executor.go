package peermgr

// executor is the "dedicated user-facing executor" of spec.md §5: a
// single goroutine that drains a FIFO queue of closures, so that
// transport callbacks, clock callbacks, and shutdown-completion
// continuations are all observed in one total order. This is the
// idiomatic Go rendering of "marshal everything onto one thread" the
// spec requires in place of the teacher's per-segment locking, because
// the spec needs a strict FIFO order across connect/disconnect/tick
// events that sharded locks can't give.
type executor struct {
	tasks chan func()
	done  chan struct{}
}

func newExecutor() *executor {
	e := &executor{
		tasks: make(chan func(), 256),
		done:  make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *executor) run() {
	for {
		select {
		case fn := <-e.tasks:
			fn()
		case <-e.done:
			return
		}
	}
}

// Post enqueues fn to run on the executor goroutine, in FIFO order with
// every other posted task. Posting after Stop is a no-op.
func (e *executor) Post(fn func()) {
	select {
	case <-e.done:
		return
	default:
	}
	select {
	case e.tasks <- fn:
	case <-e.done:
	}
}

// Stop halts the executor goroutine. Already-queued tasks may or may not
// run; callers that need a clean drain should coordinate externally.
func (e *executor) Stop() {
	close(e.done)
}

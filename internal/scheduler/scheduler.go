// Package scheduler implements the background-work trigger queues
// (spec §4.6/§9, component C7): bounded, capacity-1 channels that
// coalesce repeated signals instead of queuing them, driving the
// flush and compaction worker goroutines. Grounded on spec.md §9's
// explicit redesign note — "model flush/compaction triggers as worker
// tasks driven by bounded channels" — in place of the teacher's
// condition-variable-driven background-thread loop
// (aalhour-rockyardkv's db_apis.go maybeScheduleFlushOrCompaction
// pattern), which this package replaces with an idiomatic Go
// worker-pool shape instead of generalizing.
package scheduler

import "sync"

// Trigger is a coalescing signal: Notify never blocks and never
// queues more than one pending wakeup, so a burst of writes that all
// cross the memtable threshold collapses into a single flush signal.
type Trigger struct {
	ch chan struct{}
}

// NewTrigger creates a ready-to-use Trigger.
func NewTrigger() *Trigger {
	return &Trigger{ch: make(chan struct{}, 1)}
}

// Notify schedules a wakeup if one is not already pending. It never
// blocks.
func (t *Trigger) Notify() {
	select {
	case t.ch <- struct{}{}:
	default:
	}
}

// C exposes the underlying channel for use in a select statement
// alongside a shutdown channel.
func (t *Trigger) C() <-chan struct{} { return t.ch }

// Worker runs fn in a loop each time its Trigger fires, until Stop is
// called. Used for both the flush worker and the compaction worker —
// each engine owns one of each.
type Worker struct {
	trigger *Trigger
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// StartWorker launches a goroutine that calls fn once per trigger
// firing (and once immediately, to pick up work pending from a prior
// run) until Stop is called. fn must not block indefinitely — it
// should do one unit of work (one flush, one compaction) and return,
// since the worker re-checks whether more work remains by being
// re-notified.
func StartWorker(trigger *Trigger, fn func()) *Worker {
	w := &Worker{trigger: trigger, stop: make(chan struct{}), done: make(chan struct{})}
	go func() {
		defer close(w.done)
		fn()
		for {
			select {
			case <-trigger.C():
				fn()
			case <-w.stop:
				return
			}
		}
	}()
	return w
}

// Stop signals the worker to exit and waits for it to do so.
func (w *Worker) Stop() {
	w.once.Do(func() { close(w.stop) })
	<-w.done
}

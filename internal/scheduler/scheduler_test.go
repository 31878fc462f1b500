package scheduler

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestTriggerCoalesces(t *testing.T) {
	tr := NewTrigger()
	tr.Notify()
	tr.Notify()
	tr.Notify()

	select {
	case <-tr.C():
	default:
		t.Fatal("expected a pending signal")
	}
	select {
	case <-tr.C():
		t.Fatal("expected only one coalesced signal, got a second")
	default:
	}
}

func TestWorkerRunsOnNotify(t *testing.T) {
	tr := NewTrigger()
	var calls int64
	w := StartWorker(tr, func() { atomic.AddInt64(&calls, 1) })
	defer w.Stop()

	tr.Notify()
	tr.Notify()

	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt64(&calls) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if atomic.LoadInt64(&calls) == 0 {
		t.Fatal("worker never ran")
	}
}

func TestWorkerStopsCleanly(t *testing.T) {
	tr := NewTrigger()
	w := StartWorker(tr, func() {})
	w.Stop()
	// Stop must be idempotent.
	w.Stop()
}

// Package asyncworker drives the periodic tick loop that AsyncObject
// instances rely on to apply queued changes and rebroadcast fresh
// snapshots. It knows nothing about Settings/Obj types; it only knows
// how to call Tick on whatever is attached to it.
package asyncworker

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultPeriod is the worker's tick interval when none is given to
// New, matching the source's own default.
const DefaultPeriod = 250 * time.Millisecond

// Tickable is implemented by anything an AsyncWorker can drive. In
// practice this is asyncobject.AsyncObject[Obj, Settings].
type Tickable interface {
	Tick()
}

// DiagnosticHook receives notable AsyncWorker lifecycle events: "start"
// and "stop" (err always nil), and "tick_panic" when a Tick call is
// recovered from (err holds the recovered value). Callers typically
// wire this to their own logger, the way cmd/rtdemo wires it to log.Printf.
type DiagnosticHook func(event string, err error)

// AsyncWorker periodically calls Tick on every attached Tickable from a
// single background goroutine.
type AsyncWorker struct {
	mu       sync.Mutex
	attached []Tickable

	period atomic.Int64 // time.Duration, nanoseconds

	running       atomic.Bool
	stopRequested atomic.Bool
	stopped       chan struct{}

	// hookMu guards hook independently of mu, since notify is called
	// from inside the tick loop while mu is already held.
	hookMu sync.RWMutex
	hook   DiagnosticHook
}

// New returns a worker with the given tick period. A period of 0 uses
// DefaultPeriod.
func New(period time.Duration) *AsyncWorker {
	if period <= 0 {
		period = DefaultPeriod
	}
	w := &AsyncWorker{}
	w.period.Store(int64(period))
	return w
}

// Attach adds obj to the attached set. Safe to call while the worker is
// running; the running loop takes the mutex for the duration of a tick
// so attach/detach always observes a consistent view (spec §4.4).
func (w *AsyncWorker) Attach(obj Tickable) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attached = append(w.attached, obj)
}

// Detach removes obj from the attached set. A no-op if obj was never
// attached.
func (w *AsyncWorker) Detach(obj Tickable) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, a := range w.attached {
		if a == obj {
			w.attached = append(w.attached[:i], w.attached[i+1:]...)
			return
		}
	}
}

// Start spawns the worker goroutine. Idempotent: starting an
// already-running worker is a no-op.
func (w *AsyncWorker) Start() {
	if !w.running.CompareAndSwap(false, true) {
		return
	}
	w.stopRequested.Store(false)
	w.stopped = make(chan struct{})
	go w.loop(w.stopped)
}

// Stop signals the worker goroutine and blocks until it has exited.
// Idempotent: stopping an already-stopped worker is a no-op.
func (w *AsyncWorker) Stop() {
	if !w.running.Load() {
		return
	}
	w.stopRequested.Store(true)
	<-w.stopped
	w.running.Store(false)
}

// SetPeriod atomically updates the tick period; the new value is
// observed on the worker's next sleep.
func (w *AsyncWorker) SetPeriod(period time.Duration) {
	w.period.Store(int64(period))
}

// GetPeriod returns the current tick period.
func (w *AsyncWorker) GetPeriod() time.Duration {
	return time.Duration(w.period.Load())
}

// IsRunning reports whether the worker goroutine is active.
func (w *AsyncWorker) IsRunning() bool {
	return w.running.Load()
}

// SetDiagnosticHook installs the callback notified of worker lifecycle
// events. Pass nil to remove it. Not realtime-safe; meant to be set
// once during setup, the way cmd/rtdemo does.
func (w *AsyncWorker) SetDiagnosticHook(hook DiagnosticHook) {
	w.hookMu.Lock()
	defer w.hookMu.Unlock()
	w.hook = hook
}

func (w *AsyncWorker) notify(event string, err error) {
	w.hookMu.RLock()
	hook := w.hook
	w.hookMu.RUnlock()
	if hook != nil {
		hook(event, err)
	}
}

func (w *AsyncWorker) loop(stopped chan struct{}) {
	defer close(stopped)
	w.notify("start", nil)
	defer w.notify("stop", nil)

	for {
		w.mu.Lock()
		for _, obj := range w.attached {
			w.tickOne(obj)
		}
		w.mu.Unlock()

		if w.stopRequested.Load() {
			return
		}
		time.Sleep(w.GetPeriod())
		if w.stopRequested.Load() {
			return
		}
	}
}

// tickOne calls obj.Tick(), recovering from a panic and routing it
// through the diagnostic hook rather than letting one misbehaving
// Tickable take down the worker goroutine and every other Tickable
// attached to it.
func (w *AsyncWorker) tickOne(obj Tickable) {
	defer func() {
		if r := recover(); r != nil {
			w.notify("tick_panic", fmt.Errorf("%v", r))
		}
	}()
	obj.Tick()
}

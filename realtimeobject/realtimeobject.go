// Package realtimeobject provides a single-realtime-consumer handoff:
// the realtime thread always sees the latest version of a heap-owned
// value constructed off-thread, and the version it replaces is handed
// back to non-realtime code for disposal instead of being freed inline
// on the realtime path.
package realtimeobject

import (
	"sync"
	"sync/atomic"

	"github.com/dmambro/lockfree-go/internal/raceassert"
	"github.com/dmambro/lockfree-go/messenger"
)

const defaultPreallocatedNodes = 128

// RealtimeObject holds the current *T for the realtime side plus the
// two Messengers that carry fresh and stale versions across the
// non-realtime/realtime boundary.
type RealtimeObject[T any] struct {
	toRT   *messenger.Messenger[*T]
	fromRT *messenger.Messenger[*T]

	current atomic.Pointer[T]

	// writeMu serializes Set/Change/ChangeIf across non-RT writers, as
	// spec §4.3 requires ("multiple non-RT writers may coordinate").
	writeMu sync.Mutex

	// rtOwner enforces the single-realtime-consumer contract on GetRT
	// when built with -tags rtdebug; a no-op otherwise.
	rtOwner raceassert.Owner
}

// New wraps initial as the current value and preallocates
// numNodesToPreallocate free nodes on both internal messengers (128 by
// default, matching the source's own default).
func New[T any](initial *T, numNodesToPreallocate ...int) *RealtimeObject[T] {
	n := defaultPreallocatedNodes
	if len(numNodesToPreallocate) > 0 {
		n = numNodesToPreallocate[0]
	}
	r := &RealtimeObject[T]{
		toRT:   messenger.New[*T](),
		fromRT: messenger.New[*T](),
	}
	r.current.Store(initial)
	r.toRT.Preallocate(n, nil)
	r.fromRT.Preallocate(n, nil)
	return r
}

// Set drains and drops any pending return-chain on fromRT, then pushes
// newValue onto toRT for the realtime side to pick up on its next
// GetRT. Safe to call from multiple non-realtime threads; serializes on
// writeMu.
func (r *RealtimeObject[T]) Set(newValue *T) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	r.fromRT.ReceiveAndHandle(func(*T) {})
	r.toRT.Send(newValue)
}

// Change reads the current non-RT-visible snapshot, applies fn to a
// value derived from it, and Sets the result.
func (r *RealtimeObject[T]) Change(fn func(T) T) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	current := r.GetNonRT()
	if current == nil {
		return
	}
	updated := fn(*current)
	r.fromRT.ReceiveAndHandle(func(*T) {})
	r.toRT.Send(&updated)
}

// ChangeIf applies Change only if pred returns true for the current
// snapshot. Returns whether the change was applied.
func (r *RealtimeObject[T]) ChangeIf(fn func(T) T, pred func(T) bool) bool {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	current := r.GetNonRT()
	if current == nil || !pred(*current) {
		return false
	}
	updated := fn(*current)
	r.fromRT.ReceiveAndHandle(func(*T) {})
	r.toRT.Send(&updated)
	return true
}

// GetRT is called from the single realtime consumer thread. If a new
// version has arrived on toRT, it swaps it in as current and returns
// the immediately-prior current value through fromRT for disposal. Any
// further versions toRT had queued behind the newest one are coalesced
// away inside ReceiveLast and recycled onto toRT's own free-list; they
// never reach fromRT. Lock-free and allocation-free.
func (r *RealtimeObject[T]) GetRT() *T {
	r.rtOwner.Check()
	head, ok := r.toRT.ReceiveLast()
	if !ok {
		return r.current.Load()
	}
	newest := head.Value
	old := r.current.Swap(newest)
	r.fromRT.Send(old)
	r.toRT.Recycle(head)
	return newest
}

// GetNonRT reads the published pointer with acquire ordering. The
// pointed-to value is immutable after publication; callers must treat
// it as read-only.
func (r *RealtimeObject[T]) GetNonRT() *T {
	return r.current.Load()
}

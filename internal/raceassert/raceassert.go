// Package raceassert provides a zero-cost-in-production check for
// single-realtime-consumer invariants: several types in this module
// (RealtimeObject.GetRT, Instance.Update) document that they may only
// ever be called from one designated goroutine. Built normally, Check
// does nothing. Built with -tags rtdebug, it records the calling
// goroutine's id and panics the first time a different goroutine calls
// it, the same way the pack's race-detector example identifies
// goroutines by parsing runtime.Stack.
package raceassert

import "sync/atomic"

// Owner records the goroutine id of the last caller of Check. The zero
// value is ready to use.
type Owner struct {
	id atomic.Int64
}

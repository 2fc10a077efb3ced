//go:build rtdebug

package raceassert

import (
	"fmt"
	"runtime"
	"strconv"
)

// Check panics if it has previously been called by a different
// goroutine than the one calling now.
func (o *Owner) Check() {
	id := goroutineID()
	if id == 0 {
		return
	}
	prev := o.id.Swap(id)
	if prev != 0 && prev != id {
		panic(fmt.Sprintf("raceassert: single-goroutine invariant violated: previously called from goroutine %d, now from %d", prev, id))
	}
}

func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	return parseGoroutineID(buf[:n])
}

// parseGoroutineID reads the numeric id out of a line shaped like
// "goroutine 123 [running]:".
func parseGoroutineID(b []byte) int64 {
	const prefix = "goroutine "
	if len(b) <= len(prefix) {
		return 0
	}
	b = b[len(prefix):]
	i := 0
	for i < len(b) && b[i] >= '0' && b[i] <= '9' {
		i++
	}
	id, err := strconv.ParseInt(string(b[:i]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

package asyncobject

import (
	"sync"
	"testing"
	"time"

	"github.com/dmambro/lockfree-go/asyncworker"
)

type counterSettings struct {
	value int
}

func buildCounter(s counterSettings) int {
	return s.value
}

// TestSingleProducerDrivesFinalValue is scenario 3 from spec §8: one
// producer submits a sequence of increments; after enough ticks every
// Instance observes the final accumulated value.
func TestSingleProducerDrivesFinalValue(t *testing.T) {
	obj := New[int](counterSettings{}, buildCounter)
	inst := obj.CreateInstance()
	prod := obj.CreateProducer()

	for i := 0; i < 5; i++ {
		prod.Submit(func(s *counterSettings) { s.value++ })
	}

	obj.Tick()
	if !inst.Update() {
		t.Fatalf("expected Instance.Update to report a fresh snapshot")
	}
	if got := *inst.Get(); got != 5 {
		t.Fatalf("expected accumulated value 5, got %d", got)
	}
}

// TestMultipleProducersDrivesDeterministicFinalValue is scenario 4 from
// spec §8: several producers submit commutative changes concurrently;
// after Stop (simulated by waiting for all submissions to complete) and
// one final tick, the Settings value is deterministic regardless of
// interleaving because addition commutes.
func TestMultipleProducersDrivesDeterministicFinalValue(t *testing.T) {
	obj := New[int](counterSettings{}, buildCounter)
	inst := obj.CreateInstance()

	const producers = 6
	const perProducer = 50
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		prod := obj.CreateProducer()
		wg.Add(1)
		go func(prod *Producer[int, counterSettings]) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				prod.Submit(func(s *counterSettings) { s.value++ })
			}
		}(prod)
	}
	wg.Wait()

	obj.Tick()
	if !inst.Update() {
		t.Fatalf("expected a fresh snapshot after the final tick")
	}
	want := producers * perProducer
	if got := *inst.Get(); got != want {
		t.Fatalf("expected deterministic total %d, got %d", want, got)
	}
}

// TestInstanceUpdateIdempotentWithoutNewTick is the Instance.Update
// idempotence law: calling Update again with no intervening tick that
// changed Settings returns false.
func TestInstanceUpdateIdempotentWithoutNewTick(t *testing.T) {
	obj := New[int](counterSettings{value: 1}, buildCounter)
	inst := obj.CreateInstance()
	prod := obj.CreateProducer()

	prod.Submit(func(s *counterSettings) { s.value += 10 })
	obj.Tick()

	if !inst.Update() {
		t.Fatalf("expected first Update after a changing tick to return true")
	}
	if inst.Update() {
		t.Fatalf("expected second Update with no new broadcast to return false")
	}

	obj.Tick() // no submissions queued: no change, no rebroadcast
	if inst.Update() {
		t.Fatalf("expected Update after a no-op tick to return false")
	}
}

// TestTickReclaimsInstanceReturns exercises step 1 of Tick: values
// Instances hand back through fromInstance are drained every tick
// rather than accumulating forever.
func TestTickReclaimsInstanceReturns(t *testing.T) {
	obj := New[int](counterSettings{}, buildCounter)
	inst := obj.CreateInstance()
	prod := obj.CreateProducer()

	prod.Submit(func(s *counterSettings) { s.value = 1 })
	obj.Tick()
	inst.Update()

	prod.Submit(func(s *counterSettings) { s.value = 2 })
	obj.Tick() // drains the node inst.Update() returned above, then broadcasts 2
	if !inst.Update() {
		t.Fatalf("expected another fresh snapshot")
	}
	if got := *inst.Get(); got != 2 {
		t.Fatalf("expected value 2, got %d", got)
	}
}

// TestSubmitNBFailsWhenFreeListExhausted exercises the realtime-safe
// submission path against an intentionally tiny free-list.
func TestSubmitNBFailsWhenFreeListExhausted(t *testing.T) {
	obj := New[int](counterSettings{}, buildCounter)
	prod := obj.CreateProducer()
	prod.changes.FreeStorage() // drop the package default preallocation
	prod.Preallocate(1)

	if !prod.SubmitNB(func(s *counterSettings) {}) {
		t.Fatalf("expected first SubmitNB to succeed")
	}
	if prod.SubmitNB(func(s *counterSettings) {}) {
		t.Fatalf("expected second SubmitNB to fail: free-list should be exhausted")
	}
}

// TestAsyncWorkerDrivesAsyncObject wires an AsyncObject to a real
// AsyncWorker and confirms a submitted change eventually lands.
func TestAsyncWorkerDrivesAsyncObject(t *testing.T) {
	obj := New[int](counterSettings{}, buildCounter)
	inst := obj.CreateInstance()
	prod := obj.CreateProducer()

	w := asyncworker.New(5 * time.Millisecond)
	w.Attach(obj)
	w.Start()
	defer w.Stop()

	prod.Submit(func(s *counterSettings) { s.value = 42 })

	deadline := time.After(time.Second)
	for {
		if inst.Update() && *inst.Get() == 42 {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for worker to broadcast value 42")
		case <-time.After(time.Millisecond):
		}
	}
}

// TestCloseDetachesInstanceAndProducer confirms Close removes handles
// from the AsyncObject's membership so a subsequent Tick does not touch
// them.
func TestCloseDetachesInstanceAndProducer(t *testing.T) {
	obj := New[int](counterSettings{}, buildCounter)
	inst := obj.CreateInstance()
	prod := obj.CreateProducer()
	inst.Close()
	prod.Close()

	if len(obj.instances) != 0 || len(obj.producers) != 0 {
		t.Fatalf("expected Close to detach both handles")
	}

	// Tick must still be safe to call with nothing attached.
	obj.Tick()
}

package messenger

import (
	"sync"
	"testing"

	"github.com/dmambro/lockfree-go/lifostack"
)

// TestSendReceiveAllFIFOOrder is scenario 1 from spec §8: single
// producer, single consumer; send 1,2,3; receive_all then a FIFO walk
// yields [1,2,3].
func TestSendReceiveAllFIFOOrder(t *testing.T) {
	m := New[int]()
	m.Send(1)
	m.Send(2)
	m.Send(3)

	head := m.ReceiveAll()
	var got []int
	for it := ReverseForFIFO(head); it != nil; it = it.Prev() {
		got = append(got, it.Value)
	}
	want := []int{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

// TestReceiveLastCoalescesToLatest is scenario 2 from spec §8.
func TestReceiveLastCoalescesToLatest(t *testing.T) {
	m := New[int]()
	m.Send(1)
	m.Send(2)
	m.Send(3)

	node, ok := m.ReceiveLast()
	if !ok || node.Value != 3 {
		t.Fatalf("expected last-sent value 3, got %v (ok=%v)", node, ok)
	}
	m.Recycle(node)

	if head := m.ReceiveAll(); head != nil {
		t.Fatalf("expected live to be empty after ReceiveLast")
	}

	// Free-list should now hold all 3 nodes: the 2 coalesced away plus
	// the one just recycled.
	free := m.free.PopAll()
	if got := lifostack.Length(free); got != 3 {
		t.Fatalf("expected free-list to hold 3 nodes, got %d", got)
	}
}

// TestPreallocateThenSendIfNodeAvailable is scenario 6 from spec §8.
func TestPreallocateThenSendIfNodeAvailable(t *testing.T) {
	m := New[int]()
	m.Preallocate(4, func() int { return 0 })

	for i := 0; i < 4; i++ {
		if !m.SendIfNodeAvailable(i) {
			t.Fatalf("expected send %d to succeed from preallocated free-list", i)
		}
	}
	if m.SendIfNodeAvailable(4) {
		t.Fatalf("expected 5th send to fail: free-list should be exhausted")
	}

	chain := m.ReceiveAll()
	if Length(chain) != 4 {
		t.Fatalf("expected 4 messages, got %d", Length(chain))
	}
	m.Recycle(chain)

	if !m.SendIfNodeAvailable(99) {
		t.Fatalf("expected capacity to be restored after recycling")
	}
}

func TestReceiveAllEmptyReturnsNil(t *testing.T) {
	m := New[string]()
	if head := m.ReceiveAll(); head != nil {
		t.Fatalf("expected nil on empty messenger")
	}
}

func TestReceiveLastEmptyReturnsFalse(t *testing.T) {
	m := New[string]()
	if _, ok := m.ReceiveLast(); ok {
		t.Fatalf("expected ok=false on empty messenger")
	}
}

func TestSendIfNodeAvailableOnEmptyFreeListLeavesLiveUntouched(t *testing.T) {
	m := New[int]()
	if m.SendIfNodeAvailable(1) {
		t.Fatalf("expected failure with empty free-list")
	}
	if head := m.ReceiveAll(); head != nil {
		t.Fatalf("live must be untouched by a failed SendIfNodeAvailable")
	}
}

func TestRecycleReceiveAllRoundTripIsNoop(t *testing.T) {
	m := New[int]()
	m.Preallocate(5, func() int { return 0 })
	for i := 0; i < 5; i++ {
		m.Send(i)
	}
	m.Recycle(m.ReceiveAll())
	free := m.free.PopAll()
	if got := Length(nodeOf[int](free)); got != 5 {
		t.Fatalf("recycle(receive_all()) must conserve node count, got %d", got)
	}
}

// TestConcurrentSendReceiveAllConservesPayloads is the round-trip law
// from spec §8: concurrent sends followed by one receive_all yields
// exactly the multiset of sent values.
func TestConcurrentSendReceiveAllConservesPayloads(t *testing.T) {
	const producers = 8
	const perProducer = 500
	m := New[int]()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				m.Send(base*perProducer + i)
			}
		}(p)
	}
	wg.Wait()

	head := m.ReceiveAll()
	seen := make(map[int]bool, producers*perProducer)
	for it := head; it != nil; it = it.Next() {
		if seen[it.Value] {
			t.Fatalf("duplicate payload %d observed", it.Value)
		}
		seen[it.Value] = true
	}
	if len(seen) != producers*perProducer {
		t.Fatalf("expected %d payloads, got %d", producers*perProducer, len(seen))
	}
}

func TestReceiveAndHandleAppliesInFIFOOrderAndRecycles(t *testing.T) {
	m := New[int]()
	m.Send(1)
	m.Send(2)
	m.Send(3)

	var got []int
	n := m.ReceiveAndHandle(func(v int) { got = append(got, v) })
	if n != 3 {
		t.Fatalf("expected 3 handled messages, got %d", n)
	}
	want := []int{1, 2, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	if got2 := m.free.PopAll(); Length(nodeOf[int](got2)) != 3 {
		t.Fatalf("expected the 3 handled nodes to be recycled onto free")
	}
}

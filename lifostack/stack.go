// Package lifostack implements the untyped multi-producer, multi-consumer
// pop-all LIFO stack every other package in this module is built on.
//
// [무엇을 위한 자료구조인가?]
// 여러 프로듀서 스레드가 동시에 push 하고, 컨슈머 스레드가 popAll로 체인
// 전체를 한 번에 떼어가는 용도입니다. 개별 pop이 없기 때문에 head에 대한
// CAS는 push에만 존재하고, popAll은 head를 nil로 바꾸는 단일 원자적
// 교환입니다. 이 비대칭성 덕분에 고전적인 ABA 문제가 발생하지 않습니다:
// popAll이 체인을 통째로 떼어가므로, push가 관찰하는 head 값은 항상
// 여전히 연결 가능한 유효한 주소입니다 (§9 참고).
package lifostack

import (
	"sync/atomic"
	"unsafe"
)

// Node is the intrusive link every stack element embeds. Next is the only
// field the stack algorithm itself reads or writes; Prev is scratch space
// used solely by the FIFO-replay helper in the messenger package and has
// no meaning outside that one pass.
type Node struct {
	Next unsafe.Pointer // *Node
	Prev unsafe.Pointer // *Node, valid only during FIFO replay
}

// Stack is an atomic singly linked LIFO chain of *Node. The zero value is
// an empty, ready-to-use stack.
type Stack struct {
	head unsafe.Pointer // *Node
}

// Push atomically links node as the new head. node must not currently be
// linked into any stack. Lock-free; a CAS loop that retries only when
// another producer raced ahead of it.
func (s *Stack) Push(node *Node) {
	for {
		old := atomic.LoadPointer(&s.head)
		atomic.StorePointer(&node.Next, old)
		if atomic.CompareAndSwapPointer(&s.head, old, unsafe.Pointer(node)) {
			return
		}
	}
}

// PushChain splices a pre-linked chain head→…→tail onto the stack in a
// single CAS, preserving the chain's internal order. tail.Next must
// already be nil on entry. O(1) regardless of chain length.
func (s *Stack) PushChain(head, tail *Node) {
	if head == nil {
		return
	}
	for {
		old := atomic.LoadPointer(&s.head)
		atomic.StorePointer(&tail.Next, old)
		if atomic.CompareAndSwapPointer(&s.head, old, unsafe.Pointer(head)) {
			return
		}
	}
}

// PopAll atomically exchanges the head with nil and returns the chain
// that was there, or nil if the stack was empty. The returned chain is
// exclusively owned by the caller; no further synchronization is needed
// to traverse it.
func (s *Stack) PopAll() *Node {
	old := atomic.SwapPointer(&s.head, nil)
	return (*Node)(old)
}

// Last walks from node to the end of its chain and returns the tail.
// O(n); must not be called concurrently with anything that mutates the
// chain (the chain must already be detached from a Stack).
func (n *Node) Last() *Node {
	it := n
	for {
		next := (*Node)(atomic.LoadPointer(&it.Next))
		if next == nil {
			return it
		}
		it = next
	}
}

// Length walks a detached chain and counts its nodes. O(n); same
// no-concurrent-mutation caveat as Last.
func Length(head *Node) int {
	n := 0
	for it := head; it != nil; it = (*Node)(atomic.LoadPointer(&it.Next)) {
		n++
	}
	return n
}

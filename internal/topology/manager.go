// Package topology는 살아 있는 PeerLimits 정책의 적용을 받는 활성
// 피어 집합을 추적합니다. 피어 조회는 ID 해시로 샤딩되어 있어서, 트래픽이
// 몰릴 때 단일 sync.Map 하나가 겪을 경합을 여러 조회가 나눠 가질 수
// 있습니다.
package topology

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/dmambro/lockfree-go/asyncobject"
)

// Direction은 연결을 먼저 건 쪽이 어느 쪽인지 기록합니다.
type Direction int

const (
	Inbound Direction = iota
	Outbound
)

// PeerInfo는 활성 피어마다 추적하는 레코드입니다.
type PeerInfo struct {
	ID        string
	Addr      string
	Direction Direction
	Connected bool
}

// PeerLimits는 Topology가 강제하는 정책입니다. asyncobject.Instance를
// 통해 전달되므로, Topology의 조회/추가/삭제 같은 hot path가 정책 자체에
// 락을 걸지 않고도 런타임에 한도를 바꿀 수 있습니다.
type PeerLimits struct {
	MaxPeers         int
	MaxInboundPeers  int
	MaxOutboundPeers int
}

// DefaultPeerLimits는 일반적인 노드의 연결 상한을 반영합니다.
var DefaultPeerLimits = PeerLimits{
	MaxPeers:         50,
	MaxInboundPeers:  25,
	MaxOutboundPeers: 25,
}

// EventHandler는 멤버십 변경 시 알림을 받습니다.
type EventHandler interface {
	OnPeerConnected(peer *PeerInfo)
	OnPeerDisconnected(peer *PeerInfo)
}

const shardCount = 32

type shard struct {
	peers sync.Map // id -> *PeerInfo
}

// Topology는 살아 있는 PeerLimits 정책 아래에서 활성 피어를
// 추적합니다.
//
// [왜 샤딩하나?]
// ID 인덱스는 xxhash로 해시한 값에 따라 shardCount개의 샤드로 나뉩니다.
// 그래서 서로 무관한 피어를 찾는 조회들이 같은 sync.Map의 dirty-map
// 락을 두고 경합하지 않습니다. 주소 인덱스는 단일 map으로 남겨두는데,
// 중복 연결을 걸러내는 용도로만 존재하고 ID 인덱스보다 훨씬 드물게
// 쓰이기 때문입니다.
type Topology struct {
	shards      [shardCount]shard
	peersByAddr sync.Map // addr -> *PeerInfo

	totalCount    atomic.Int64
	inboundCount  atomic.Int64
	outboundCount atomic.Int64

	limits *asyncobject.Instance[PeerLimits, PeerLimits]

	mu           sync.RWMutex
	eventHandler EventHandler
}

// New는 inst가 공급하는 한도를 사용하는 Topology를 만듭니다. inst는
// 보통 asyncobject.AsyncObject[PeerLimits, PeerLimits]에서 만든
// Instance로, 토폴로지가 계속 돌아가는 동안에도 운영자가 Producer를 통해
// 새 한도를 밀어 넣을 수 있게 해줍니다.
func New(inst *asyncobject.Instance[PeerLimits, PeerLimits]) *Topology {
	return &Topology{limits: inst}
}

func (t *Topology) shardFor(id string) *shard {
	h := xxhash.Sum64String(id)
	return &t.shards[h%shardCount]
}

func (t *Topology) currentLimits() PeerLimits {
	t.limits.Update() // 워커가 새 정책을 방송했다면 여기서 최신 값을 반영한다
	return *t.limits.Get()
}

// AddPeer는 현재 PeerLimits를 초과하지 않고, 같은 ID나 주소를 가진
// 피어가 이미 없을 때만 peer를 등록합니다.
func (t *Topology) AddPeer(peer *PeerInfo) error {
	limits := t.currentLimits()

	if total := t.totalCount.Load(); total >= int64(limits.MaxPeers) {
		return fmt.Errorf("topology: peer limit reached: %d >= %d", total, limits.MaxPeers)
	}
	if peer.Direction == Inbound {
		if n := t.inboundCount.Load(); n >= int64(limits.MaxInboundPeers) {
			return fmt.Errorf("topology: inbound peer limit reached: %d >= %d", n, limits.MaxInboundPeers)
		}
	} else {
		if n := t.outboundCount.Load(); n >= int64(limits.MaxOutboundPeers) {
			return fmt.Errorf("topology: outbound peer limit reached: %d >= %d", n, limits.MaxOutboundPeers)
		}
	}

	sh := t.shardFor(peer.ID)
	if _, loaded := sh.peers.LoadOrStore(peer.ID, peer); loaded {
		return fmt.Errorf("topology: peer already present: %s", peer.ID)
	}
	if peer.Addr != "" {
		if _, loaded := t.peersByAddr.LoadOrStore(peer.Addr, peer); loaded {
			sh.peers.Delete(peer.ID)
			return fmt.Errorf("topology: address already in use: %s", peer.Addr)
		}
	}

	t.totalCount.Add(1)
	if peer.Direction == Inbound {
		t.inboundCount.Add(1)
	} else {
		t.outboundCount.Add(1)
	}

	t.mu.RLock()
	handler := t.eventHandler
	t.mu.RUnlock()
	if handler != nil {
		handler.OnPeerConnected(peer)
	}
	return nil
}

// RemovePeer는 주어진 ID의 피어를 제거하고 반환합니다. 없었다면 nil.
func (t *Topology) RemovePeer(id string) *PeerInfo {
	sh := t.shardFor(id)
	value, loaded := sh.peers.LoadAndDelete(id)
	if !loaded {
		return nil
	}
	peer := value.(*PeerInfo)

	if peer.Addr != "" {
		t.peersByAddr.Delete(peer.Addr)
	}
	t.totalCount.Add(-1)
	if peer.Direction == Inbound {
		t.inboundCount.Add(-1)
	} else {
		t.outboundCount.Add(-1)
	}

	t.mu.RLock()
	handler := t.eventHandler
	t.mu.RUnlock()
	if handler != nil {
		handler.OnPeerDisconnected(peer)
	}
	return peer
}

// GetPeer는 ID로 피어를 조회합니다. O(1)에 샤드 하나의 map 조회 비용이
// 더해집니다.
func (t *Topology) GetPeer(id string) *PeerInfo {
	value, ok := t.shardFor(id).peers.Load(id)
	if !ok {
		return nil
	}
	return value.(*PeerInfo)
}

// GetPeerByAddr는 네트워크 주소로 피어를 조회합니다.
func (t *Topology) GetPeerByAddr(addr string) *PeerInfo {
	value, ok := t.peersByAddr.Load(addr)
	if !ok {
		return nil
	}
	return value.(*PeerInfo)
}

// HasPeer는 id가 현재 등록되어 있는지 알려줍니다.
func (t *Topology) HasPeer(id string) bool {
	_, ok := t.shardFor(id).peers.Load(id)
	return ok
}

// ForEachPeer는 모든 샤드에 걸쳐 모든 피어에 fn을 적용합니다. fn이
// false를 반환하면 그것이 호출된 샤드 안에서만 순회를 멈추고, 다른
// 샤드는 계속 방문합니다: 샤드 간 순서는 보장되지 않습니다.
func (t *Topology) ForEachPeer(fn func(peer *PeerInfo) bool) {
	for i := range t.shards {
		t.shards[i].peers.Range(func(_, value any) bool {
			return fn(value.(*PeerInfo))
		})
	}
}

// GetAllPeers는 등록된 모든 피어를 반환합니다.
func (t *Topology) GetAllPeers() []*PeerInfo {
	peers := make([]*PeerInfo, 0, t.totalCount.Load())
	t.ForEachPeer(func(p *PeerInfo) bool {
		peers = append(peers, p)
		return true
	})
	return peers
}

// GetPeersByDirection은 주어진 방향으로 연결된 모든 피어를 반환합니다.
func (t *Topology) GetPeersByDirection(dir Direction) []*PeerInfo {
	var peers []*PeerInfo
	t.ForEachPeer(func(p *PeerInfo) bool {
		if p.Direction == dir {
			peers = append(peers, p)
		}
		return true
	})
	return peers
}

// Count는 등록된 피어의 총 수를 반환합니다.
func (t *Topology) Count() int { return int(t.totalCount.Load()) }

// InboundCount는 인바운드 피어 수를 반환합니다.
func (t *Topology) InboundCount() int { return int(t.inboundCount.Load()) }

// OutboundCount는 아웃바운드 피어 수를 반환합니다.
func (t *Topology) OutboundCount() int { return int(t.outboundCount.Load()) }

// IsFull은 전체 피어 수가 현재 PeerLimits.MaxPeers에 도달했는지
// 알려줍니다.
func (t *Topology) IsFull() bool {
	return t.totalCount.Load() >= int64(t.currentLimits().MaxPeers)
}

// CanAcceptInbound는 인바운드 피어를 더 받을 수 있는지 알려줍니다.
func (t *Topology) CanAcceptInbound() bool {
	return t.inboundCount.Load() < int64(t.currentLimits().MaxInboundPeers)
}

// CanDialOutbound는 아웃바운드 피어를 더 걸 수 있는지 알려줍니다.
func (t *Topology) CanDialOutbound() bool {
	return t.outboundCount.Load() < int64(t.currentLimits().MaxOutboundPeers)
}

// SetEventHandler는 멤버십 변경 시 통지받을 핸들러를 설치합니다.
func (t *Topology) SetEventHandler(handler EventHandler) {
	t.mu.Lock()
	t.eventHandler = handler
	t.mu.Unlock()
}

// Close는 한도를 공급하던 AsyncObject로부터 Topology의 Instance를
// 분리합니다. 피어 멤버십 자체는 건드리지 않습니다: 피어 연결을 쥐고
// 있는 쪽을 먼저 정리하는 것은 호출자의 몫입니다.
func (t *Topology) Close() {
	t.limits.Close()
}

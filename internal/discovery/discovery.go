// Package discovery는 아직 연결되지 않은 알려진 피어의 집합을
// 추적하고, RealtimeObject를 통해 이를 공개합니다. 그래서 실시간 연결
// 루프는 비실시간 변경 쪽이 쓰는 뮤텍스에 절대 블록되지 않고도 현재
// 피어 목록의 스냅샷을 얻을 수 있습니다.
package discovery

import (
	"net"
	"sync"
	"time"

	"github.com/dmambro/lockfree-go/realtimeobject"
)

// PeerInfo는 어떤 피어에게 아직 연결을 맺기 전, 그 피어에 대해 알고
// 있는 정보입니다.
type PeerInfo struct {
	ID   string
	Addr string

	// Source는 이 피어를 어떻게 알게 됐는지 기록합니다. 예: "seed",
	// "gossip", "manual".
	Source string

	LastSeen    time.Time
	Attempts    int
	LastAttempt time.Time
}

// TCPAddr은 문자열이 아닌 *net.TCPAddr이 필요한 호출자를 위해 Addr을
// 해석합니다.
func (p *PeerInfo) TCPAddr() (*net.TCPAddr, error) {
	return net.ResolveTCPAddr("tcp", p.Addr)
}

// IsStale은 p가 maxAge 안에 확인되지 않았는지 알려줍니다.
func (p *PeerInfo) IsStale(maxAge time.Duration) bool {
	return time.Since(p.LastSeen) > maxAge
}

// ShouldRetry는 p로의 연결 시도가 지금 필요한지, 최대 1시간까지의
// 지수 백오프를 적용해서 알려줍니다.
func (p *PeerInfo) ShouldRetry(baseInterval time.Duration, maxAttempts int) bool {
	if p.Attempts >= maxAttempts {
		return false
	}
	if p.LastAttempt.IsZero() {
		return true
	}
	backoff := baseInterval * time.Duration(1<<uint(p.Attempts))
	const maxBackoff = time.Hour
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	return time.Since(p.LastAttempt) >= backoff
}

// EventType은 Registry 변경의 종류를 분류합니다.
type EventType int

const (
	EventPeerDiscovered EventType = iota
	EventPeerRemoved
	EventPeerUpdated
)

// Event는 Registry 변경 하나를 기술하며, 그 변경 메서드를 호출한
// 고루틴에서 동기적으로 전달됩니다.
type Event struct {
	Type EventType
	Peer PeerInfo
}

// EventHandler는 Registry 이벤트를 받습니다.
type EventHandler func(Event)

// Config는 Registry의 보존 기간과 백오프 동작을 제어합니다.
type Config struct {
	MaxPeers          int
	PeerTTL           time.Duration
	RetryBaseInterval time.Duration
	MaxRetryAttempts  int
}

// DefaultConfig는 소규모 네트워크에 적당한 시작값입니다.
var DefaultConfig = Config{
	MaxPeers:          1000,
	PeerTTL:           24 * time.Hour,
	RetryBaseInterval: time.Minute,
	MaxRetryAttempts:  10,
}

// Registry는 RealtimeObject를 통해 공개되는 피어 목록의 비실시간
// 생산자 쪽입니다. AddPeer/RemovePeer/PruneStale은 새 슬라이스를 만들어
// 발행하고, GetRT는 유일한 실시간 연결-접속 루프에서만 호출되어야
// 하며, GetPeers/PeerCount는 어디서든 호출할 수 있습니다.
type Registry struct {
	rt *realtimeobject.RealtimeObject[[]PeerInfo]

	// mu는 AddPeer/RemovePeer/PruneStale이 rt에 대해 수행하는
	// read-modify-write 순서를 직렬화한다. 이 메서드들은 먼저 현재
	// 슬라이스를 읽어야 하므로 RealtimeObject.Set 단독으로는 충분하지
	// 않다.
	mu      sync.Mutex
	config  Config
	handler EventHandler
}

// New는 빈 Registry를 만듭니다.
func New(config Config) *Registry {
	empty := []PeerInfo{}
	return &Registry{
		rt:     realtimeobject.New(&empty),
		config: config,
	}
}

// AddPeer는 info를 삽입하거나, 같은 주소의 기존 항목을 대체하고, 갱신된
// 목록을 발행합니다.
func (r *Registry) AddPeer(info PeerInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := *r.rt.GetNonRT()
	updated := make([]PeerInfo, 0, len(current)+1)
	found := false
	for _, p := range current {
		if p.Addr == info.Addr {
			updated = append(updated, info)
			found = true
		} else {
			updated = append(updated, p)
		}
	}
	if !found {
		updated = append(updated, info)
	}
	if r.config.MaxPeers > 0 && len(updated) > r.config.MaxPeers {
		updated = updated[len(updated)-r.config.MaxPeers:]
	}
	r.rt.Set(&updated)

	if r.handler != nil {
		evt := EventPeerUpdated
		if !found {
			evt = EventPeerDiscovered
		}
		r.handler(Event{Type: evt, Peer: info})
	}
}

// RemovePeer는 addr에 해당하는 항목이 있으면 삭제하고, 갱신된 목록을
// 발행합니다.
func (r *Registry) RemovePeer(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := *r.rt.GetNonRT()
	updated := make([]PeerInfo, 0, len(current))
	var removed *PeerInfo
	for _, p := range current {
		if p.Addr == addr {
			removed = &p
			continue
		}
		updated = append(updated, p)
	}
	if removed == nil {
		return
	}
	r.rt.Set(&updated)

	if r.handler != nil {
		r.handler(Event{Type: EventPeerRemoved, Peer: *removed})
	}
}

// PruneStale은 설정된 PeerTTL보다 오래된 항목을 모두 제거하고 제거한
// 개수를 반환합니다.
func (r *Registry) PruneStale() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := *r.rt.GetNonRT()
	updated := make([]PeerInfo, 0, len(current))
	removed := 0
	for _, p := range current {
		if p.IsStale(r.config.PeerTTL) {
			removed++
			if r.handler != nil {
				r.handler(Event{Type: EventPeerRemoved, Peer: p})
			}
			continue
		}
		updated = append(updated, p)
	}
	if removed > 0 {
		r.rt.Set(&updated)
	}
	return removed
}

// GetRT는 realtime-safe 접근자입니다: 이 Registry의 유일한 실시간
// 소비자로 지정된 스레드에서만 호출해야 합니다.
func (r *Registry) GetRT() []PeerInfo {
	return *r.rt.GetRT()
}

// GetPeers는 마지막으로 발행된 피어 목록을 반환합니다. 어느 고루틴에서
// 호출해도 안전합니다.
func (r *Registry) GetPeers() []PeerInfo {
	return *r.rt.GetNonRT()
}

// PeerCount는 len(GetPeers())를 반환합니다.
func (r *Registry) PeerCount() int {
	return len(*r.rt.GetNonRT())
}

// SetEventHandler는 AddPeer, RemovePeer, PruneStale이 호출할 핸들러를
// 설치합니다.
func (r *Registry) SetEventHandler(handler EventHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = handler
}

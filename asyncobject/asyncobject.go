// Package asyncobject는 브로드캐스트 코디네이터를 구현합니다: 비동기
// 워커가 함수형(functor)으로 인코딩된 변경을 정본(canonical) Settings
// 값에 적용하고, 값이 바뀔 때마다 소비자별 Obj 스냅샷을 새로 만들어
// 전달합니다.
//
// [전체 그림]
// Producer  --Submit(변경 함수)-->  AsyncObject.Tick()  --broadcast-->  Instance
//
// 여러 Producer가 동시에 변경을 제출하고, 여러 Instance가 동시에 최신
// 스냅샷을 소비할 수 있습니다. Settings 변형은 오직 Tick 안에서만,
// Obj 빌드는 Tick과 CreateInstance에서만 일어나며, 둘 다 AsyncObject의
// 뮤텍스를 잡은 채로 실행됩니다.
package asyncobject

import (
	"sync"

	"github.com/dmambro/lockfree-go/internal/raceassert"
	"github.com/dmambro/lockfree-go/messenger"
)

// defaultProducerQueueDepth는 원본 C++ 구현의
// ChangeFunctorClosureCapacity=32 기본값을 그대로 따릅니다. Go
// 클로저는 필요하면 알아서 캡처한 환경을 힙에 할당하므로 여기서는
// 클로저 크기 제한이 아니라(SPEC_FULL.md §6 참고), Producer의 변경 큐에 미리
// 채워 둘 free-list 깊이의 기본값일 뿐입니다.
const defaultProducerQueueDepth = 32

// defaultInstanceQueueDepth는 Instance의 toInstance/fromInstance
// 메신저가 미리 확보해 둘 Obj 스냅샷 개수를 정합니다.
const defaultInstanceQueueDepth = 8

// ChangeFunc는 Producer가 제출하고 워커가 Settings에 적용하는 지연된
// 변경입니다. 자신이 제출된 AsyncObject 자체에는 접근하면 안 됩니다.
type ChangeFunc[Settings any] func(*Settings)

// AsyncObject는 ChangeFunc를 제출하는 Producer들과, 소비자별 Obj
// 스냅샷을 들고 있는 Instance들, 그리고 이 둘을 연결하는 워커 tick을
// 조율합니다. Obj는 New에 넘긴 build 함수를 통해 Settings로부터
// 만들어질 수 있어야 합니다.
type AsyncObject[Obj, Settings any] struct {
	mu       sync.Mutex
	settings Settings
	build    func(Settings) Obj

	instances []*Instance[Obj, Settings]
	producers []*Producer[Obj, Settings]
}

// New는 주어진 초기 Settings와, Settings 값으로부터 Obj 스냅샷을
// 만들어내는 함수로 AsyncObject를 생성합니다.
func New[Obj, Settings any](initial Settings, build func(Settings) Obj) *AsyncObject[Obj, Settings] {
	return &AsyncObject[Obj, Settings]{
		settings: initial,
		build:    build,
	}
}

// Instance는 소비자별 핸들입니다: 자신만의 로컬 Obj 스냅샷 하나와,
// 새 스냅샷을 받고 낡은 스냅샷을 돌려주는 한 쌍의 Messenger를 갖습니다.
type Instance[Obj, Settings any] struct {
	object *Obj

	toInstance   *messenger.Messenger[*Obj]
	fromInstance *messenger.Messenger[*Obj]

	owner *AsyncObject[Obj, Settings]

	// rtOwner는 -tags rtdebug로 빌드했을 때 Update에 대한
	// 단일-실시간-소비자 계약을 강제합니다; 그 외에는 아무 일도 하지
	// 않습니다.
	rtOwner raceassert.Owner
}

// Producer는 변경 함수 Messenger를 소유한 핸들입니다. 여러 Producer가
// 동일한 AsyncObject에 동시에 변경을 제출할 수 있습니다.
type Producer[Obj, Settings any] struct {
	changes *messenger.Messenger[ChangeFunc[Settings]]
	owner   *AsyncObject[Obj, Settings]
}

// CreateInstance는 현재 Settings로부터 새 Obj를 만들고 새 Instance
// 핸들을 반환합니다. Realtime-safe하지 않음: AsyncObject의 뮤텍스를
// 잡습니다.
func (a *AsyncObject[Obj, Settings]) CreateInstance() *Instance[Obj, Settings] {
	a.mu.Lock()
	defer a.mu.Unlock()

	obj := a.build(a.settings)
	inst := &Instance[Obj, Settings]{
		object:       &obj,
		toInstance:   messenger.New[*Obj](),
		fromInstance: messenger.New[*Obj](),
		owner:        a,
	}
	inst.toInstance.Preallocate(defaultInstanceQueueDepth, nil)
	inst.fromInstance.Preallocate(defaultInstanceQueueDepth, nil)
	a.instances = append(a.instances, inst)
	return inst
}

// CreateProducer는 새 Producer 핸들을 등록합니다. Realtime-safe하지
// 않음.
func (a *AsyncObject[Obj, Settings]) CreateProducer() *Producer[Obj, Settings] {
	a.mu.Lock()
	defer a.mu.Unlock()

	p := &Producer[Obj, Settings]{
		changes: messenger.New[ChangeFunc[Settings]](),
		owner:   a,
	}
	p.changes.Preallocate(defaultProducerQueueDepth, nil)
	a.producers = append(a.producers, p)
	return p
}

func (a *AsyncObject[Obj, Settings]) removeInstance(target *Instance[Obj, Settings]) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, inst := range a.instances {
		if inst == target {
			a.instances = append(a.instances[:i], a.instances[i+1:]...)
			return
		}
	}
}

func (a *AsyncObject[Obj, Settings]) removeProducer(target *Producer[Obj, Settings]) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, p := range a.producers {
		if p == target {
			a.producers = append(a.producers[:i], a.producers[i+1:]...)
			return
		}
	}
}

// Tick은 워커 반복을 한 번 실행하며, asyncworker.Tickable을
// 구현합니다. tick 전체 동안 AsyncObject의 뮤텍스를 잡고 있습니다
// (열린 질문으로 남아 있던 부분을 더 단순한 "tick 전체를 잠근다" 쪽으로
// 해소: 이 워커 자체는 실시간이 아니므로, 여기서의 굵은 락은
// 실시간-안전성 요구 사항을 침해하지 않습니다).
func (a *AsyncObject[Obj, Settings]) Tick() {
	a.mu.Lock()
	defer a.mu.Unlock()

	// [1단계] 지난 tick 이후 소비자들이 돌려준 Obj를 회수한다.
	for _, inst := range a.instances {
		inst.fromInstance.DiscardAll()
	}

	// [2단계] 각 Producer가 쌓아 둔 변경을, 그 Producer가 제출한
	// 순서대로 적용한다. 처리한 노드 체인은 그 Producer 자신의
	// free-list로 재활용된다.
	anyChange := false
	for _, p := range a.producers {
		if p.handleChanges(&a.settings) {
			anyChange = true
		}
	}

	// [3단계] 이번 tick에서 Settings가 실제로 바뀌었을 때만
	// 재방송한다. 매번 추가하지 않고 항상 교체하므로, 소비자는 언제나
	// 가장 최신 스냅샷만 보게 된다 (열린 질문을 "버리고 교체" 쪽으로
	// 해소).
	if anyChange {
		for _, inst := range a.instances {
			inst.toInstance.DiscardAll()
			fresh := a.build(a.settings)
			inst.toInstance.Send(&fresh)
		}
	}
}

func (p *Producer[Obj, Settings]) handleChanges(settings *Settings) bool {
	n := p.changes.ReceiveAndHandle(func(change ChangeFunc[Settings]) {
		change(settings)
	})
	return n > 0
}

// Submit은 워커가 적용할 변경 함수를 큐에 넣습니다. Realtime-safe하지
// 않음: Producer의 free-list가 비어 있으면 할당이 일어날 수 있습니다.
// 비할당 경로를 탔는지를 반환합니다.
func (p *Producer[Obj, Settings]) Submit(change ChangeFunc[Settings]) bool {
	return p.changes.Send(change)
}

// SubmitNB는 Submit의 realtime-safe 버전입니다: 절대 할당하지 않고,
// free-list가 비어 있으면 대신 실패합니다.
func (p *Producer[Obj, Settings]) SubmitNB(change ChangeFunc[Settings]) bool {
	return p.changes.SendIfNodeAvailable(change)
}

// Preallocate는 Producer의 변경-함수 free-list를 키웁니다.
func (p *Producer[Obj, Settings]) Preallocate(n int) {
	p.changes.Preallocate(n, nil)
}

// Close는 Producer를 자신의 AsyncObject에서 분리합니다. Producer나
// Instance가 하나라도 붙어 있는 동안에는 AsyncObject를 버려서는 안
// 됩니다.
func (p *Producer[Obj, Settings]) Close() {
	p.owner.removeProducer(p)
}

// Update는 지난 호출 이후 새로 도착한 스냅샷이 있으면 그것을 적용하고,
// 이전 스냅샷은 fromInstance를 통해 워커가 회수하도록 돌려줍니다.
// Lock-free, 할당 없음. 새 스냅샷을 적용했으면 true.
func (i *Instance[Obj, Settings]) Update() bool {
	i.rtOwner.Check()
	node, ok := i.toInstance.ReceiveLast()
	if !ok {
		return false
	}
	old := i.object
	i.object = node.Value
	node.Value = old
	i.fromInstance.SendNode(node)
	return true
}

// Get은 Instance가 갖고 있는 현재 로컬 스냅샷을 반환합니다.
func (i *Instance[Obj, Settings]) Get() *Obj {
	return i.object
}

// Close는 Instance를 자신의 AsyncObject에서 분리합니다.
func (i *Instance[Obj, Settings]) Close() {
	i.owner.removeInstance(i)
}

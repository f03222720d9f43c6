package identity

import (
	"sync"

	"github.com/jugueteria/tienda/internal/model"
)

// EventType は認証状態変化イベントの種別を表す。
type EventType string

const (
	// EventSignedIn はサインイン成功を示す。
	EventSignedIn EventType = "SIGNED_IN"
	// EventSignedOut はサインアウトを示す。
	EventSignedOut EventType = "SIGNED_OUT"
	// EventTokenRefreshed はトークンリフレッシュを示す。
	EventTokenRefreshed EventType = "TOKEN_REFRESHED"
)

// Event は認証状態変化の通知を表す。
// サインアウト時はSessionがnilになる。
type Event struct {
	Type    EventType
	Session *model.Session
}

// Broadcaster は認証状態変化イベントの購読管理を行う。
// 各イベントは購読者ごとに1回だけ、個別のgoroutineで非同期に配送される。
// 配送順序は保証されない。
type Broadcaster struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func(Event)
}

// NewBroadcaster はBroadcasterを生成する。
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]func(Event))}
}

// Subscribe はコールバックを登録し、解除用の関数を返す。
// 解除関数は冪等で、何度呼んでも安全。
func (b *Broadcaster) Subscribe(fn func(Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.subs[id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Emit はすべての購読者へイベントを配送する。
// 各購読者のコールバックは個別のgoroutineで実行されるため、
// Emitはブロックしない。
func (b *Broadcaster) Emit(ev Event) {
	b.mu.Lock()
	callbacks := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		callbacks = append(callbacks, fn)
	}
	b.mu.Unlock()

	for _, fn := range callbacks {
		go fn(ev)
	}
}

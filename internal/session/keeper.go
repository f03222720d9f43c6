// Package session はサーバー側セッションの管理を提供する。
// セッションIDごとに専用のauthstate.Resolverを保持し、
// 有効期限切れのセッションをバックグラウンドで回収する。
package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jugueteria/tienda/internal/authstate"
)

// ResolverFactory は新しいセッション用のResolverを生成する。
// セッションごとに独立したIDクライアントのスコープを持たせるため、
// Resolverは共有せず都度生成する。
type ResolverFactory func() *authstate.Resolver

// Config はKeeperの動作設定。
type Config struct {
	// MaxAge はセッションの有効期間。作成からこの時間を過ぎると失効する。
	MaxAge time.Duration
	// CleanupInterval は失効セッションの回収間隔。
	CleanupInterval time.Duration
}

// DefaultConfig はデフォルトのKeeper設定を返す。
func DefaultConfig() Config {
	return Config{
		MaxAge:          24 * time.Hour,
		CleanupInterval: 5 * time.Minute,
	}
}

// applyDefaults はゼロ値のフィールドをデフォルト値で埋める。
func (c *Config) applyDefaults() {
	if c.MaxAge <= 0 {
		c.MaxAge = 24 * time.Hour
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 5 * time.Minute
	}
}

// entry は1セッション分の状態を保持する。
type entry struct {
	resolver  *authstate.Resolver
	createdAt time.Time
}

// Keeper はセッションID → Resolverの対応を管理する。
// 失効したセッションのResolverは必ずCloseされ、購読がリークしない。
type Keeper struct {
	factory ResolverFactory
	config  Config
	logger  *slog.Logger

	mu      sync.RWMutex
	entries map[string]*entry

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewKeeper はKeeperを生成し、バックグラウンドで失効セッションの回収を開始する。
func NewKeeper(factory ResolverFactory, config Config, logger *slog.Logger) *Keeper {
	config.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	k := &Keeper{
		factory: factory,
		config:  config,
		logger:  logger,
		entries: make(map[string]*entry),
		stopCh:  make(chan struct{}),
	}

	go k.cleanupLoop()

	return k
}

// Login は新しいセッションを作成し、セッションIDとResolverを返す。
// 返されたResolverのBootstrapとサインインは呼び出し側が行う。
func (k *Keeper) Login() (string, *authstate.Resolver) {
	sid := uuid.NewString()
	resolver := k.factory()

	k.mu.Lock()
	k.entries[sid] = &entry{
		resolver:  resolver,
		createdAt: time.Now(),
	}
	k.mu.Unlock()

	return sid, resolver
}

// Lookup はセッションIDに対応するResolverを返す。
// セッションが存在しないか失効している場合はfalseを返す。
// 失効したセッションはその場で回収される。
func (k *Keeper) Lookup(sid string) (*authstate.Resolver, bool) {
	k.mu.RLock()
	e, exists := k.entries[sid]
	k.mu.RUnlock()

	if !exists {
		return nil, false
	}

	if time.Since(e.createdAt) > k.config.MaxAge {
		k.evict(sid)
		return nil, false
	}

	return e.resolver, true
}

// Logout はセッションを破棄し、Resolverを閉じる。
// 存在しないセッションIDに対しては何もしない。
func (k *Keeper) Logout(sid string) {
	k.evict(sid)
}

// Count は現在保持しているセッション数を返す。テストおよびメトリクス用。
func (k *Keeper) Count() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.entries)
}

// CloseAll は回収ゴルーチンを停止し、すべてのセッションを閉じる。
func (k *Keeper) CloseAll() {
	k.stopOnce.Do(func() {
		close(k.stopCh)
	})

	k.mu.Lock()
	entries := k.entries
	k.entries = make(map[string]*entry)
	k.mu.Unlock()

	for _, e := range entries {
		e.resolver.Close()
	}
}

// evict はセッションを削除し、Resolverを閉じる。
func (k *Keeper) evict(sid string) {
	k.mu.Lock()
	e, exists := k.entries[sid]
	if exists {
		delete(k.entries, sid)
	}
	k.mu.Unlock()

	if exists {
		e.resolver.Close()
	}
}

// cleanupLoop はバックグラウンドで失効セッションを定期的に回収する。
func (k *Keeper) cleanupLoop() {
	ticker := time.NewTicker(k.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			k.cleanup()
		case <-k.stopCh:
			return
		}
	}
}

// cleanup は有効期限を過ぎたセッションをすべて回収する。
func (k *Keeper) cleanup() {
	now := time.Now()

	k.mu.Lock()
	var expired []*entry
	for sid, e := range k.entries {
		if now.Sub(e.createdAt) > k.config.MaxAge {
			delete(k.entries, sid)
			expired = append(expired, e)
		}
	}
	k.mu.Unlock()

	for _, e := range expired {
		e.resolver.Close()
	}

	if len(expired) > 0 {
		k.logger.Info("expired sessions evicted",
			slog.Int("count", len(expired)),
		)
	}
}

// Package sessionstore は認証セッションの永続化先を提供する。
// 単一インスタンスではMemory、複数インスタンス構成ではRedisを使用する。
package sessionstore

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/hirescout/internal/backend"
	"github.com/hitoshi/hirescout/internal/model"
)

// DefaultTTL は保存したセッションの保持期間。
// リフレッシュトークンの有効期間に合わせる。
const DefaultTTL = 7 * 24 * time.Hour

// memorySweepInterval はSave時に期限切れのセッションをまとめて削除する最短間隔。
const memorySweepInterval = time.Minute

type memoryItem struct {
	session   model.AuthSession
	expiresAt time.Time
}

// Memory はプロセス内のマップにセッションを保持する。
type Memory struct {
	ttl time.Duration
	now func() time.Time

	mu        sync.Mutex
	items     map[string]memoryItem
	nextSweep time.Time
}

var _ backend.SessionStorage = (*Memory)(nil)

// NewMemory はMemoryを生成する。ttlが0以下の場合はDefaultTTLを使用する。
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{
		ttl:   ttl,
		now:   time.Now,
		items: make(map[string]memoryItem),
	}
}

// Load は保存済みのセッションを返す。存在しないか保持期間を過ぎた場合はnil。
func (m *Memory) Load(_ context.Context, key string) (*model.AuthSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[key]
	if !ok {
		return nil, nil
	}
	if !m.now().Before(item.expiresAt) {
		delete(m.items, key)
		return nil, nil
	}
	s := item.session
	return &s, nil
}

// Save はセッションを保存する。
// 前回の掃除からmemorySweepInterval以上経過していれば、期限切れのセッションも削除する。
func (m *Memory) Save(_ context.Context, key string, session *model.AuthSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if !now.Before(m.nextSweep) {
		m.sweepLocked(now)
		m.nextSweep = now.Add(memorySweepInterval)
	}
	m.items[key] = memoryItem{session: *session, expiresAt: now.Add(m.ttl)}
	return nil
}

func (m *Memory) sweepLocked(now time.Time) {
	for key, item := range m.items {
		if !now.Before(item.expiresAt) {
			delete(m.items, key)
		}
	}
}

// Len は保持中のセッション数を返す。期限切れで未削除のものも含む。
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Delete はセッションを削除する。
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.items, key)
	return nil
}

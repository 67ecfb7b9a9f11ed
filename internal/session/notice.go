package session

import (
	"sync"

	"github.com/hitoshi/hirescout/internal/model"
)

const defaultNoticeCapacity = 20

// NoticeBox はUIへ表示する通知を溜めておく有界キュー。
// 上限を超えた場合は古い通知から破棄する。
type NoticeBox struct {
	mu       sync.Mutex
	notices  []model.Notice
	capacity int
}

// NewNoticeBox はNoticeBoxを生成する。
func NewNoticeBox(capacity int) *NoticeBox {
	if capacity <= 0 {
		capacity = defaultNoticeCapacity
	}
	return &NoticeBox{capacity: capacity}
}

// Notify は通知を追加する。
func (b *NoticeBox) Notify(n model.Notice) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.notices = append(b.notices, n)
	if over := len(b.notices) - b.capacity; over > 0 {
		b.notices = b.notices[over:]
	}
}

// Drain は溜まっている通知をすべて取り出す。
func (b *NoticeBox) Drain() []model.Notice {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.notices
	b.notices = nil
	return out
}

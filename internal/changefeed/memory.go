package changefeed

import (
	"context"
	"sync"
)

// subscriberBuffer は購読者ごとのチャネルバッファサイズ。
// バッファが満杯の購読者へのイベントは破棄される（at-most-once）。
const subscriberBuffer = 64

// MemoryFeed は単一プロセス内で完結するFeed実装。
// REDIS_ADDRが未設定の場合のデフォルト。
type MemoryFeed struct {
	mu     sync.RWMutex
	subs   map[string]map[int]chan Event // projectID -> subscriberID -> channel
	nextID int
	closed bool
}

// NewMemoryFeed はMemoryFeedを生成する。
func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{
		subs: make(map[string]map[int]chan Event),
	}
}

// Publish はイベントを該当プロジェクトの全購読者に配信する。
// 追いつけない購読者のイベントは破棄する。
func (f *MemoryFeed) Publish(ctx context.Context, event Event) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil
	}

	for _, ch := range f.subs[event.ProjectID] {
		select {
		case ch <- event:
		default:
			// 満杯の購読者は取りこぼす
		}
	}
	return nil
}

// Subscribe は指定プロジェクトのイベントチャネルを返す。
func (f *MemoryFeed) Subscribe(ctx context.Context, projectID string) (<-chan Event, func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	id := f.nextID
	f.nextID++

	if f.subs[projectID] == nil {
		f.subs[projectID] = make(map[int]chan Event)
	}
	f.subs[projectID][id] = ch

	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if subs, ok := f.subs[projectID]; ok {
			if _, ok := subs[id]; ok {
				delete(subs, id)
				close(ch)
				if len(subs) == 0 {
					delete(f.subs, projectID)
				}
			}
		}
	}

	return ch, cancel, nil
}

// Close はフィードを閉じ、全購読チャネルをクローズする。
func (f *MemoryFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true

	for projectID, subs := range f.subs {
		for id, ch := range subs {
			close(ch)
			delete(subs, id)
		}
		delete(f.subs, projectID)
	}
	return nil
}

// compile-time interface check
var _ Feed = (*MemoryFeed)(nil)

package alert

import (
	"sync"

	"github.com/hitoshi/donalert/internal/model"
)

const defaultSubscriberBuffer = 16

// Hub はアカウント（ハンドル）ごとの表示クライアントの購読を管理する。
// Publishは購読者を待たない。バッファが満杯の購読者への配信は破棄する。
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
}

// Subscription は1つの表示クライアントの購読。
type Subscription struct {
	C <-chan model.Alert

	ch     chan model.Alert
	handle string
	hub    *Hub
	once   sync.Once
}

// NewHub はHubを生成する。
func NewHub() *Hub {
	return &Hub{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: defaultSubscriberBuffer,
	}
}

// Subscribe はハンドルのチャンネルを購読する。使い終わったらCloseを呼ぶこと。
func (h *Hub) Subscribe(handle string) *Subscription {
	ch := make(chan model.Alert, h.buffer)
	sub := &Subscription{C: ch, ch: ch, handle: handle, hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[handle] == nil {
		h.subs[handle] = make(map[*Subscription]struct{})
	}
	h.subs[handle][sub] = struct{}{}
	return sub
}

// Close は購読を解除してチャンネルを閉じる。複数回呼んでもよい。
func (s *Subscription) Close() {
	s.once.Do(func() {
		h := s.hub
		h.mu.Lock()
		defer h.mu.Unlock()
		if set, ok := h.subs[s.handle]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(h.subs, s.handle)
			}
		}
		close(s.ch)
	})
}

// Publish はハンドルの購読者全員にアラートを送り、配信できた数を返す。
func (h *Hub) Publish(handle string, a model.Alert) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for sub := range h.subs[handle] {
		select {
		case sub.ch <- a:
			delivered++
		default:
		}
	}
	return delivered
}

// Subscribers はハンドルの購読者数を返す。
func (h *Hub) Subscribers(handle string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[handle])
}

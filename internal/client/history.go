package client

import (
	"context"
	"sync"

	"marketai-go/internal/model"
	"marketai-go/pkg/apperr"
	"marketai-go/pkg/log"
)

// State 是 HistoryStore 的加载状态。
type State int

const (
	StateIdle State = iota
	StateLoading
	StateReady
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	default:
		return "idle"
	}
}

// FilterAll 表示不按工具类型过滤。
const FilterAll model.ToolType = ""

// HistoryStore caches the signed-in user's history, newest first. The cache
// changes only after the server confirms a mutation.
type HistoryStore struct {
	api      *API
	sessions *SessionStore

	mu    sync.RWMutex
	items []model.HistoryItem
	state State
	// epoch 在会话变化时递增，会话切换前发出的请求结果不再写入缓存
	epoch uint64

	unsubscribe func()
}

// NewHistoryStore creates a store bound to sessions. It refreshes when a
// session starts and clears itself when the session ends.
func NewHistoryStore(api *API, sessions *SessionStore) *HistoryStore {
	h := &HistoryStore{api: api, sessions: sessions}
	h.unsubscribe = sessions.Subscribe(h.onSessionChange)
	return h
}

// Close stops listening for session changes.
func (h *HistoryStore) Close() {
	if h.unsubscribe != nil {
		h.unsubscribe()
	}
}

func (h *HistoryStore) onSessionChange(sess *Session) {
	h.mu.Lock()
	h.epoch++
	h.items = nil
	h.state = StateIdle
	h.mu.Unlock()

	if sess == nil {
		return
	}
	// 会话切换后立即拉取；失败只记日志，调用方可再次 Refresh
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()
	if err := h.Refresh(ctx); err != nil {
		log.Warnf("history refresh after sign-in failed: %v", err)
	}
}

// State returns the current load state.
func (h *HistoryStore) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// List returns cached items of the given tool type, or all of them for
// FilterAll. It never touches the network.
func (h *HistoryStore) List(filter model.ToolType) []model.HistoryItem {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]model.HistoryItem, 0, len(h.items))
	for _, item := range h.items {
		if filter == FilterAll || item.ToolType == filter {
			out = append(out, item)
		}
	}
	return out
}

// Matches reports whether query occurs in the item's input or output,
// ignoring case. The empty query matches everything.
func Matches(item model.HistoryItem, query string) bool {
	return item.Matches(query)
}

// Search filters items by query, keeping order.
func Search(items []model.HistoryItem, query string) []model.HistoryItem {
	out := make([]model.HistoryItem, 0, len(items))
	for _, item := range items {
		if Matches(item, query) {
			out = append(out, item)
		}
	}
	return out
}

func (h *HistoryStore) requireSession() error {
	if !h.sessions.IsAuthenticated() {
		return apperr.New(apperr.KindUnauthorized, "Please sign in first")
	}
	return nil
}

func (h *HistoryStore) currentEpoch() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.epoch
}

// apply 在会话未变化时修改缓存；调用方不持有锁。
func (h *HistoryStore) apply(epoch uint64, fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.epoch != epoch {
		return
	}
	fn()
}

// Refresh replaces the cache with the server's collection. On failure the
// previous items stay and the store returns to Ready.
func (h *HistoryStore) Refresh(ctx context.Context) error {
	if err := h.requireSession(); err != nil {
		return err
	}

	h.mu.Lock()
	epoch := h.epoch
	h.state = StateLoading
	h.mu.Unlock()

	items, err := h.api.ListHistory(ctx, FilterAll)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.epoch != epoch {
		// 会话已经变化，结果作废
		return nil
	}
	h.state = StateReady
	if err != nil {
		return err
	}
	h.items = items
	return nil
}

// Add saves a generation result and prepends the server's record.
func (h *HistoryStore) Add(ctx context.Context, toolType model.ToolType, input, output string, tone *string) (*model.HistoryItem, error) {
	if err := h.requireSession(); err != nil {
		return nil, err
	}
	epoch := h.currentEpoch()
	item, err := h.api.CreateHistory(ctx, NewHistoryItem{ToolType: toolType, Input: input, Output: output, Tone: tone})
	if err != nil {
		return nil, err
	}

	h.apply(epoch, func() {
		h.items = append([]model.HistoryItem{*item}, h.items...)
	})
	return item, nil
}

// Update replaces an item's output on the server, then in the cache.
func (h *HistoryStore) Update(ctx context.Context, id, output string) (*model.HistoryItem, error) {
	if err := h.requireSession(); err != nil {
		return nil, err
	}
	epoch := h.currentEpoch()
	item, err := h.api.UpdateHistory(ctx, id, output)
	if err != nil {
		return nil, err
	}

	h.apply(epoch, func() {
		for i := range h.items {
			if h.items[i].ID == id {
				h.items[i] = *item
				break
			}
		}
	})
	return item, nil
}

// Delete removes an item on the server, then from the cache.
func (h *HistoryStore) Delete(ctx context.Context, id string) error {
	if err := h.requireSession(); err != nil {
		return err
	}
	epoch := h.currentEpoch()
	if err := h.api.DeleteHistory(ctx, id); err != nil {
		return err
	}

	h.apply(epoch, func() {
		for i := range h.items {
			if h.items[i].ID == id {
				h.items = append(h.items[:i], h.items[i+1:]...)
				break
			}
		}
	})
	return nil
}

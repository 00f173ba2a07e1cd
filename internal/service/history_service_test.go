package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"marketai-go/internal/model"
	"marketai-go/internal/repository"
	"marketai-go/pkg/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHistoryService(t *testing.T, now func() time.Time) HistoryService {
	t.Helper()
	svc := NewHistoryService(repository.NewHistoryRepository(newTestDB(t)), nil).(*historyService)
	if now != nil {
		svc.now = now
	}
	return svc
}

func strPtr(s string) *string { return &s }

func TestHistoryCreateAssignsIdentity(t *testing.T) {
	ctx := context.Background()
	svc := newHistoryService(t, nil)

	item, err := svc.Create(ctx, 1, CreateHistoryInput{ToolType: "ads", Input: "Product: x", Output: "HEADLINES:\na", Tone: strPtr("Sales")})
	require.NoError(t, err)
	assert.Len(t, item.ID, 36)
	assert.Equal(t, model.ToolAds, item.ToolType)
	assert.Equal(t, "sales", item.ToneValue())
	assert.Equal(t, item.CreatedAt, item.UpdatedAt)
	assert.Equal(t, time.UTC, item.CreatedAt.Location())

	other, err := svc.Create(ctx, 1, CreateHistoryInput{ToolType: "seo", Input: "i", Output: "o"})
	require.NoError(t, err)
	assert.NotEqual(t, item.ID, other.ID)
	assert.Nil(t, other.Tone)
}

func TestHistoryCreateValidation(t *testing.T) {
	ctx := context.Background()
	svc := newHistoryService(t, nil)

	tests := []CreateHistoryInput{
		{ToolType: "email", Input: "i", Output: "o"},
		{ToolType: "ads", Input: " ", Output: "o"},
		{ToolType: "ads", Input: "i", Output: ""},
		{ToolType: "ads", Input: "i", Output: "o", Tone: strPtr("grumpy")},
	}
	for _, in := range tests {
		_, err := svc.Create(ctx, 1, in)
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err), "%+v", in)
	}
}

func TestHistoryListNewestFirstAndFiltered(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc := newHistoryService(t, func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	})

	first, err := svc.Create(ctx, 1, CreateHistoryInput{ToolType: "social", Input: "a", Output: "a"})
	require.NoError(t, err)
	second, err := svc.Create(ctx, 1, CreateHistoryInput{ToolType: "ads", Input: "b", Output: "b"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, 2, CreateHistoryInput{ToolType: "ads", Input: "c", Output: "c"})
	require.NoError(t, err)

	items, err := svc.List(ctx, 1, "")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, second.ID, items[0].ID)
	assert.Equal(t, first.ID, items[1].ID)

	social, err := svc.List(ctx, 1, "SOCIAL")
	require.NoError(t, err)
	require.Len(t, social, 1)
	assert.Equal(t, first.ID, social[0].ID)

	_, err = svc.List(ctx, 1, "bogus")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestHistoryUpdateBumpsUpdatedAt(t *testing.T) {
	ctx := context.Background()
	frozen := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc := newHistoryService(t, func() time.Time { return frozen })

	item, err := svc.Create(ctx, 1, CreateHistoryInput{ToolType: "social", Input: "in", Output: "old"})
	require.NoError(t, err)

	// 时钟未前进时 updatedAt 仍需严格大于 createdAt
	updated, err := svc.UpdateOutput(ctx, 1, item.ID, "new")
	require.NoError(t, err)
	assert.Equal(t, "new", updated.Output)
	assert.True(t, updated.UpdatedAt.After(updated.CreatedAt))
	assert.True(t, item.CreatedAt.Equal(updated.CreatedAt))

	stored, err := svc.Get(ctx, 1, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", stored.Output)
	assert.True(t, stored.UpdatedAt.After(stored.CreatedAt))
}

func TestHistoryNotFoundForOtherUsers(t *testing.T) {
	ctx := context.Background()
	svc := newHistoryService(t, nil)
	item, err := svc.Create(ctx, 1, CreateHistoryInput{ToolType: "seo", Input: "in", Output: "out"})
	require.NoError(t, err)

	_, err = svc.UpdateOutput(ctx, 2, item.ID, "x")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(svc.Delete(ctx, 2, item.ID)))
	_, err = svc.Get(ctx, 2, item.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = svc.UpdateOutput(ctx, 1, item.ID, "  ")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	require.NoError(t, svc.Delete(ctx, 1, item.ID))
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(svc.Delete(ctx, 1, item.ID)))
}

type fakeIndex struct {
	indexed   map[string]string
	deleted   []string
	searchIDs []string
	searchErr error
	writeErr  error
}

func (f *fakeIndex) Index(_ context.Context, item *model.HistoryItem) error {
	f.indexed[item.ID] = item.Output
	return f.writeErr
}

func (f *fakeIndex) Delete(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return f.writeErr
}

func (f *fakeIndex) Search(context.Context, uint, model.ToolType, string) ([]string, error) {
	return f.searchIDs, f.searchErr
}

// memIndex 像真实索引一样只保存写入成功的记录，并按 Matches 搜索。
type memIndex struct {
	mu         sync.Mutex
	items      map[string]model.HistoryItem
	failWrites bool
}

func newMemIndex() *memIndex {
	return &memIndex{items: map[string]model.HistoryItem{}}
}

func (m *memIndex) setFailWrites(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWrites = v
}

func (m *memIndex) Index(_ context.Context, item *model.HistoryItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites {
		return assert.AnError
	}
	m.items[item.ID] = *item
	return nil
}

func (m *memIndex) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, id)
	return nil
}

func (m *memIndex) Search(_ context.Context, userID uint, toolType model.ToolType, query string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, item := range m.items {
		if item.UserID == userID && (toolType == "" || item.ToolType == toolType) && item.Matches(query) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *memIndex) has(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.items[id]
	return ok
}

func newIndexedHistoryService(t *testing.T, index HistoryIndex) HistoryService {
	t.Helper()
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc := NewHistoryService(repository.NewHistoryRepository(newTestDB(t)), index).(*historyService)
	svc.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return svc
}

func TestHistorySearchWithoutIndex(t *testing.T) {
	ctx := context.Background()
	svc := newIndexedHistoryService(t, nil)
	crm, err := svc.Create(ctx, 1, CreateHistoryInput{ToolType: "ads", Input: "CRM tool", Output: "o"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, 1, CreateHistoryInput{ToolType: "seo", Input: "shoes", Output: "Trail running"})
	require.NoError(t, err)

	items, err := svc.Search(ctx, 1, "", "crm")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, crm.ID, items[0].ID)

	items, err = svc.Search(ctx, 1, "", "")
	require.NoError(t, err)
	assert.Len(t, items, 2)

	_, err = svc.Search(ctx, 1, "bogus", "crm")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestHistoryIndexHooks(t *testing.T) {
	ctx := context.Background()
	index := &fakeIndex{indexed: map[string]string{}, writeErr: assert.AnError}
	svc := newIndexedHistoryService(t, index)

	// 索引写入失败不影响数据库操作
	item, err := svc.Create(ctx, 1, CreateHistoryInput{ToolType: "social", Input: "in", Output: "first"})
	require.NoError(t, err)
	assert.Equal(t, "first", index.indexed[item.ID])

	_, err = svc.UpdateOutput(ctx, 1, item.ID, "second")
	require.NoError(t, err)
	assert.Equal(t, "second", index.indexed[item.ID])

	require.NoError(t, svc.Delete(ctx, 1, item.ID))
	assert.Equal(t, []string{item.ID}, index.deleted)
}

func TestHistorySearchUsesIndex(t *testing.T) {
	ctx := context.Background()
	index := &fakeIndex{indexed: map[string]string{}}
	svc := newIndexedHistoryService(t, index)
	a, err := svc.Create(ctx, 1, CreateHistoryInput{ToolType: "ads", Input: "a", Output: "a"})
	require.NoError(t, err)
	b, err := svc.Create(ctx, 1, CreateHistoryInput{ToolType: "ads", Input: "b", Output: "b"})
	require.NoError(t, err)
	foreign, err := svc.Create(ctx, 2, CreateHistoryInput{ToolType: "ads", Input: "c", Output: "c"})
	require.NoError(t, err)

	// 索引返回的 id 以数据库为准：过滤他人记录并按时间倒序
	index.searchIDs = []string{a.ID, foreign.ID, b.ID}
	items, err := svc.Search(ctx, 1, "", "anything")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, b.ID, items[0].ID)
	assert.Equal(t, a.ID, items[1].ID)

	index.searchErr = assert.AnError
	items, err = svc.Search(ctx, 1, "", "b")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, b.ID, items[0].ID)
}

func TestHistorySearchBackfillsMissedWrites(t *testing.T) {
	ctx := context.Background()
	index := newMemIndex()
	svc := newIndexedHistoryService(t, index)

	index.setFailWrites(true)
	missed, err := svc.Create(ctx, 1, CreateHistoryInput{ToolType: "ads", Input: "CRM launch", Output: "o"})
	require.NoError(t, err)
	assert.False(t, index.has(missed.ID))

	// 索引恢复后第一次搜索先回填
	index.setFailWrites(false)
	items, err := svc.Search(ctx, 1, "", "crm")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, missed.ID, items[0].ID)
	assert.True(t, index.has(missed.ID))

	// 已同步之后的写入失败让搜索重新走数据库
	index.setFailWrites(true)
	second, err := svc.Create(ctx, 1, CreateHistoryInput{ToolType: "ads", Input: "CRM pricing", Output: "o"})
	require.NoError(t, err)
	items, err = svc.Search(ctx, 1, "", "crm")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, second.ID, items[0].ID)
}

func TestHistorySearchFindsRowsWrittenBeforeIndex(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewHistoryRepository(newTestDB(t))
	old, err := NewHistoryService(repo, nil).Create(ctx, 1, CreateHistoryInput{ToolType: "seo", Input: "trail shoes", Output: "o"})
	require.NoError(t, err)

	index := newMemIndex()
	svc := NewHistoryService(repo, index)
	items, err := svc.Search(ctx, 1, "", "TRAIL")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, old.ID, items[0].ID)
	assert.True(t, index.has(old.ID))
}

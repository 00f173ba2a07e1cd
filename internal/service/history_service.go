package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"marketai-go/internal/model"
	"marketai-go/internal/repository"
	"marketai-go/pkg/apperr"
	"marketai-go/pkg/log"

	"github.com/google/uuid"
)

// TimestampPrecision 与 MySQL datetime(3) 一致，保证写入后读回的时间不被截断。
const TimestampPrecision = time.Millisecond

// CreateHistoryInput 是保存一条生成结果所需的字段。
type CreateHistoryInput struct {
	ToolType string  `json:"toolType"`
	Input    string  `json:"input"`
	Output   string  `json:"output"`
	Tone     *string `json:"tone,omitempty"`
}

// HistoryService 定义了历史记录的业务操作，所有操作都限定在 userID 范围内。
type HistoryService interface {
	List(ctx context.Context, userID uint, toolType string) ([]model.HistoryItem, error)
	Get(ctx context.Context, userID uint, id string) (*model.HistoryItem, error)
	Create(ctx context.Context, userID uint, in CreateHistoryInput) (*model.HistoryItem, error)
	UpdateOutput(ctx context.Context, userID uint, id, output string) (*model.HistoryItem, error)
	Delete(ctx context.Context, userID uint, id string) error
	// Search 返回 input 或 output 包含 query（不区分大小写）的记录，排序同 List。
	Search(ctx context.Context, userID uint, toolType, query string) ([]model.HistoryItem, error)
}

// HistoryIndex 是历史记录的外部搜索索引，由 pkg/es.HistoryIndex 实现。
// 数据库是唯一的事实来源；某个用户的索引写入失败后，在重新回填成功之前
// 该用户的搜索走数据库。
type HistoryIndex interface {
	Index(ctx context.Context, item *model.HistoryItem) error
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, userID uint, toolType model.ToolType, query string) ([]string, error)
}

type historyService struct {
	repo  repository.HistoryRepository
	index HistoryIndex
	now   func() time.Time

	// 每个用户的索引写入失败次数，以及最近一次回填成功时的失败次数。
	// 两者相等才信任索引；进程启动后每个用户第一次搜索都会回填。
	indexMu  sync.Mutex
	failures map[uint]uint64
	synced   map[uint]uint64
}

// NewHistoryService 创建一个新的 HistoryService；index 为 nil 时搜索直接查询数据库。
func NewHistoryService(repo repository.HistoryRepository, index HistoryIndex) HistoryService {
	return &historyService{
		repo:     repo,
		index:    index,
		now:      time.Now,
		failures: make(map[uint]uint64),
		synced:   make(map[uint]uint64),
	}
}

func (s *historyService) clock() time.Time {
	return s.now().UTC().Truncate(TimestampPrecision)
}

func parseToolFilter(toolType string) (model.ToolType, error) {
	if strings.TrimSpace(toolType) == "" {
		return "", nil
	}
	t, err := model.ParseToolType(toolType)
	if err != nil {
		return "", apperr.Wrap(apperr.KindValidation, err.Error(), err)
	}
	return t, nil
}

func (s *historyService) List(ctx context.Context, userID uint, toolType string) ([]model.HistoryItem, error) {
	tool, err := parseToolFilter(toolType)
	if err != nil {
		return nil, err
	}
	items, err := s.repo.ListByUser(ctx, userID, tool)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to list history", err)
	}
	return items, nil
}

func (s *historyService) Get(ctx context.Context, userID uint, id string) (*model.HistoryItem, error) {
	item, err := s.repo.FindByIDForUser(ctx, id, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "History item not found")
		}
		return nil, apperr.Wrap(apperr.KindInternal, "failed to load history item", err)
	}
	return item, nil
}

// Create 由服务端分配 id 与 createdAt，插入时 updatedAt 等于 createdAt。
func (s *historyService) Create(ctx context.Context, userID uint, in CreateHistoryInput) (*model.HistoryItem, error) {
	tool, err := model.ParseToolType(in.ToolType)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, err.Error(), err)
	}
	if strings.TrimSpace(in.Input) == "" {
		return nil, apperr.New(apperr.KindValidation, "input must not be empty")
	}
	if strings.TrimSpace(in.Output) == "" {
		return nil, apperr.New(apperr.KindValidation, "output must not be empty")
	}
	var tone *string
	if in.Tone != nil && strings.TrimSpace(*in.Tone) != "" {
		t, err := model.ParseTone(*in.Tone)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindValidation, err.Error(), err)
		}
		v := string(t)
		tone = &v
	}

	now := s.clock()
	item := &model.HistoryItem{
		ID:        uuid.NewString(),
		UserID:    userID,
		ToolType:  tool,
		Input:     in.Input,
		Output:    in.Output,
		Tone:      tone,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, item); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to save history item", err)
	}
	log.Infof("[HistoryService] saved %s item %s for user %d", tool, item.ID, userID)
	s.reindex(ctx, item)
	return item, nil
}

// UpdateOutput 只允许修改 output，并保证 updatedAt 严格大于 createdAt。
func (s *historyService) UpdateOutput(ctx context.Context, userID uint, id, output string) (*model.HistoryItem, error) {
	if strings.TrimSpace(output) == "" {
		return nil, apperr.New(apperr.KindValidation, "output must not be empty")
	}
	item, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	updatedAt := s.clock()
	if !updatedAt.After(item.CreatedAt) {
		updatedAt = item.CreatedAt.Add(TimestampPrecision)
	}
	rows, err := s.repo.UpdateOutput(ctx, id, userID, output, updatedAt)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to update history item", err)
	}
	if rows == 0 {
		// 读取之后被并发删除
		return nil, apperr.New(apperr.KindNotFound, "History item not found")
	}
	item.Output = output
	item.UpdatedAt = updatedAt
	s.reindex(ctx, item)
	return item, nil
}

func (s *historyService) Delete(ctx context.Context, userID uint, id string) error {
	rows, err := s.repo.Delete(ctx, id, userID)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "failed to delete history item", err)
	}
	if rows == 0 {
		return apperr.New(apperr.KindNotFound, "History item not found")
	}
	if s.index != nil {
		if err := s.index.Delete(ctx, id); err != nil {
			log.Warnw("history index delete failed", "id", id, "error", err)
		}
	}
	return nil
}

func (s *historyService) reindex(ctx context.Context, item *model.HistoryItem) {
	if s.index == nil {
		return
	}
	if err := s.index.Index(ctx, item); err != nil {
		log.Warnw("history index write failed", "id", item.ID, "error", err)
		s.markIndexFailed(item.UserID)
	}
}

func (s *historyService) markIndexFailed(userID uint) {
	s.indexMu.Lock()
	s.failures[userID]++
	s.indexMu.Unlock()
}

// indexReady 报告索引是否包含该用户的全部记录，必要时先从数据库回填。
func (s *historyService) indexReady(ctx context.Context, userID uint) bool {
	s.indexMu.Lock()
	gen := s.failures[userID]
	at, ok := s.synced[userID]
	s.indexMu.Unlock()
	if ok && at == gen {
		return true
	}

	items, err := s.repo.ListByUser(ctx, userID, "")
	if err != nil {
		log.Warnw("history index backfill failed", "userId", userID, "error", err)
		return false
	}
	for i := range items {
		if err := s.index.Index(ctx, &items[i]); err != nil {
			log.Warnw("history index backfill failed", "userId", userID, "id", items[i].ID, "error", err)
			s.markIndexFailed(userID)
			return false
		}
	}

	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	if s.failures[userID] != gen {
		// 回填期间又有写入失败
		return false
	}
	s.synced[userID] = gen
	log.Infof("[HistoryService] backfilled %d items into the search index for user %d", len(items), userID)
	return true
}

// Search 在索引与数据库一致时使用索引，否则退回数据库查询；空 query 等同于 List。
func (s *historyService) Search(ctx context.Context, userID uint, toolType, query string) ([]model.HistoryItem, error) {
	if query == "" {
		return s.List(ctx, userID, toolType)
	}
	tool, err := parseToolFilter(toolType)
	if err != nil {
		return nil, err
	}

	if s.index != nil && s.indexReady(ctx, userID) {
		ids, err := s.index.Search(ctx, userID, tool, query)
		if err == nil {
			items, err := s.repo.FindByIDsForUser(ctx, userID, ids)
			if err != nil {
				return nil, apperr.Wrap(apperr.KindInternal, "failed to load history", err)
			}
			return items, nil
		}
		log.Warnw("history index search failed, falling back to database", "error", err)
	}

	items, err := s.repo.SearchByUser(ctx, userID, tool, query)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to search history", err)
	}
	return items, nil
}

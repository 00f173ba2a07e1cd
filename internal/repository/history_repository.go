package repository

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"marketai-go/internal/model"

	"gorm.io/gorm"
)

// HistoryRepository 定义了历史记录的持久化操作，所有方法都按 userID 限定范围。
type HistoryRepository interface {
	Create(ctx context.Context, item *model.HistoryItem) error
	// ListByUser 按 created_at 倒序返回；toolType 为空时返回全部工具的记录。
	ListByUser(ctx context.Context, userID uint, toolType model.ToolType) ([]model.HistoryItem, error)
	FindByIDForUser(ctx context.Context, id string, userID uint) (*model.HistoryItem, error)
	// UpdateOutput 返回受影响的行数，0 表示记录不存在或不属于该用户。
	UpdateOutput(ctx context.Context, id string, userID uint, output string, updatedAt time.Time) (int64, error)
	Delete(ctx context.Context, id string, userID uint) (int64, error)
	// SearchByUser 在 input/output 中做不区分大小写的子串匹配，排序同 ListByUser。
	SearchByUser(ctx context.Context, userID uint, toolType model.ToolType, query string) ([]model.HistoryItem, error)
	// FindByIDsForUser 按 id 批量读取，不属于该用户的 id 被忽略，排序同 ListByUser。
	FindByIDsForUser(ctx context.Context, userID uint, ids []string) ([]model.HistoryItem, error)
}

type historyRepository struct {
	db *gorm.DB
}

// NewHistoryRepository 创建一个新的 HistoryRepository 实例。
func NewHistoryRepository(db *gorm.DB) HistoryRepository {
	return &historyRepository{db: db}
}

func (r *historyRepository) Create(ctx context.Context, item *model.HistoryItem) error {
	return translate(r.db.WithContext(ctx).Create(item).Error)
}

func (r *historyRepository) ListByUser(ctx context.Context, userID uint, toolType model.ToolType) ([]model.HistoryItem, error) {
	items := make([]model.HistoryItem, 0)
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if toolType != "" {
		q = q.Where("tool_type = ?", toolType)
	}
	// id 作为次级排序键，保证同一时刻创建的记录顺序稳定
	err := q.Order("created_at DESC").Order("id DESC").Find(&items).Error
	return items, err
}

func (r *historyRepository) FindByIDForUser(ctx context.Context, id string, userID uint) (*model.HistoryItem, error) {
	var item model.HistoryItem
	err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&item).Error
	if err != nil {
		return nil, translate(err)
	}
	return &item, nil
}

func (r *historyRepository) UpdateOutput(ctx context.Context, id string, userID uint, output string, updatedAt time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.HistoryItem{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(map[string]interface{}{"output": output, "updated_at": updatedAt})
	return res.RowsAffected, res.Error
}

func (r *historyRepository) Delete(ctx context.Context, id string, userID uint) (int64, error) {
	res := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&model.HistoryItem{})
	return res.RowsAffected, res.Error
}

// likeEscape 是 LIKE 的转义字符；避开反斜杠，MySQL 与 SQLite 对它的处理不同。
const likeEscape = "!"

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// SearchByUser 返回 input 或 output 包含 query（忽略大小写）的记录。
// SQLite 的 LOWER 只处理 ASCII，所以 LIKE 只在 query 为 ASCII 时用来缩小范围，
// 最终结果一律按 HistoryItem.Matches 过滤。
func (r *historyRepository) SearchByUser(ctx context.Context, userID uint, toolType model.ToolType, query string) ([]model.HistoryItem, error) {
	var rows []model.HistoryItem
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if isASCII(query) {
		pattern := "%" + likeEscaper.Replace(strings.ToLower(query)) + "%"
		q = q.Where("(LOWER(input) LIKE ? ESCAPE '"+likeEscape+"' OR LOWER(output) LIKE ? ESCAPE '"+likeEscape+"')", pattern, pattern)
	}
	if toolType != "" {
		q = q.Where("tool_type = ?", toolType)
	}
	if err := q.Order("created_at DESC").Order("id DESC").Find(&rows).Error; err != nil {
		return nil, err
	}

	items := make([]model.HistoryItem, 0, len(rows))
	for _, item := range rows {
		if item.Matches(query) {
			items = append(items, item)
		}
	}
	return items, nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

func (r *historyRepository) FindByIDsForUser(ctx context.Context, userID uint, ids []string) ([]model.HistoryItem, error) {
	items := make([]model.HistoryItem, 0, len(ids))
	if len(ids) == 0 {
		return items, nil
	}
	err := r.db.WithContext(ctx).Where("user_id = ? AND id IN ?", userID, ids).
		Order("created_at DESC").Order("id DESC").Find(&items).Error
	return items, err
}

package model

import (
	"fmt"
	"strings"
	"time"
)

// ToolType 标识生成结果来自哪个工具。
type ToolType string

const (
	ToolSocial ToolType = "social"
	ToolAds    ToolType = "ads"
	ToolSEO    ToolType = "seo"
)

// ToolTypes 按展示顺序列出所有工具。
var ToolTypes = []ToolType{ToolSocial, ToolAds, ToolSEO}

// ParseToolType 解析工具类型，大小写不敏感。
func ParseToolType(s string) (ToolType, error) {
	t := ToolType(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case ToolSocial, ToolAds, ToolSEO:
		return t, nil
	}
	return "", fmt.Errorf("unknown tool type %q (expected social, ads or seo)", s)
}

// HistoryItem 对应数据库中的 'history_items' 表，记录一次被保存的生成结果。
// ID 与 CreatedAt 由服务端在插入时赋值，客户端不得自行生成。
type HistoryItem struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID    uint      `gorm:"index:idx_history_user_created,priority:1;not null" json:"-"`
	ToolType  ToolType  `gorm:"type:varchar(16);index;not null" json:"toolType"`
	Input     string    `gorm:"type:text;not null" json:"input"`
	Output    string    `gorm:"type:text;not null" json:"output"`
	Tone      *string   `gorm:"type:varchar(32)" json:"tone,omitempty"`
	CreatedAt time.Time `gorm:"index:idx_history_user_created,priority:2;not null" json:"createdAt"`
	UpdatedAt time.Time `gorm:"not null" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (HistoryItem) TableName() string {
	return "history_items"
}

// ToneValue 返回 tone，未设置时为空字符串。
func (h HistoryItem) ToneValue() string {
	if h.Tone == nil {
		return ""
	}
	return *h.Tone
}

// Matches 判断 query 是否（忽略大小写）出现在 input 或 output 中，空 query 总是匹配。
func (h HistoryItem) Matches(query string) bool {
	if query == "" {
		return true
	}
	q := strings.ToLower(query)
	return strings.Contains(strings.ToLower(h.Input), q) ||
		strings.Contains(strings.ToLower(h.Output), q)
}

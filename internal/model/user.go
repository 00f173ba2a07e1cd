// Package model 包含了应用的数据模型定义。
package model

import (
	"strings"
	"time"
)

// User 对应数据库中的 'users' 表。
type User struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Email       string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	DisplayName string    `gorm:"type:varchar(100);not null" json:"displayName"`
	Password    string    `gorm:"type:varchar(255);not null" json:"-"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (User) TableName() string {
	return "users"
}

// DefaultDisplayName 取邮箱 @ 之前的部分作为默认显示名。
func DefaultDisplayName(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}

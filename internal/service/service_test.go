package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"marketai-go/internal/config"
	"marketai-go/internal/model"
	"marketai-go/internal/repository"
	"marketai-go/pkg/database"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "service.db")},
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db, &model.User{}, &model.HistoryItem{}))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// memTokenRepo 是 TokenRepository 的内存实现，不处理过期。
type memTokenRepo struct {
	mu        sync.Mutex
	blacklist map[string]time.Duration
	attempts  map[string]int64
	resets    map[string]uint
	failIncr  error
}

func newMemTokenRepo() *memTokenRepo {
	return &memTokenRepo{
		blacklist: map[string]time.Duration{},
		attempts:  map[string]int64{},
		resets:    map[string]uint{},
	}
}

func (m *memTokenRepo) Blacklist(_ context.Context, token string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blacklist[token] = ttl
	return nil
}

func (m *memTokenRepo) IsBlacklisted(_ context.Context, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blacklist[token]
	return ok, nil
}

func (m *memTokenRepo) ClaimToken(_ context.Context, token string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blacklist[token]; ok {
		return false, nil
	}
	m.blacklist[token] = ttl
	return true, nil
}

func (m *memTokenRepo) IncrLoginAttempts(_ context.Context, key string, _ time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failIncr != nil {
		return 0, m.failIncr
	}
	m.attempts[key]++
	return m.attempts[key], nil
}

func (m *memTokenRepo) SaveResetToken(_ context.Context, token string, userID uint, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets[token] = userID
	return nil
}

func (m *memTokenRepo) ConsumeResetToken(_ context.Context, token string) (uint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.resets[token]
	if !ok {
		return 0, repository.ErrNotFound
	}
	delete(m.resets, token)
	return id, nil
}

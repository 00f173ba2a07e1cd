package service

import (
	"context"
	"fmt"
	"time"

	"marketai-go/internal/export"
	"marketai-go/internal/model"
	"marketai-go/pkg/apperr"
	"marketai-go/pkg/log"
)

// DefaultShareExpiry 是分享链接的默认有效期。
const DefaultShareExpiry = time.Hour

// ObjectStore 是对象存储的最小接口，由 pkg/storage.MinioStore 实现。
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
	PresignGet(ctx context.Context, key, filename string, expiry time.Duration) (string, error)
}

// ShareService 把一条历史记录导出到对象存储并返回限时下载链接。
type ShareService interface {
	Share(ctx context.Context, userID uint, id, format string) (*model.ShareLink, error)
}

type shareService struct {
	history HistoryService
	store   ObjectStore
	expiry  time.Duration
	now     func() time.Time
}

// NewShareService 创建 ShareService；store 为 nil 时 Share 返回 configuration 错误。
func NewShareService(history HistoryService, store ObjectStore, expiry time.Duration) ShareService {
	if expiry <= 0 {
		expiry = DefaultShareExpiry
	}
	return &shareService{history: history, store: store, expiry: expiry, now: time.Now}
}

// shareKey 按用户划分对象路径，同一记录同一格式重复分享会覆盖旧对象。
func shareKey(userID uint, item *model.HistoryItem, e export.Exporter) string {
	return fmt.Sprintf("exports/%d/%s.%s", userID, item.ID, e.Extension())
}

func (s *shareService) Share(ctx context.Context, userID uint, id, format string) (*model.ShareLink, error) {
	if s.store == nil {
		return nil, apperr.New(apperr.KindConfiguration, "Sharing is not configured on this server")
	}
	exporter, err := export.NewExporter(format)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, err.Error(), err)
	}
	item, err := s.history.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	data, err := export.Render(item, exporter)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to export history item", err)
	}

	key := shareKey(userID, item, exporter)
	if err := s.store.Put(ctx, key, export.ContentType(exporter), data); err != nil {
		return nil, apperr.Wrap(apperr.KindUpstream, "Failed to upload export", err)
	}
	filename := export.Filename(item, exporter)
	expiresAt := s.now().UTC().Add(s.expiry)
	url, err := s.store.PresignGet(ctx, key, filename, s.expiry)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstream, "Failed to create share link", err)
	}
	log.Infof("[ShareService] shared %s for user %d as %s", item.ID, userID, key)
	return &model.ShareLink{URL: url, Filename: filename, ExpiresAt: expiresAt}, nil
}

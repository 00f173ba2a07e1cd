package service

import (
	"context"
	"strconv"
	"time"

	"marketai-go/internal/model"
	"marketai-go/pkg/log"

	"github.com/google/uuid"
)

// EventPublisher 是消息队列生产者的最小接口，由 pkg/kafka.Producer 实现。
type EventPublisher interface {
	Publish(ctx context.Context, key string, v interface{}) error
}

// UsageRecorder 记录生成调用的用量。记录失败不影响生成结果。
type UsageRecorder interface {
	RecordGeneration(ctx context.Context, event model.GenerationEvent)
}

type nopRecorder struct{}

func (nopRecorder) RecordGeneration(context.Context, model.GenerationEvent) {}

type publishingRecorder struct {
	publisher EventPublisher
}

// NewUsageRecorder 把用量事件发送到 publisher，按用户 ID 分区。
func NewUsageRecorder(publisher EventPublisher) UsageRecorder {
	if publisher == nil {
		return nopRecorder{}
	}
	return &publishingRecorder{publisher: publisher}
}

func (r *publishingRecorder) RecordGeneration(ctx context.Context, event model.GenerationEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	// 请求可能已被取消，事件仍要发送
	if err := r.publisher.Publish(context.WithoutCancel(ctx), strconv.FormatUint(uint64(event.UserID), 10), event); err != nil {
		log.Warnw("usage event dropped", "tool", event.ToolType, "user", event.UserID, "error", err)
	}
}

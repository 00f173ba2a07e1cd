package model

import "time"

// GenerationOutcomeOK 是成功生成时 GenerationEvent.Outcome 的取值，失败时为错误 kind。
const GenerationOutcomeOK = "ok"

// GenerationEvent 是一次生成调用的用量记录，发送到消息队列供计量使用。
type GenerationEvent struct {
	ID        string    `json:"id"`
	UserID    uint      `json:"user_id"`
	ToolType  ToolType  `json:"tool_type"`
	Tone      Tone      `json:"tone"`
	Outcome   string    `json:"outcome"`
	Degraded  bool      `json:"degraded"`
	LatencyMs int64     `json:"latency_ms"`
	At        time.Time `json:"at"`
}

// ShareLink 是上传到对象存储的导出文件及其限时下载地址。
type ShareLink struct {
	URL       string    `json:"url"`
	Filename  string    `json:"filename"`
	ExpiresAt time.Time `json:"expiresAt"`
}

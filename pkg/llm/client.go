// Package llm provides a client for the chat-completion gateway.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"marketai-go/internal/config"
	"marketai-go/pkg/apperr"
	"marketai-go/pkg/log"
)

// Client defines the interface for an LLM client.
type Client interface {
	// Complete 以 role-based 消息调用聊天接口，返回第一条 choice 的完整文本。
	Complete(ctx context.Context, messages []Message, gen *GenerationParams) (string, error)
}

type gatewayClient struct {
	cfg    config.LLMConfig
	client *http.Client
}

// NewClient creates a new LLM client for the configured gateway.
func NewClient(cfg config.LLMConfig) Client {
	return &gatewayClient{
		cfg:    cfg,
		client: &http.Client{},
	}
}

// Message 表示一条角色消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// System 和 User 是构造消息的便捷函数。
func System(content string) Message { return Message{Role: "system", Content: content} }
func User(content string) Message   { return Message{Role: "user", Content: content} }

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// GenerationParams 控制生成行为
type GenerationParams struct {
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

func (c *gatewayClient) Complete(ctx context.Context, messages []Message, gen *GenerationParams) (string, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		log.Errorf("LLM api_key is not configured")
		return "", apperr.New(apperr.KindConfiguration, "AI gateway API key is not configured")
	}
	if strings.TrimSpace(c.cfg.BaseURL) == "" {
		log.Errorf("LLM base_url is not configured")
		return "", apperr.New(apperr.KindConfiguration, "AI gateway endpoint is not configured")
	}

	if c.cfg.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(c.cfg.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	reqBytes, err := json.Marshal(c.buildRequest(messages, gen))
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "failed to marshal chat request", err)
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBytes))
	if err != nil {
		return "", apperr.Wrap(apperr.KindConfiguration, "invalid AI gateway endpoint", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", apperr.Wrap(apperr.KindUpstream, "AI gateway timed out", err)
		}
		return "", apperr.Wrap(apperr.KindUpstream, "failed to call AI gateway", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		log.Warnw("AI gateway error", "status", resp.StatusCode, "body", string(bodyBytes))
		return "", statusError(resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", apperr.Wrap(apperr.KindUpstream, "malformed AI gateway response", err)
	}
	if len(parsed.Choices) == 0 {
		return "", apperr.New(apperr.KindUpstream, "AI gateway returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

func (c *gatewayClient) buildRequest(messages []Message, gen *GenerationParams) chatRequest {
	reqBody := chatRequest{
		Model:    c.cfg.Model,
		Messages: messages,
	}
	// 传参优先，其次为全局配置（非零值才注入）
	if gen != nil {
		reqBody.Temperature = gen.Temperature
		reqBody.TopP = gen.TopP
		reqBody.MaxTokens = gen.MaxTokens
		return reqBody
	}
	if c.cfg.Generation.Temperature != 0 {
		t := c.cfg.Generation.Temperature
		reqBody.Temperature = &t
	}
	if c.cfg.Generation.TopP != 0 {
		p := c.cfg.Generation.TopP
		reqBody.TopP = &p
	}
	if c.cfg.Generation.MaxTokens != 0 {
		m := c.cfg.Generation.MaxTokens
		reqBody.MaxTokens = &m
	}
	return reqBody
}

func statusError(status int) error {
	switch status {
	case http.StatusTooManyRequests:
		return apperr.New(apperr.KindRateLimited, "Rate limit exceeded. Please try again later.")
	case http.StatusPaymentRequired:
		return apperr.New(apperr.KindQuotaExceeded, "Usage limit reached. Please add credits.")
	default:
		return apperr.Newf(apperr.KindUpstream, "AI gateway error: %d", status)
	}
}

// Package es 提供了历史记录的 Elasticsearch 搜索索引。
package es

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"marketai-go/internal/config"
	"marketai-go/internal/model"
	"marketai-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// searchPageSize 是每次 _search 请求取回的命中数，超过时用 search_after 翻页。
var searchPageSize = 500

// input/output 使用 wildcard 类型，支持与数据库一致的子串匹配。
const indexMapping = `{
	"mappings": {
		"properties": {
			"id":         { "type": "keyword" },
			"user_id":    { "type": "long" },
			"tool_type":  { "type": "keyword" },
			"tone":       { "type": "keyword" },
			"input":      { "type": "wildcard" },
			"output":     { "type": "wildcard" },
			"created_at": { "type": "date" },
			"updated_at": { "type": "date" }
		}
	}
}`

// document 是写入索引的历史记录。
type document struct {
	ID        string    `json:"id"`
	UserID    uint      `json:"user_id"`
	ToolType  string    `json:"tool_type"`
	Tone      string    `json:"tone,omitempty"`
	Input     string    `json:"input"`
	Output    string    `json:"output"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HistoryIndex 把历史记录写入 Elasticsearch 并按用户搜索。
type HistoryIndex struct {
	client *elasticsearch.Client
	index  string
}

// NewHistoryIndex 初始化 Elasticsearch 客户端，索引不存在时创建。
func NewHistoryIndex(ctx context.Context, cfg config.ElasticsearchConfig) (*HistoryIndex, error) {
	var addresses []string
	for _, a := range strings.Split(cfg.Addresses, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addresses = append(addresses, a)
		}
	}
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, err
	}
	x := &HistoryIndex{client: client, index: cfg.IndexName}
	if err := x.createIndexIfNotExists(ctx); err != nil {
		return nil, err
	}
	return x, nil
}

func (x *HistoryIndex) createIndexIfNotExists(ctx context.Context) error {
	res, err := x.client.Indices.Exists([]string{x.index}, x.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("检查索引是否存在时出错: %w", err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", x.index)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("检查索引 '%s' 时收到意外的状态码: %d", x.index, res.StatusCode)
	}

	res, err = x.client.Indices.Create(
		x.index,
		x.client.Indices.Create.WithBody(strings.NewReader(indexMapping)),
		x.client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("创建索引 '%s' 失败: %w", x.index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", x.index, res.String())
	}
	log.Infof("索引 '%s' 创建成功", x.index)
	return nil
}

// Index 写入或覆盖一条记录。
func (x *HistoryIndex) Index(ctx context.Context, item *model.HistoryItem) error {
	body, err := json.Marshal(document{
		ID:        item.ID,
		UserID:    item.UserID,
		ToolType:  string(item.ToolType),
		Tone:      item.ToneValue(),
		Input:     item.Input,
		Output:    item.Output,
		CreatedAt: item.CreatedAt,
		UpdatedAt: item.UpdatedAt,
	})
	if err != nil {
		return err
	}
	req := esapi.IndexRequest{
		Index:      x.index,
		DocumentID: item.ID,
		Body:       bytes.NewReader(body),
		Refresh:    "true",
	}
	return x.do(ctx, req, "index", nil)
}

// Delete 删除一条记录；记录不存在不算错误。
func (x *HistoryIndex) Delete(ctx context.Context, id string) error {
	req := esapi.DeleteRequest{Index: x.index, DocumentID: id, Refresh: "true"}
	return x.do(ctx, req, "delete", []int{http.StatusNotFound})
}

// Search 返回全部匹配记录的 id，按 created_at 倒序。
func (x *HistoryIndex) Search(ctx context.Context, userID uint, toolType model.ToolType, query string) ([]string, error) {
	var ids []string
	var after []interface{}
	for {
		hits, err := x.searchPage(ctx, searchBody(userID, toolType, query, after))
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			ids = append(ids, h.ID)
		}
		if len(hits) < searchPageSize {
			break
		}
		after = hits[len(hits)-1].Sort
		if len(after) == 0 {
			return nil, fmt.Errorf("search response has no sort values for paging")
		}
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

type searchHit struct {
	ID   string        `json:"_id"`
	Sort []interface{} `json:"sort"`
}

func (x *HistoryIndex) searchPage(ctx context.Context, body map[string]interface{}) ([]searchHit, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	res, err := x.client.Search(
		x.client.Search.WithContext(ctx),
		x.client.Search.WithIndex(x.index),
		x.client.Search.WithBody(bytes.NewReader(raw)),
	)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("search failed: %s", res.String())
	}

	var parsed struct {
		Hits struct {
			Hits []searchHit `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return parsed.Hits.Hits, nil
}

func (x *HistoryIndex) do(ctx context.Context, req esapi.Request, op string, okStatuses []int) error {
	res, err := req.Do(ctx, x.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)
	if !res.IsError() {
		return nil
	}
	for _, s := range okStatuses {
		if res.StatusCode == s {
			return nil
		}
	}
	return fmt.Errorf("%s failed: %s", op, res.String())
}

var wildcardEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`)

// searchBody 构造按用户过滤、input 或 output 包含 query 的查询；after 非空时从该排序值之后继续。
func searchBody(userID uint, toolType model.ToolType, query string, after []interface{}) map[string]interface{} {
	filter := []interface{}{
		map[string]interface{}{"term": map[string]interface{}{"user_id": userID}},
	}
	if toolType != "" {
		filter = append(filter, map[string]interface{}{"term": map[string]interface{}{"tool_type": string(toolType)}})
	}
	pattern := "*" + wildcardEscaper.Replace(query) + "*"
	should := []interface{}{
		map[string]interface{}{"wildcard": map[string]interface{}{"input": map[string]interface{}{"value": pattern, "case_insensitive": true}}},
		map[string]interface{}{"wildcard": map[string]interface{}{"output": map[string]interface{}{"value": pattern, "case_insensitive": true}}},
	}
	body := map[string]interface{}{
		"size":    searchPageSize,
		"_source": false,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter":               filter,
				"should":               should,
				"minimum_should_match": 1,
			},
		},
		"sort": []interface{}{
			map[string]interface{}{"created_at": "desc"},
			map[string]interface{}{"id": "desc"},
		},
	}
	if len(after) > 0 {
		body["search_after"] = after
	}
	return body
}

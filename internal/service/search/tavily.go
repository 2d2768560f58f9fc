package search

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/nexusvoice/backend/internal/config"
)

const (
	defaultMaxResults = 5
	maxResultsCeiling = 20
)

// TavilyClient 调用 Tavily Search API。
type TavilyClient struct {
	cfg    config.SearchConfig
	client *http.Client
}

var _ Service = (*TavilyClient)(nil)

// NewTavilyClient 创建检索客户端。
func NewTavilyClient(cfg config.SearchConfig) *TavilyClient {
	return &TavilyClient{
		cfg:    cfg,
		client: &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second},
	}
}

func (c *TavilyClient) Enabled() bool {
	return c.cfg.Enabled()
}

type tavilyRequest struct {
	Query             string `json:"query"`
	SearchDepth       string `json:"search_depth"`
	IncludeAnswer     bool   `json:"include_answer"`
	IncludeRawContent bool   `json:"include_raw_content"`
	IncludeImages     bool   `json:"include_images"`
	MaxResults        int    `json:"max_results"`
	Topic             string `json:"topic"`
	Country           string `json:"country,omitempty"`
}

type tavilyResponse struct {
	Answer  string `json:"answer"`
	Results []struct {
		Title   string  `json:"title"`
		Content string  `json:"content"`
		URL     string  `json:"url"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// SearchWeb 执行一次通用检索。任何失败都降级为空结果。
func (c *TavilyClient) SearchWeb(ctx context.Context, query string, maxResults int, language string) *Result {
	start := time.Now()
	query = strings.TrimSpace(query)
	if query == "" || !c.Enabled() {
		return emptyResult(query, start)
	}

	limit := defaultMaxResults
	if maxResults > 0 {
		limit = maxResults
		if limit > maxResultsCeiling {
			limit = maxResultsCeiling
		}
	}

	req := tavilyRequest{
		Query:         query,
		SearchDepth:   "basic",
		IncludeAnswer: true,
		MaxResults:    limit,
		Topic:         "general",
	}
	// 中文查询优先返回中文地区结果。
	if containsChinese(query) {
		req.Country = "china"
	}

	body, err := json.Marshal(req)
	if err != nil {
		return emptyResult(query, start)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return emptyResult(query, start)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		log.Printf("[search] tavily request failed query=%q err=%v", query, err)
		return emptyResult(query, start)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Printf("[search] tavily returned status=%d query=%q", resp.StatusCode, query)
		return emptyResult(query, start)
	}

	var parsed tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		log.Printf("[search] tavily decode failed query=%q err=%v", query, err)
		return emptyResult(query, start)
	}

	items := make([]Item, 0, len(parsed.Results)+1)
	if answer := strings.TrimSpace(parsed.Answer); answer != "" {
		items = append(items, Item{Title: "AI生成答案", Snippet: answer, RelevanceScore: 1.2})
	}
	for i, r := range parsed.Results {
		if r.Title == "" || r.URL == "" {
			continue
		}
		snippet := r.Content
		if snippet == "" {
			snippet = r.Title
		}
		score := r.Score
		if score == 0 {
			score = 0.8 - float64(i)*0.1
		}
		if score < 0.1 {
			score = 0.1
		}
		items = append(items, Item{Title: r.Title, Snippet: snippet, Link: r.URL, RelevanceScore: score})
	}

	log.Printf("[search] tavily completed query=%q results=%d time=%dms",
		query, len(items), time.Since(start).Milliseconds())

	return &Result{
		Query:        query,
		Items:        items,
		SearchTimeMs: time.Since(start).Milliseconds(),
		TotalCount:   len(items),
		Source:       "Tavily",
	}
}

func containsChinese(text string) bool {
	for _, r := range text {
		if r >= 0x4E00 && r <= 0x9FFF {
			return true
		}
	}
	return false
}

func emptyResult(query string, start time.Time) *Result {
	return &Result{
		Query:        query,
		Items:        []Item{},
		SearchTimeMs: time.Since(start).Milliseconds(),
		Source:       "Tavily",
	}
}

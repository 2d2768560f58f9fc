// Package search wraps the Tavily web search API used by role research.
// Search degrades to empty results on any failure; role workflows treat a
// missing result set as "nothing found", not as an error.
package search

import "context"

// Item 单条检索结果。
type Item struct {
	Title          string  `json:"title"`
	Snippet        string  `json:"snippet"`
	Link           string  `json:"link"`
	RelevanceScore float64 `json:"relevanceScore"`
}

// Result 一次检索的聚合结果。
type Result struct {
	Query        string `json:"query"`
	Items        []Item `json:"items"`
	SearchTimeMs int64  `json:"searchTimeMs"`
	TotalCount   int    `json:"totalCount"`
	Source       string `json:"source"`
}

// Service 联网检索服务。
type Service interface {
	SearchWeb(ctx context.Context, query string, maxResults int, language string) *Result
	Enabled() bool
}

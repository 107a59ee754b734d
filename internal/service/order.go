package service

import "strings"

var shareOrderBy = map[string]string{
	"created_at":     "created_at",
	"updated_at":     "updated_at",
	"title":          "title",
	"view_count":     "view_count",
	"download_count": "download_count",
	"expires_at":     "expires_at",
}

var imageOrderBy = map[string]string{
	"created_at":     "created_at",
	"updated_at":     "updated_at",
	"filename":       "filename",
	"size":           "size",
	"view_count":     "view_count",
	"download_count": "download_count",
}

// sanitizeOrder maps a client sort field onto a known column, falling back to created_at.
// Sort order defaults to descending.
func sanitizeOrder(allowed map[string]string, orderBy, order string) (string, bool) {
	column, ok := allowed[strings.ToLower(strings.TrimSpace(orderBy))]
	if !ok {
		column = "created_at"
	}
	return column, !strings.EqualFold(strings.TrimSpace(order), "asc")
}

func normalizePage(page, limit, maxLimit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return page, limit
}

type Pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int64 `json:"pages"`
}

func newPagination(page, limit int, total int64) Pagination {
	pages := total / int64(limit)
	if total%int64(limit) != 0 {
		pages++
	}
	return Pagination{Page: page, Limit: limit, Total: total, Pages: pages}
}

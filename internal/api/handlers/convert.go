package handlers

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// defaultPagination normalizes page/perPage from query params
// (0 = not specified).
func defaultPagination(page, perPage int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 20
	}
	if perPage > 100 {
		perPage = 100
	}
	return page, perPage
}

// pageParams reads and normalizes the page/per_page query parameters.
func pageParams(c *gin.Context) (page, perPage int) {
	page, _ = strconv.Atoi(c.Query("page"))
	perPage, _ = strconv.Atoi(c.Query("per_page"))
	return defaultPagination(page, perPage)
}

// newPagination builds the response pagination block.
func newPagination(page, perPage, total int) Pagination {
	return Pagination{
		Page:       page,
		PerPage:    perPage,
		Total:      total,
		TotalPages: (total + perPage - 1) / perPage,
	}
}

// queryBool reads a boolean query parameter; a bare `?flag` counts as true.
func queryBool(c *gin.Context, name string) bool {
	v, ok := c.GetQuery(name)
	if !ok {
		return false
	}
	if v == "" {
		return true
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

// queryUint64 reads an optional unsigned query parameter, reporting a parse
// failure distinctly from absence.
func queryUint64(c *gin.Context, name string) (*uint64, bool) {
	v, ok := c.GetQuery(name)
	if !ok || v == "" {
		return nil, true
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return nil, false
	}
	return &n, true
}

// headerUint64 reads an optional unsigned header value, tolerating the
// ETag quoting If-Match callers send back.
func headerUint64(c *gin.Context, name string) (*uint64, bool) {
	v := strings.Trim(c.GetHeader(name), `"`)
	if v == "" {
		return nil, true
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return nil, false
	}
	return &n, true
}

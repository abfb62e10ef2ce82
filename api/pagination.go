package api

import (
	"net/http"
	"strconv"

	"github.com/jmcleod/wordvault/vault"
)

const (
	defaultPageLimit = vault.DefaultPageLimit
	maxPageLimit     = vault.MaxPageLimit
)

// PaginationMeta accompanies every paginated list response.
type PaginationMeta struct {
	TotalCount int  `json:"total_count"`
	Limit      int  `json:"limit"`
	Offset     int  `json:"offset"`
	HasMore    bool `json:"has_more"`
}

// parsePagination reads the "limit" and "offset" query parameters. Missing,
// malformed or non-positive values fall back to the defaults; limit is
// capped at maxPageLimit.
func parsePagination(r *http.Request) (limit, offset int) {
	q := r.URL.Query()
	limit = min(positiveInt(q.Get("limit"), defaultPageLimit), maxPageLimit)
	offset = positiveInt(q.Get("offset"), 0)
	return limit, offset
}

func positiveInt(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// paginateSlice returns the [start, end) window of a collection of
// totalCount items and its PaginationMeta. An offset past the end yields an
// empty window.
func paginateSlice(totalCount, limit, offset int) (start, end int, meta PaginationMeta) {
	start = min(offset, totalCount)
	end = min(start+limit, totalCount)
	meta = PaginationMeta{
		TotalCount: totalCount,
		Limit:      limit,
		Offset:     offset,
		HasMore:    end < totalCount,
	}
	return start, end, meta
}

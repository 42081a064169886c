package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

// ParseJSON decodes JSON from the request body into the destination
func ParseJSON(r *http.Request, dest interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// ParseJSONOrError decodes JSON and writes an error response on failure
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := ParseJSON(r, dest); err != nil {
		WriteBadRequest(w, err.Error())
		return false
	}
	return true
}

// PageParams holds pagination and sorting query parameters
type PageParams struct {
	Page     int
	PageSize int
	SortBy   string
	SortDesc bool
}

// Offset returns the row offset for the current page
func (p PageParams) Offset() int {
	return (p.Page - 1) * p.PageSize
}

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// ParsePageParams extracts page, page_size, sort_by and sort_order query
// parameters, applying defaults and clamping page_size.
func ParsePageParams(r *http.Request) PageParams {
	params := PageParams{
		Page:     1,
		PageSize: defaultPageSize,
		SortBy:   r.URL.Query().Get("sort_by"),
		SortDesc: r.URL.Query().Get("sort_order") != "asc",
	}

	if page, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && page > 0 {
		params.Page = page
	}
	if size, err := strconv.Atoi(r.URL.Query().Get("page_size")); err == nil && size > 0 {
		params.PageSize = size
		if params.PageSize > maxPageSize {
			params.PageSize = maxPageSize
		}
	}

	return params
}

package pagination

import (
	"fmt"
	"net/url"
	"path"
	"strconv"
)

// Endpoint builds page URLs for a search endpoint.
type Endpoint struct {
	base     url.URL
	pageSize int
}

// NewEndpoint validates base and pageSize.
func NewEndpoint(base string, pageSize int) (Endpoint, error) {
	if pageSize <= 0 {
		return Endpoint{}, fmt.Errorf("page_size must be > 0 (got %d)", pageSize)
	}

	u, err := url.Parse(base)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Endpoint{}, fmt.Errorf("base url must be http or https (got %q)", base)
	}
	if u.Host == "" {
		return Endpoint{}, fmt.Errorf("base url has no host (got %q)", base)
	}

	return Endpoint{base: *u, pageSize: pageSize}, nil
}

// PageSize returns the number of items requested per page.
func (e Endpoint) PageSize() int {
	return e.pageSize
}

// PageURL returns <base>/<page>?pageSize=<n>, keeping any query on base.
func (e Endpoint) PageURL(page int) string {
	u := e.base
	u.Path = path.Join("/", u.Path, strconv.Itoa(page))
	u.RawPath = ""

	q := u.Query()
	q.Set("pageSize", strconv.Itoa(e.pageSize))
	u.RawQuery = q.Encode()

	return u.String()
}

// TotalPages returns ceil(total / pageSize). It does not overflow for any
// non-negative total.
func (e Endpoint) TotalPages(total int) int {
	if total <= 0 {
		return 0
	}
	pages := total / e.pageSize
	if total%e.pageSize != 0 {
		pages++
	}
	return pages
}

package store

import (
	"fmt"
	"strconv"
	"strings"
)

// PageKey identifies one buffered page of a crawl run.
type PageKey struct {
	RunID string
	Page  int
}

// String generates the redis key for the page.
// Format: crawl:<run id>:page:<page>
//
// Example:
//
//	crawl:5f0c...:page:12
func (k PageKey) String() string {
	return fmt.Sprintf("crawl:%s:page:%d", k.RunID, k.Page)
}

// FileName generates the spill file name for the page.
func (k PageKey) FileName() string {
	return fmt.Sprintf("page-%06d.json", k.Page)
}

// ParsePageKey parses a key produced by PageKey.String.
func ParsePageKey(s string) (PageKey, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 4 || parts[0] != "crawl" || parts[2] != "page" || parts[1] == "" {
		return PageKey{}, fmt.Errorf("invalid page key %q", s)
	}
	page, err := strconv.Atoi(parts[3])
	if err != nil || page < 0 {
		return PageKey{}, fmt.Errorf("invalid page in key %q", s)
	}
	return PageKey{RunID: parts[1], Page: page}, nil
}

package pagination

import (
	"errors"
	"fmt"
)

// ErrMissingTotal is returned when the probe response carries no info.total.
var ErrMissingTotal = errors.New("response has no info.total")

// ProbeError is fatal: without a page count no page can be scheduled.
type ProbeError struct {
	URL string
	Err error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe page count (%s): %v", e.URL, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// PageFetchError is local to one page: the page contributes no documents.
type PageFetchError struct {
	Page int
	Err  error
}

func (e *PageFetchError) Error() string {
	return fmt.Sprintf("fetch page %d: %v", e.Page, e.Err)
}

func (e *PageFetchError) Unwrap() error { return e.Err }

// AggregationError marks a page whose buffered documents could not be folded
// into the artifact. The page is treated as failed.
type AggregationError struct {
	Page int
	Err  error
}

func (e *AggregationError) Error() string {
	return fmt.Sprintf("aggregate page %d: %v", e.Page, e.Err)
}

func (e *AggregationError) Unwrap() error { return e.Err }

package pagination

import (
	"context"
	"fmt"
)

// APIClient is the part of client.Client the crawler uses.
type APIClient interface {
	GetJSON(ctx context.Context, url string, v any) error
}

// MaxTotalPages is the largest page count a crawl accepts. The aggregator
// keeps per-page state, so an absurd info.total must not reach it.
const MaxTotalPages = 1 << 24

// ProbeResult is what the page count probe learned.
type ProbeResult struct {
	Total      int
	TotalPages int
}

type probeResponse struct {
	Info *struct {
		Total *int `json:"total"`
	} `json:"info"`
}

// Probe fetches page 0 once and derives the page count from info.total.
// Any failure is returned as *ProbeError.
func Probe(ctx context.Context, api APIClient, ep Endpoint) (ProbeResult, error) {
	url := ep.PageURL(0)

	var resp probeResponse
	if err := api.GetJSON(ctx, url, &resp); err != nil {
		return ProbeResult{}, &ProbeError{URL: url, Err: err}
	}

	if resp.Info == nil || resp.Info.Total == nil {
		return ProbeResult{}, &ProbeError{URL: url, Err: ErrMissingTotal}
	}

	total := *resp.Info.Total
	if total < 0 {
		return ProbeResult{}, &ProbeError{URL: url, Err: fmt.Errorf("negative info.total %d", total)}
	}

	pages := ep.TotalPages(total)
	if pages > MaxTotalPages {
		return ProbeResult{}, &ProbeError{URL: url, Err: fmt.Errorf("info.total %d needs %d pages, limit is %d", total, pages, MaxTotalPages)}
	}

	return ProbeResult{
		Total:      total,
		TotalPages: pages,
	}, nil
}

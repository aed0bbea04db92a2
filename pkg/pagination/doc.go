// Package pagination crawls a paginated search endpoint and assembles every
// page into one ordered JSON artifact.
//
// The search API answers GET <base>/<page>?pageSize=<n> with
// {"info":{"total":<items>},"docs":[...]}. A crawl:
//   - Probes page 0 once to learn info.total and derive the page count
//   - Fans the page indexes 0..N-1 out to a fixed-size worker pool
//   - Buffers each page's documents in a store.PageStore keyed by page index
//   - Folds the pages into {"docs":[...]} in ascending page order, dropping
//     null-valued object fields, and renames the artifact into place
//
// Example usage:
//
//	c, err := pagination.New(apiClient, pagination.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	summary, err := c.Run(ctx)
//
// A failed probe aborts the crawl without touching the output path. A failed
// page is reported to the progress sink and left out of the artifact; the
// crawl still completes and Summary.FailedPages lists what is missing.
// Pages are attempted exactly once: there is no retry.
package pagination

// Package store provides page-keyed intermediate storage for crawl results.
//
// A crawl buffers each page's documents under its page index until the
// aggregator folds it into the output artifact, then deletes it. Three
// backends are available:
//
//   - memory: a mutex-guarded map, the default for small datasets
//   - disk: one spill file per page under a private temp directory
//   - redis: one key per page, namespaced by crawl run id, with a TTL so
//     abandoned runs expire on their own
//
// # Basic Usage
//
//	st, err := store.New(store.Config{Backend: store.BackendDisk, Dir: os.TempDir(), RunID: runID})
//	if err != nil {
//		return err
//	}
//	defer st.Close()
//
//	if err := st.Put(ctx, 3, docs); err != nil {
//		return err
//	}
//	docs, err := st.Get(ctx, 3)
//	if errors.Is(err, store.ErrNotFound) {
//		// page was never stored
//	}
//	_ = st.Delete(ctx, 3)
//
// Close releases everything the store still holds.
//
// # Metrics
//
//   - crawler_store_operations_total{backend, operation, result}
//   - crawler_store_bytes{backend} - bytes currently buffered
package store

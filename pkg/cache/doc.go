// Package cache provides the cache-aside store used in front of the Hacker
// News API, with an in-process and a Redis backend behind one typed contract.
//
// Both backends implement Cache[T]:
//
//   - Memory[T] keeps entries in a bounded LRU inside the process
//   - Redis[T] stores JSON-encoded entries in Redis with native TTLs, shared by
//     every instance pointed at the same server
//
// # Basic Usage
//
//	// Pick a backend once at startup: Redis when a client is configured,
//	// the in-process LRU otherwise.
//	ids, err := cache.New[[]int](redisClient, cache.DefaultPrefix, cache.DefaultMemorySize, logger)
//	if err != nil {
//		return err
//	}
//
//	value, ok, err := ids.GetOrCreate(ctx, cache.BestStoryIDsKey, func(ctx context.Context) ([]int, bool, error) {
//		ids, err := upstream.FetchBestStoryIDs(ctx)
//		return ids, len(ids) > 0, err
//	}, 5*time.Minute)
//
// # Cache-aside contract
//
// GetOrCreate returns an unexpired entry without calling the factory. On a
// miss it calls the factory once; a value reported as present is stored with
// the given TTL and returned, an empty result or an error is passed through
// untouched and nothing is stored.
//
// There is no per-key locking. Concurrent misses on the same key may each run
// the factory and the last write wins. Values are immutable snapshots, so
// the cost is a duplicate upstream call, never a corrupted entry.
//
// # Degradation
//
// The Redis backend never surfaces Redis failures: read errors and undecodable
// values are treated as misses, write errors are logged and the freshly
// computed value is still returned.
//
// # Metrics
//
//   - hn_cache_hits_total{backend} - Cache hits
//   - hn_cache_misses_total{backend} - Cache misses
//   - hn_cache_fills_total{backend} - Factory results written to the cache
//   - hn_cache_errors_total{backend,operation} - Backend errors (get, set, delete, decode)
package cache

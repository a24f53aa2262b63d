// Package swr is a keyed collection cache with stale-while-revalidate
// reads and optimistic writes, built as the data layer for Vango
// applications (or any Go program that wants one).
//
// The three moving parts:
//
//   - Store[T]: a process-wide cache of ordered collections, keyed by
//     Key. Consumers read with Get and observe with Subscribe; all
//     writes are whole-slice replacements through pure updaters.
//     Unobserved entries are evicted after an inactivity window.
//   - Query[T]: the read path. Fetches a collection from its source of
//     truth into the store, with stale-time, invalidation awareness and
//     optional retries.
//   - Mutation[T]: the write path. Submit inserts the new item into the
//     cache synchronously, issues the remote write in the background,
//     and then either reconciles the placeholder with the server's
//     canonical version or rolls it back and records the error.
//
// A minimal round trip:
//
//	store := swr.NewStore[Todo]()
//	defer store.Close()
//
//	key := swr.Key{"todos"}
//	query := swr.NewQuery(store, key, client.List)
//	query.Fetch(ctx)
//
//	create := swr.NewMutation(store, key, client.Create).
//		Identity(func(t Todo) any { return t.ID })
//	flight, err := create.Submit(ctx, Todo{Title: "buy milk"})
//
// See pkg/collection for the HTTP client used as Fetcher and Writer,
// pkg/broadcast for pushing invalidations between processes, and
// pkg/persist for persisting entries across restarts.
package swr

// Package cache provides result caching on top of a kv.Store.
//
// A Manager encodes values with a Codec (msgpack unless configured
// otherwise) and stores them with a time-to-live. Wrap turns any
// Func into a cached one: the first call for a given set of arguments runs
// the function and stores its result, later calls with equal arguments are
// answered from the store until the entry expires or is invalidated.
//
//	list := cache.Wrap(manager, cache.Options{Name: "tasks_by_owner", TTL: 5 * time.Minute}, repo.List)
//	page, err := list(ctx, query)
//
// Keys are built by a KeyStrategy. The canonical strategy keeps keys
// readable (tasks_by_owner:42:limit=20:skip=0) so that every entry
// belonging to an owner can be removed with Manager.Invalidate or
// Manager.ClearPattern(ctx, cache.Prefix("tasks_by_owner", 42)).
//
// The cache is strictly an optimization. When the store is unreachable
// every lookup is a miss and every write is dropped; wrapped functions keep
// returning correct results, only slower.
package cache

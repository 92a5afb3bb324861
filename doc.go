// Package tagcache implements a tag-indexed, lock-coordinated read-through
// cache for expensive computed results (e.g. GraphQL query responses) on
// top of a shared key-value store.
//
// Components:
//   - store.Store: shared byte store with TTLs, string sets and prefix scans
//     (Redis adapter included).
//   - lock.Client: distributed fill lease so only one process computes a
//     missing key (Redis SET NX client included).
//   - codec.Codec[V]: (de)serializes V <-> []byte.
//
// Keys (one shared namespace):
//
//	<key>              - cached entry bytes
//	<TypeName>         - set of keys depending on any instance of the type
//	<TypeName:ID>      - set of keys depending on one instance
//	operations:<key>   - set of tags the key depends on
//	lock:<key>         - fill lease (owned by the lock client)
//
// Read-through pattern:
//
//	v, res, err := cache.Get(ctx, key)
//	if err != nil { ... }            // corrupt entry
//	if res.Hit { return v }
//	v = compute()                    // this caller is the fill responder
//	cache.Set(ctx, key, v, entities, ttl) // or cache.OnSkipCache(ctx, key)
//
// Invalidation walks the tag index: Invalidate with an instance ref deletes
// every entry that read that instance; a type-level ref (empty ID) also
// folds in every known instance of the type.
package tagcache

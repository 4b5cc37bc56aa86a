package entitystore

import (
	cedartypes "github.com/cedar-policy/cedar-go/types"
)

// RequestCache is the Request-Scoped Entity Cache (C3): a write-once-per-
// identifier map seeded with the principal, action and resource of one
// authorization request, and filled on demand as the evaluator walks
// policy conditions that reference other entities. It is discarded at the
// end of the request -- callers construct a fresh one per dispatch-loop
// message, mirroring the original's "entities owned by the evaluator for
// the duration of one authorization call" ownership rule.
//
// Shaped after cedar-go's own CachedEntityGetter (types/cached_entity_map.go):
// a thin EntityGetter wrapper, but memoizing resolved entities themselves
// rather than precomputed ancestor sets, since this layer's cost is SQL
// round-trips, not hierarchy traversal.
type RequestCache struct {
	backing cedartypes.EntityGetter
	seen    map[cedartypes.EntityUID]cedartypes.Entity
	missing map[cedartypes.EntityUID]struct{}
}

// NewRequestCache seeds a cache for one authorization call with the
// request's principal, action, and resource, pre-resolving them against
// backing so the first call into Get for each is already memoized.
func NewRequestCache(backing cedartypes.EntityGetter, principal, action, resource cedartypes.EntityUID) *RequestCache {
	c := &RequestCache{
		backing: backing,
		seen:    make(map[cedartypes.EntityUID]cedartypes.Entity, 8),
		missing: make(map[cedartypes.EntityUID]struct{}),
	}
	for _, uid := range [...]cedartypes.EntityUID{principal, action, resource} {
		c.resolve(uid)
	}
	return c
}

// Get implements cedartypes.EntityGetter. The first lookup for a given
// identifier hits the backing store (or the seed); every subsequent
// lookup within the same request is served from memory.
func (c *RequestCache) Get(uid cedartypes.EntityUID) (cedartypes.Entity, bool) {
	if e, ok := c.seen[uid]; ok {
		return e, true
	}
	if _, ok := c.missing[uid]; ok {
		return cedartypes.Entity{}, false
	}
	return c.resolve(uid)
}

func (c *RequestCache) resolve(uid cedartypes.EntityUID) (cedartypes.Entity, bool) {
	e, ok := c.backing.Get(uid)
	if !ok {
		c.missing[uid] = struct{}{}
		return cedartypes.Entity{}, false
	}
	c.seen[uid] = e
	return e, true
}

var _ cedartypes.EntityGetter = (*RequestCache)(nil)

// Package cache implements the Decision Cache: the two-level, per-user
// materialization of shouldFilter's verdict for every installed AppId pair
// (spec.md §4.3).
//
// The cache is absent until the system becomes ready, then lives behind a
// single mutex — the "cache lock" of spec.md §5. A full rebuild publishes a
// brand-new table in one swap (matching the "published with release
// semantics" requirement without readers ever observing a half-built map);
// incremental updates mutate the published table in place under the same
// lock, matching the teacher's own RWMutex-guarded-store idiom
// (internal/ai/baseline/store.go in the reference stack).
package cache

import (
	"sync"

	"github.com/rcourtman/pkgvisibility/internal/appid"
)

// LookupResult distinguishes a true cache hit from the two "hard miss"
// shapes spec.md §7 calls out with distinct log levels, plus the
// not-yet-built state.
type LookupResult int

const (
	Hit LookupResult = iota
	RowMissing
	EntryMissing
	Absent
)

type table map[appid.Uid]map[appid.Uid]bool

// Cache is the Decision Cache.
type Cache struct {
	mu  sync.Mutex
	tbl table // nil until the first Publish
}

// New returns an empty, not-yet-published Cache.
func New() *Cache {
	return &Cache{}
}

// Present reports whether a table has been published at least once.
func (c *Cache) Present() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tbl != nil
}

// Lookup resolves caller->target. A RowMissing or EntryMissing result means
// the caller (or pair) is unknown to a cache that otherwise exists; callers
// must treat this as a hard miss and deny (spec.md §4.2 step 2, §7).
func (c *Cache) Lookup(caller, target appid.Uid) (filtered bool, result LookupResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tbl == nil {
		return false, Absent
	}
	row, ok := c.tbl[caller]
	if !ok {
		return true, RowMissing
	}
	v, ok := row[target]
	if !ok {
		return true, EntryMissing
	}
	return v, Hit
}

// Publish atomically replaces the table with a freshly rebuilt one.
func (c *Cache) Publish(fresh map[appid.Uid]map[appid.Uid]bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tbl = fresh
}

// Invalidate discards the published table, reverting to the not-ready state
// (used when onUsersChanged forces a synchronous rebuild from scratch).
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tbl = nil
}

// AddPackageRows computes and inserts rows for newApp against every entry of
// otherApps, in both directions, across every ordered pair of users
// (including a user paired with itself) — spec.md §4.3 "addPackage".
// compute must be the Decision Engine's uncached evaluation; Cache itself
// never imports the engine package, to keep the dependency one-directional.
func (c *Cache) AddPackageRows(newApp appid.AppId, otherApps []appid.AppId, users []appid.UserId, compute func(caller, target appid.Uid) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tbl == nil {
		return
	}

	for _, u1 := range users {
		for _, u2 := range users {
			newUid := appid.Encode(u1, newApp)
			for _, other := range otherApps {
				otherUid := appid.Encode(u2, other)
				c.setLocked(newUid, otherUid, compute(newUid, otherUid))
				c.setLocked(otherUid, newUid, compute(otherUid, newUid))
			}
		}
	}
}

// RemovePackageRows deletes every row keyed by an Uid carrying removedApp,
// and every inner entry keyed by such an Uid (spec.md §4.3 "removePackage").
func (c *Cache) RemovePackageRows(removedApp appid.AppId, users []appid.UserId) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tbl == nil {
		return
	}

	removedUids := make(map[appid.Uid]struct{}, len(users))
	for _, u := range users {
		removedUids[appid.Encode(u, removedApp)] = struct{}{}
	}

	for key := range removedUids {
		delete(c.tbl, key)
	}
	for _, row := range c.tbl {
		for key := range removedUids {
			delete(row, key)
		}
	}
}

// RecomputeRows recomputes every row keyed by a Uid carrying app, and every
// inner entry keyed by such a Uid, using compute for each. Used both by
// removePackage's sibling-recompute step and onCompatChange (spec.md §4.3).
func (c *Cache) RecomputeRows(app appid.AppId, allApps []appid.AppId, users []appid.UserId, compute func(caller, target appid.Uid) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tbl == nil {
		return
	}

	for _, u1 := range users {
		touched := appid.Encode(u1, app)
		for _, u2 := range users {
			for _, other := range allApps {
				if other == app {
					continue
				}
				otherUid := appid.Encode(u2, other)
				c.setLocked(touched, otherUid, compute(touched, otherUid))
				c.setLocked(otherUid, touched, compute(otherUid, touched))
			}
		}
	}
}

// SetCell installs a single verdict without touching the rest of the table
// (spec.md §4.3 grantImplicitAccess: "set cache[recipientUid][visibleUid] =
// false; only that one cell").
func (c *Cache) SetCell(caller, target appid.Uid, filtered bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tbl == nil {
		return
	}
	c.setLocked(caller, target, filtered)
}

func (c *Cache) setLocked(caller, target appid.Uid, filtered bool) {
	if c.tbl[caller] == nil {
		c.tbl[caller] = make(map[appid.Uid]bool)
	}
	c.tbl[caller][target] = filtered
}

// Package maintainer implements the Incremental Maintainer: the operations
// that keep the Relation Store and Decision Cache consistent as packages and
// users come and go (spec.md §4.3, §5), including the asynchronous full
// rebuild that publishes the Decision Cache for the first time at
// onSystemReady.
//
// Lock ordering mirrors the teacher's own re-entrant-callback idiom
// (internal/monitor's runWithState-shaped hooks): addPackage and
// removePackage are re-entrant invocations expected to already be running
// inside the State Provider's runWithState callback (package-manager lock
// held), and only then take the cache lock to touch the Decision Cache.
// singleflight coalesces concurrent onSystemReady rebuilds into one, the
// same tool the teacher uses to collapse duplicate in-flight work (see
// DESIGN.md); onUsersChanged rebuilds synchronously on the caller's
// goroutine, outside that group.
package maintainer

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rcourtman/pkgvisibility/internal/appid"
	"github.com/rcourtman/pkgvisibility/internal/cache"
	"github.com/rcourtman/pkgvisibility/internal/engine"
	"github.com/rcourtman/pkgvisibility/internal/pkgmodel"
	"github.com/rcourtman/pkgvisibility/internal/relation"
)

// StateProvider is the package-manager-lock-holding collaborator (spec.md
// §4.5). RunWithState must invoke cb synchronously on the calling
// goroutine while holding the lock.
type StateProvider interface {
	RunWithState(cb func(snap *pkgmodel.Snapshot))
}

// Maintainer is the Incremental Maintainer.
type Maintainer struct {
	Store   *relation.Store
	Cache   *cache.Cache
	Engine  *engine.Engine
	State   StateProvider
	Overlay relation.OverlayActor
	Logger  engine.Logger
	Metrics engine.Metrics

	// Run executes fn on the background executor (spec.md §5: "a dedicated
	// single-thread background executor"). Defaults to an unbounded
	// goroutine if left nil; callers wanting an actual single-thread
	// executor should set this to a function that posts to their own
	// worker's queue.
	Run func(fn func())

	rebuildGroup singleflight.Group
	mu           sync.Mutex // serializes rebuild bookkeeping only
}

func (m *Maintainer) run(fn func()) {
	if m.Run != nil {
		m.Run(fn)
		return
	}
	go fn()
}

// AddPackage incorporates pkg into the Relation Store and, if the Decision
// Cache has been published, computes its incremental rows (spec.md §4.3
// "addPackage"). Must be called from inside a runWithState callback.
func (m *Maintainer) AddPackage(pkg *pkgmodel.PackageSetting, snap *pkgmodel.Snapshot) {
	m.Store.Add(pkg, snap, m.Overlay)

	if !m.Cache.Present() {
		return
	}

	others := distinctOtherApps(snap, pkg.AppID)
	m.Cache.AddPackageRows(pkg.AppID, others, snap.ActiveUsers, m.uncachedComputeFor(snap))
	if m.Metrics != nil {
		m.Metrics.EdgeCount("package", countEdges(m.Store.QueriesViaPackage))
		m.Metrics.EdgeCount("component", countEdges(m.Store.QueriesViaComponent))
	}
}

// RemovePackage excises pkg from the Relation Store and, if the Decision
// Cache has been published, drops its rows and recomputes surviving
// shared-user siblings (spec.md §4.3 "removePackage"). snapAfter must
// reflect the package table with pkg already gone.
func (m *Maintainer) RemovePackage(pkg *pkgmodel.PackageSetting, snapAfter *pkgmodel.Snapshot) {
	siblingApps := map[appid.AppId]struct{}{}
	for _, p := range snapAfter.ByName {
		if p.AppID == pkg.AppID {
			siblingApps[p.AppID] = struct{}{}
		}
	}

	m.Store.Remove(pkg, snapAfter, m.Overlay)

	if !m.Cache.Present() {
		return
	}

	m.Cache.RemovePackageRows(pkg.AppID, snapAfter.ActiveUsers)

	if len(siblingApps) > 0 {
		allApps := allAppIds(snapAfter)
		for app := range siblingApps {
			m.Cache.RecomputeRows(app, allApps, snapAfter.ActiveUsers, m.uncachedComputeFor(snapAfter))
		}
	}
}

// ReplacePackage handles an in-place package update observed between
// reloads (spec.md §4.8): content changed but the name stayed put, so it is
// treated as the existing member leaving and a fresh one with the same name
// arriving, under the one post-change snapshot.
func (m *Maintainer) ReplacePackage(old, new *pkgmodel.PackageSetting, snap *pkgmodel.Snapshot) {
	m.RemovePackage(old, snap)
	m.AddPackage(new, snap)
}

// GrantImplicitAccess records runtime visibility in the Relation Store and
// installs the single fast-path cache cell (spec.md §4.3
// "grantImplicitAccess"). No-op if recipient == visible.
func (m *Maintainer) GrantImplicitAccess(recipient, visible appid.Uid) {
	m.Store.GrantImplicitAccess(recipient, visible)
	if recipient == visible {
		return
	}
	m.Cache.SetCell(recipient, visible, false)
}

// OnCompatChange recomputes every Decision Cache row touching pkgName's
// AppId after its FILTER_APPLICATION_QUERY compat flag flips (spec.md §4.3,
// §4.6).
func (m *Maintainer) OnCompatChange(pkgName string) {
	if !m.Cache.Present() {
		return
	}
	m.State.RunWithState(func(snap *pkgmodel.Snapshot) {
		p := snap.Lookup(pkgName)
		if p == nil {
			return
		}
		allApps := allAppIds(snap)
		m.Cache.RecomputeRows(p.AppID, allApps, snap.ActiveUsers, m.uncachedComputeFor(snap))
	})
}

// OnUsersChanged forces a synchronous full rebuild if a cache already
// exists (spec.md §4.3 "onUsersChanged": user-relative Uid space shifted,
// so every row is suspect).
func (m *Maintainer) OnUsersChanged() {
	if !m.Cache.Present() {
		return
	}
	m.Cache.Invalidate()
	m.rebuildSync()
}

// OnSystemReady kicks off the first asynchronous full rebuild (spec.md
// §4.3). Concurrent calls are coalesced via singleflight so only one
// rebuild protocol runs at a time.
func (m *Maintainer) OnSystemReady() {
	m.run(func() {
		m.rebuildAsync()
	})
}

// rebuildAsync implements spec.md §4.3's three-step protocol: snapshot
// under the lock, compute without it, verify and publish under the lock
// again; on staleness, retry synchronously exactly once (spec.md §5, §7).
func (m *Maintainer) rebuildAsync() {
	m.rebuildGroup.Do("rebuild", func() (any, error) {
		if m.Metrics != nil {
			m.Metrics.RebuildStarted()
		}
		start := time.Now()

		snap, version := m.captureSnapshot()
		fresh := m.computeFullTable(snap)

		stillCurrent := false
		m.State.RunWithState(func(verify *pkgmodel.Snapshot) {
			stillCurrent = sameVersion(version, fingerprintSnapshot(verify))
		})

		if stillCurrent {
			m.Cache.Publish(fresh)
			if m.Metrics != nil {
				m.Metrics.RebuildCompleted(time.Since(start).Seconds(), len(allAppIds(snap)))
			}
			return nil, nil
		}

		if m.Logger != nil {
			m.Logger.Warn("rebuild_snapshot_stale_retrying_sync", nil)
		}
		m.rebuildSync()
		return nil, nil
	})
}

// rebuildSync runs the same computation synchronously, under the lock for
// its full duration (the retry path, and onUsersChanged's forced rebuild).
func (m *Maintainer) rebuildSync() {
	start := time.Now()
	var fresh map[appid.Uid]map[appid.Uid]bool
	var appCount int
	m.State.RunWithState(func(snap *pkgmodel.Snapshot) {
		fresh = m.computeFullTable(snap)
		appCount = len(allAppIds(snap))
	})
	m.Cache.Publish(fresh)
	if m.Metrics != nil {
		m.Metrics.RebuildCompleted(time.Since(start).Seconds(), appCount)
	}
}

func (m *Maintainer) captureSnapshot() (*pkgmodel.Snapshot, map[string]string) {
	var snap *pkgmodel.Snapshot
	m.State.RunWithState(func(s *pkgmodel.Snapshot) {
		snap = &pkgmodel.Snapshot{ByName: s.ByName, ActiveUsers: s.ActiveUsers}
	})
	return snap, fingerprintSnapshot(snap)
}

// fingerprintSnapshot captures enough to detect a concurrent mutation
// without retaining package references past the runWithState boundary
// (spec.md §4.5): the key set and each package's Version.
func fingerprintSnapshot(snap *pkgmodel.Snapshot) map[string]string {
	out := make(map[string]string, len(snap.ByName))
	for name, p := range snap.ByName {
		out[name] = p.Version.String()
	}
	return out
}

func sameVersion(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// computeFullTable evaluates the uncached Decision Engine path for every
// ordered pair of distinct AppIds across every ordered pair of users
// (spec.md §4.3 step 2).
func (m *Maintainer) computeFullTable(snap *pkgmodel.Snapshot) map[appid.Uid]map[appid.Uid]bool {
	apps := allAppIds(snap)
	identities := identitiesByApp(snap)

	fresh := make(map[appid.Uid]map[appid.Uid]bool)
	for _, callerApp := range apps {
		identity := identities[callerApp]
		for _, u1 := range snap.ActiveUsers {
			callerUid := appid.Encode(u1, callerApp)
			row := make(map[appid.Uid]bool, len(apps))
			for _, targetApp := range apps {
				if targetApp == callerApp {
					continue
				}
				for _, u2 := range snap.ActiveUsers {
					targetUid := appid.Encode(u2, targetApp)
					row[targetUid] = m.evaluatePair(callerUid, targetUid, identity, callerApp, targetApp)
				}
			}
			fresh[callerUid] = row
		}
	}
	return fresh
}

func (m *Maintainer) evaluatePair(callerUid, targetUid appid.Uid, identity []*pkgmodel.PackageSetting, callerApp, targetApp appid.AppId) bool {
	if callerApp.IsPrivileged() || targetApp.IsPrivileged() {
		return false
	}
	if m.Store.HasImplicitEdge(callerUid, targetUid) {
		return false
	}
	return m.Engine.EvaluateUncachedIdentity(identity, callerApp, targetApp)
}

func (m *Maintainer) uncachedComputeFor(snap *pkgmodel.Snapshot) func(caller, target appid.Uid) bool {
	identities := identitiesByApp(snap)
	return func(caller, target appid.Uid) bool {
		return m.evaluatePair(caller, target, identities[caller.App()], caller.App(), target.App())
	}
}

func identitiesByApp(snap *pkgmodel.Snapshot) map[appid.AppId][]*pkgmodel.PackageSetting {
	out := make(map[appid.AppId][]*pkgmodel.PackageSetting)
	for _, p := range snap.ByName {
		out[p.AppID] = append(out[p.AppID], p)
	}
	return out
}

func allAppIds(snap *pkgmodel.Snapshot) []appid.AppId {
	seen := map[appid.AppId]struct{}{}
	var out []appid.AppId
	for _, p := range snap.ByName {
		if _, ok := seen[p.AppID]; ok {
			continue
		}
		seen[p.AppID] = struct{}{}
		out = append(out, p.AppID)
	}
	return out
}

func distinctOtherApps(snap *pkgmodel.Snapshot, exclude appid.AppId) []appid.AppId {
	var out []appid.AppId
	for _, app := range allAppIds(snap) {
		if app != exclude {
			out = append(out, app)
		}
	}
	return out
}

func countEdges(m map[appid.AppId]map[appid.AppId]struct{}) int {
	n := 0
	for _, inner := range m {
		n += len(inner)
	}
	return n
}

// Package engine implements the Decision Engine: shouldFilter's precedence
// chain (spec.md §4.2) and visibilityWhitelist (spec.md §4.4). The
// dumpQueries content is assembled by package dumpfmt.
//
// The engine depends on its collaborators only through the narrow
// interfaces declared here (spec.md §9 design note), so a caller can swap in
// a prometheus/zerolog pair (internal/telemetry) or test doubles without the
// engine importing either concrete package.
package engine

import (
	"sort"

	"github.com/rcourtman/pkgvisibility/internal/appid"
	"github.com/rcourtman/pkgvisibility/internal/cache"
	"github.com/rcourtman/pkgvisibility/internal/pkgmodel"
	"github.com/rcourtman/pkgvisibility/internal/relation"
)

// Logger is the anomaly/audit logging collaborator (spec.md §7).
type Logger interface {
	WTF(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Blocked(msg string, fields map[string]any)
}

// Metrics is the counters collaborator.
type Metrics interface {
	CacheHit()
	CacheMiss(kind string)
	RebuildStarted()
	RebuildCompleted(seconds float64, appCount int)
	RebuildFailed()
	EdgeCount(kind string, n int)
}

// FeatureConfig is the Feature Config collaborator (spec.md §4.6).
type FeatureConfig interface {
	IsGloballyEnabled() bool
	PackageIsEnabled(pkgName string) bool
	// IsLoggingEnabled reports whether callerAppID is opted into BLOCKED
	// verdict logging (spec.md §7).
	IsLoggingEnabled(callerAppID appid.AppId) bool
}

// StateProvider lets the engine run a read-only pass over the current
// package table under the package-manager lock, needed for the caller's
// shared-user identity checks (steps c and g of spec.md §4.2) and for
// draining a pending component recompute (step j).
type StateProvider interface {
	RunWithState(fn func(snap *pkgmodel.Snapshot))
}

// Engine is the Decision Engine.
type Engine struct {
	Store    *relation.Store
	Cache    *cache.Cache
	Features FeatureConfig
	State    StateProvider
	Logger   Logger
	Metrics  Metrics

	// DebugAllowAll is a build-time escape hatch (spec.md §4.2 design note):
	// when set, ShouldFilter never filters, regardless of any other state.
	DebugAllowAll bool
}

// ShouldFilter decides whether callerUid may observe targetSetting, a
// package installed for targetUserID. callerSetting is the caller's own
// record; targetSetting is nil if the target package has been uninstalled
// mid-query. This is spec.md §4.2's precedence chain.
func (e *Engine) ShouldFilter(callerUid appid.Uid, callerSetting, targetSetting *pkgmodel.PackageSetting, targetUserID appid.UserId) bool {
	if e.DebugAllowAll {
		return false
	}

	callerAppID := callerUid.App()
	if callerAppID.IsPrivileged() {
		return false
	}
	if targetSetting == nil {
		// Target package vanished between lookup and evaluation: the
		// conservative answer is the same one an absent cache row gives.
		return true
	}
	if targetSetting.AppID.IsPrivileged() || callerAppID == targetSetting.AppID {
		return false
	}

	targetUid := appid.Encode(targetUserID, targetSetting.AppID)

	if e.Cache != nil && e.Cache.Present() {
		filtered, result := e.Cache.Lookup(callerUid, targetUid)
		switch result {
		case cache.Hit:
			if e.Metrics != nil {
				e.Metrics.CacheHit()
			}
			return filtered
		case cache.RowMissing:
			e.logMiss("row", callerUid, targetUid)
			return true
		case cache.EntryMissing:
			e.logMiss("entry", callerUid, targetUid)
			return true
		}
		// cache.Absent falls through to the uncached path below.
	}

	return e.shouldFilterUncached(callerUid, targetUid, callerSetting, targetSetting)
}

func (e *Engine) logMiss(kind string, caller, target appid.Uid) {
	if e.Metrics != nil {
		e.Metrics.CacheMiss(kind)
	}
	fields := map[string]any{"caller_uid": caller.String(), "target_uid": target.String()}
	if e.Logger == nil {
		return
	}
	if kind == "row" {
		e.Logger.WTF("decision_cache_row_missing", fields)
	} else {
		e.Logger.Warn("decision_cache_entry_missing", fields)
	}
}

// shouldFilterUncached runs the uncached fallback, used only while no
// Decision Cache has been published (a published cache answers every query,
// a missing row or entry included). It applies step b, then step k (an
// implicit-access grant; checked ahead of the remaining steps, which can only
// also answer "do not filter" before m), then EvaluateUncachedIdentity's
// steps. Overlay actors (step l) are not consulted.
func (e *Engine) shouldFilterUncached(callerUid, targetUid appid.Uid, callerSetting, targetSetting *pkgmodel.PackageSetting) bool {
	if callerSetting == nil {
		if e.Logger != nil {
			e.Logger.WTF("caller_setting_nil", map[string]any{"caller_uid": callerUid.String()})
		}
		return true // b
	}

	if e.Store.HasImplicitEdge(callerUid, targetUid) {
		return false // k
	}

	var identity []*pkgmodel.PackageSetting
	if e.State != nil {
		e.State.RunWithState(func(snap *pkgmodel.Snapshot) {
			identity = snap.Siblings(callerSetting.AppID, "")
		})
	}
	if len(identity) == 0 {
		identity = []*pkgmodel.PackageSetting{callerSetting}
	}

	return e.EvaluateUncachedIdentity(identity, callerSetting.AppID, targetSetting.AppID)
}

// EvaluateUncachedIdentity runs the uncached fallback (spec.md §4.2 steps
// a,c,e,g,h,i,j) given the caller's already-resolved shared-user identity
// set and both AppIds, skipping the nil-caller and privileged/reflexive
// checks ShouldFilter already applied. The Uid-keyed implicit-access check
// (step k) is not part of it; callers holding both Uids apply it themselves.
// Exposed so the Decision Cache's full rebuild and incremental updates
// (internal/maintainer) reuse the same AppId-level evaluation the live path
// uses.
func (e *Engine) EvaluateUncachedIdentity(callerIdentity []*pkgmodel.PackageSetting, callerAppID, targetAppID appid.AppId) bool {
	if e.Features != nil && !e.Features.IsGloballyEnabled() {
		return false // a: master switch off
	}

	if e.Features != nil {
		allDisabled := true
		for _, p := range callerIdentity {
			if e.Features.PackageIsEnabled(p.Name) {
				allDisabled = false
				break
			}
		}
		if allDisabled {
			return false // c
		}
	}

	if e.Store.IsStaticSharedLibrary(targetAppID) {
		return false // e: a separate mechanism governs static-library access
	}

	for _, p := range callerIdentity {
		if relation.RequestsQueryAllPackages(p) {
			return false // g
		}
	}

	if e.Store.IsForceQueryable(targetAppID) {
		return false // h
	}

	if e.Store.HasPackageEdge(callerAppID, targetAppID) {
		return false // i
	}

	if e.Store.ComponentRecomputeRequired && e.State != nil {
		e.State.RunWithState(func(*pkgmodel.Snapshot) {
			e.Store.RecomputeComponentEdges()
		})
	}
	if e.Store.HasComponentEdge(callerAppID, targetAppID) {
		return false // j
	}

	e.logBlocked(callerAppID, targetAppID)
	return true // m: no relation found
}

// logBlocked emits the BLOCKED verdict spec.md §7 describes, suppressed
// unless callerAppID is opted into per-package logging.
func (e *Engine) logBlocked(callerAppID, targetAppID appid.AppId) {
	if e.Logger == nil || e.Features == nil || !e.Features.IsLoggingEnabled(callerAppID) {
		return
	}
	e.Logger.Blocked("query_filtered", map[string]any{
		"caller_app_id": int32(callerAppID),
		"target_app_id": int32(targetAppID),
	})
}

// VisibilityWhitelist answers "which callers may currently see target"
// (spec.md §4.4): nil with visibleToAll=true means "visible to all" (target
// is force-queryable); otherwise, for every active user, every AppId at or
// above FirstAppID is walked and shouldFilter'd against target, and the
// non-filtered ones are accumulated into a sorted, deduplicated list.
func (e *Engine) VisibilityWhitelist(target *pkgmodel.PackageSetting, snap *pkgmodel.Snapshot) (whitelist map[appid.UserId][]appid.AppId, visibleToAll bool) {
	if e.Store.IsForceQueryable(target.AppID) {
		return nil, true
	}

	representative := make(map[appid.AppId]*pkgmodel.PackageSetting)
	var candidates []appid.AppId
	for _, p := range snap.ByName {
		if !p.AppID.IsPrivileged() {
			if _, ok := representative[p.AppID]; !ok {
				candidates = append(candidates, p.AppID)
			}
			representative[p.AppID] = p
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })

	whitelist = make(map[appid.UserId][]appid.AppId, len(snap.ActiveUsers))
	for _, user := range snap.ActiveUsers {
		var visible []appid.AppId
		for _, candidateApp := range candidates {
			callerUid := appid.Encode(user, candidateApp)
			callerSetting := representative[candidateApp]
			if !e.ShouldFilter(callerUid, callerSetting, target, user) {
				visible = append(visible, candidateApp)
			}
		}
		whitelist[user] = visible
	}
	return whitelist, false
}

package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rcourtman/pkgvisibility/internal/appid"
	"github.com/rcourtman/pkgvisibility/internal/cache"
	"github.com/rcourtman/pkgvisibility/internal/pkgmodel"
	"github.com/rcourtman/pkgvisibility/internal/relation"
)

type fakeFeatures struct {
	globallyEnabled bool
	disabled        map[string]bool
	loggingEnabled  map[appid.AppId]bool
}

func (f *fakeFeatures) IsGloballyEnabled() bool { return f.globallyEnabled }
func (f *fakeFeatures) PackageIsEnabled(name string) bool {
	return !f.disabled[name]
}
func (f *fakeFeatures) IsLoggingEnabled(id appid.AppId) bool { return f.loggingEnabled[id] }

func pkg(name string, app appid.AppId) *pkgmodel.PackageSetting {
	return &pkgmodel.PackageSetting{Name: name, AppID: app, Manifest: &pkgmodel.ManifestView{}}
}

func newTestEngine() (*Engine, *relation.Store) {
	store := relation.NewStore(relation.DeviceConfig{})
	e := &Engine{
		Store:    store,
		Cache:    cache.New(),
		Features: &fakeFeatures{globallyEnabled: true},
	}
	return e, store
}

func TestShouldFilter_ReflexiveNeverFiltered(t *testing.T) {
	e, _ := newTestEngine()
	a := pkg("A", 10100)
	callerUid := appid.Encode(0, a.AppID)
	assert.False(t, e.ShouldFilter(callerUid, a, a, 0))
}

func TestShouldFilter_PrivilegedCallerExempt(t *testing.T) {
	e, _ := newTestEngine()
	privileged := appid.Encode(0, 2000)
	target := pkg("target", 10100)
	assert.False(t, e.ShouldFilter(privileged, nil, target, 0))
}

func TestShouldFilter_PrivilegedTargetExempt(t *testing.T) {
	e, _ := newTestEngine()
	caller := pkg("caller", 10100)
	callerUid := appid.Encode(0, caller.AppID)
	target := pkg("android", 2000)
	assert.False(t, e.ShouldFilter(callerUid, caller, target, 0))
}

func TestShouldFilter_NoRelationIsFiltered(t *testing.T) {
	e, _ := newTestEngine()
	a := pkg("A", 10100)
	b := pkg("B", 10101)
	callerUid := appid.Encode(0, a.AppID)
	assert.True(t, e.ShouldFilter(callerUid, a, b, 0))
}

func TestShouldFilter_ForceQueryableTargetNeverFiltered(t *testing.T) {
	e, store := newTestEngine()
	a := pkg("A", 10100)
	b := pkg("B", 10101)
	store.ForceQueryable[b.AppID] = struct{}{}
	callerUid := appid.Encode(0, a.AppID)
	assert.False(t, e.ShouldFilter(callerUid, a, b, 0))
}

func TestShouldFilter_PackageEdgeGrantsVisibility(t *testing.T) {
	e, store := newTestEngine()
	a := pkg("A", 10100)
	b := pkg("B", 10101)
	store.Add(a, &pkgmodel.Snapshot{ByName: map[string]*pkgmodel.PackageSetting{"A": a, "B": b}, ActiveUsers: []appid.UserId{0}}, nil)
	b.Manifest.Queries.Packages = []string{"A"}
	store.Add(b, &pkgmodel.Snapshot{ByName: map[string]*pkgmodel.PackageSetting{"A": a, "B": b}, ActiveUsers: []appid.UserId{0}}, nil)

	callerUid := appid.Encode(0, b.AppID)
	assert.False(t, e.ShouldFilter(callerUid, b, a, 0))

	reverseUid := appid.Encode(0, a.AppID)
	assert.True(t, e.ShouldFilter(reverseUid, a, b, 0))
}

func TestShouldFilter_MasterSwitchOffDisablesFiltering(t *testing.T) {
	e, _ := newTestEngine()
	e.Features = &fakeFeatures{globallyEnabled: false}
	a := pkg("A", 10100)
	b := pkg("B", 10101)
	callerUid := appid.Encode(0, a.AppID)
	assert.False(t, e.ShouldFilter(callerUid, a, b, 0))
}

func TestShouldFilter_TargetAbsentIsFiltered(t *testing.T) {
	e, _ := newTestEngine()
	a := pkg("A", 10100)
	callerUid := appid.Encode(0, a.AppID)
	assert.True(t, e.ShouldFilter(callerUid, a, nil, 0))
}

func TestShouldFilter_CacheHitShortCircuitsStore(t *testing.T) {
	e, _ := newTestEngine()
	a := pkg("A", 10100)
	b := pkg("B", 10101)
	callerUid := appid.Encode(0, a.AppID)
	targetUid := appid.Encode(0, b.AppID)

	e.Cache.Publish(map[appid.Uid]map[appid.Uid]bool{callerUid: {targetUid: false}})
	assert.False(t, e.ShouldFilter(callerUid, a, b, 0), "cached false verdict must win even though the store has no edge")
}

func TestShouldFilter_CacheRowMissingIsHardMiss(t *testing.T) {
	e, _ := newTestEngine()
	a := pkg("A", 10100)
	b := pkg("B", 10101)
	e.Cache.Publish(map[appid.Uid]map[appid.Uid]bool{})
	callerUid := appid.Encode(0, a.AppID)
	assert.True(t, e.ShouldFilter(callerUid, a, b, 0))
}

func TestShouldFilter_DebugAllowAllNeverFilters(t *testing.T) {
	e, _ := newTestEngine()
	e.DebugAllowAll = true
	a := pkg("A", 10100)
	b := pkg("B", 10101)
	callerUid := appid.Encode(0, a.AppID)
	assert.False(t, e.ShouldFilter(callerUid, a, b, 0))
}

func TestVisibilityWhitelist_QueryAllPackagesCallerSeesTarget(t *testing.T) {
	e, _ := newTestEngine()
	a := pkg("A", 10100)
	a.Manifest.RequestedPermissions = []string{"android.permission.QUERY_ALL_PACKAGES"}
	b := pkg("B", 10101)
	snap := &pkgmodel.Snapshot{ByName: map[string]*pkgmodel.PackageSetting{"A": a, "B": b}, ActiveUsers: []appid.UserId{0}}

	whitelist, visibleToAll := e.VisibilityWhitelist(b, snap)
	assert.False(t, visibleToAll)
	assert.Contains(t, whitelist[0], a.AppID)
}

func TestVisibilityWhitelist_ForceQueryableTargetIsVisibleToAll(t *testing.T) {
	e, store := newTestEngine()
	a := pkg("A", 10100)
	b := pkg("B", 10101)
	store.ForceQueryable[b.AppID] = struct{}{}
	snap := &pkgmodel.Snapshot{ByName: map[string]*pkgmodel.PackageSetting{"A": a, "B": b}, ActiveUsers: []appid.UserId{0}}

	whitelist, visibleToAll := e.VisibilityWhitelist(b, snap)
	assert.True(t, visibleToAll)
	assert.Nil(t, whitelist)
}

func TestVisibilityWhitelist_NoRelationExcludesCaller(t *testing.T) {
	e, _ := newTestEngine()
	a := pkg("A", 10100)
	b := pkg("B", 10101)
	snap := &pkgmodel.Snapshot{ByName: map[string]*pkgmodel.PackageSetting{"A": a, "B": b}, ActiveUsers: []appid.UserId{0}}

	whitelist, visibleToAll := e.VisibilityWhitelist(b, snap)
	assert.False(t, visibleToAll)
	assert.NotContains(t, whitelist[0], a.AppID)
}

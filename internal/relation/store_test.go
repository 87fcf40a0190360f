package relation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcourtman/pkgvisibility/internal/appid"
	"github.com/rcourtman/pkgvisibility/internal/pkgmodel"
)

func pkg(name string, app appid.AppId) *pkgmodel.PackageSetting {
	return &pkgmodel.PackageSetting{
		Name:     name,
		AppID:    app,
		Manifest: &pkgmodel.ManifestView{},
	}
}

func snapshotOf(pkgs ...*pkgmodel.PackageSetting) *pkgmodel.Snapshot {
	m := make(map[string]*pkgmodel.PackageSetting, len(pkgs))
	for _, p := range pkgs {
		m[p.Name] = p
	}
	return &pkgmodel.Snapshot{ByName: m, ActiveUsers: []appid.UserId{0}}
}

// Scenario 1 (spec.md §8): neither package declares any relation, so both
// directions are filtered.
func TestScenario1_NoRelationMutuallyInvisible(t *testing.T) {
	s := NewStore(DeviceConfig{})
	a := pkg("A", 10100)
	b := pkg("B", 10101)
	snap := snapshotOf(a, b)

	s.Add(a, snap, nil)
	s.Add(b, snap, nil)

	assert.False(t, s.HasPackageEdge(a.AppID, b.AppID))
	assert.False(t, s.HasPackageEdge(b.AppID, a.AppID))
	assert.False(t, s.HasComponentEdge(a.AppID, b.AppID))
	assert.False(t, s.HasComponentEdge(b.AppID, a.AppID))
}

// Scenario 2: B declares <queries><package android:name="A"/></queries>.
func TestScenario2_QueriesPackageIsDirectional(t *testing.T) {
	s := NewStore(DeviceConfig{})
	a := pkg("A", 10100)
	b := pkg("B", 10101)
	b.Manifest.Queries.Packages = []string{"A"}
	snap := snapshotOf(a, b)

	s.Add(a, snap, nil)
	s.Add(b, snap, nil)

	assert.True(t, s.HasPackageEdge(b.AppID, a.AppID), "B should see A")
	assert.False(t, s.HasPackageEdge(a.AppID, b.AppID), "A should not see B")
}

// Scenario 3: B's <queries> intent matches A's exported activity.
func TestScenario3_QueriesIntentMatchesActivity(t *testing.T) {
	s := NewStore(DeviceConfig{})
	a := pkg("A", 10100)
	a.Manifest.Components = []pkgmodel.Component{{
		Kind:     pkgmodel.Activity,
		Exported: true,
		Filters:  []pkgmodel.IntentFilter{{Actions: []string{"foo.ACTION"}}},
	}}
	b := pkg("B", 10101)
	b.Manifest.Queries.Intents = []pkgmodel.IntentFilter{{Actions: []string{"foo.ACTION"}}}
	snap := snapshotOf(a, b)

	s.Add(a, snap, nil)
	s.Add(b, snap, nil)

	assert.True(t, s.HasComponentEdge(b.AppID, a.AppID))
	assert.False(t, s.HasComponentEdge(a.AppID, b.AppID))
}

// Scenario 4: same as 3 but against a receiver, and a third package P
// declares the action protected; filter must be true (no edge) until P is
// removed and a component recompute runs.
func TestScenario4_ProtectedBroadcastSuppressesReceiverEdge(t *testing.T) {
	s := NewStore(DeviceConfig{})
	a := pkg("A", 10100)
	a.Manifest.Components = []pkgmodel.Component{{
		Kind:     pkgmodel.Receiver,
		Exported: true,
		Filters:  []pkgmodel.IntentFilter{{Actions: []string{"foo.ACTION"}}},
	}}
	b := pkg("B", 10101)
	b.Manifest.Queries.Intents = []pkgmodel.IntentFilter{{Actions: []string{"foo.ACTION"}}}
	p := pkg("P", 10102)
	p.Manifest.ProtectedBroadcasts = []string{"foo.ACTION"}

	snap := snapshotOf(a, b, p)

	s.Add(a, snap, nil)
	s.Add(b, snap, nil)
	s.Add(p, snap, nil)

	require.True(t, s.ComponentRecomputeRequired, "declaring a protected broadcast after A/B edges were attempted must require a recompute")
	s.RecomputeComponentEdges()
	assert.False(t, s.HasComponentEdge(b.AppID, a.AppID), "protected action must suppress the receiver edge")

	snapAfterRemoveP := snapshotOf(a, b)
	s.Remove(p, snapAfterRemoveP, nil)
	require.True(t, s.ComponentRecomputeRequired, "losing the last declarer of a protected action must require a recompute")
	s.RecomputeComponentEdges()
	assert.True(t, s.HasComponentEdge(b.AppID, a.AppID), "edge must be restored once the protection is gone")
}

// Scenario 5: A is B's installer.
func TestScenario5_InstallerVisibilityIsDirectional(t *testing.T) {
	s := NewStore(DeviceConfig{})
	a := pkg("A", 10100)
	b := pkg("B", 10101)
	b.InstallSource.InstallerPackageName = "A"
	snap := snapshotOf(a, b)

	s.Add(a, snap, nil)
	s.Add(b, snap, nil)

	assert.True(t, s.HasPackageEdge(a.AppID, b.AppID))
	assert.False(t, s.HasPackageEdge(b.AppID, a.AppID))
}

// Scenario 7: a platform-signed system package arrives after two ordinary
// system packages sharing its signing identity; both are retroactively
// promoted to forceQueryable.
func TestScenario7_PlatformArrivalRetroactivelyPromotes(t *testing.T) {
	s := NewStore(DeviceConfig{})
	fp := pkgmodel.ComputeFingerprint([][]byte{[]byte("platform-cert")})

	sysA := pkg("sysA", 10050)
	sysA.IsSystem = true
	sysA.Signature = fp
	sysB := pkg("sysB", 10051)
	sysB.IsSystem = true
	sysB.Signature = fp

	platform := pkg(appid.PlatformPackageName, 1000)
	platform.Signature = fp

	snap := snapshotOf(sysA, sysB, platform)

	s.Add(sysA, snap, nil)
	s.Add(sysB, snap, nil)
	require.False(t, s.IsForceQueryable(sysA.AppID))

	s.Add(platform, snap, nil)

	assert.True(t, s.IsForceQueryable(sysA.AppID))
	assert.True(t, s.IsForceQueryable(sysB.AppID))
}

func TestInstrumentationIsSymmetric(t *testing.T) {
	s := NewStore(DeviceConfig{})
	a := pkg("A", 10100)
	b := pkg("B", 10101)
	a.Manifest.Instrumentations = []string{"B"}
	snap := snapshotOf(a, b)

	s.Add(a, snap, nil)
	s.Add(b, snap, nil)

	assert.True(t, s.HasPackageEdge(a.AppID, b.AppID))
	assert.True(t, s.HasPackageEdge(b.AppID, a.AppID))
}

func TestGrantImplicitAccessIsDirectionalAndSelfIsNoop(t *testing.T) {
	s := NewStore(DeviceConfig{})
	u1 := appid.Encode(0, 10100)
	u2 := appid.Encode(0, 10101)

	s.GrantImplicitAccess(u1, u1)
	assert.False(t, s.HasImplicitEdge(u1, u1), "granting to self must be a no-op")

	s.GrantImplicitAccess(u1, u2)
	assert.True(t, s.HasImplicitEdge(u1, u2))
	assert.False(t, s.HasImplicitEdge(u2, u1))
}

func TestAddThenRemoveIdempotence(t *testing.T) {
	s := NewStore(DeviceConfig{})
	a := pkg("A", 10100)
	b := pkg("B", 10101)
	b.Manifest.Queries.Packages = []string{"A"}
	snap := snapshotOf(a, b)

	s.Add(a, snap, nil)
	before := cloneEdgeCounts(s)

	s.Add(b, snap, nil)
	s.Remove(b, snapshotOf(a), nil)

	after := cloneEdgeCounts(s)
	assert.Equal(t, before, after, "add-then-remove must restore the store to its pre-add shape")
}

// Removing one shared-user member wipes the whole AppId row from
// queriesViaPackage (keyed by AppId, not by the specific member name), which
// would collaterally erase edges earned by a *surviving* sibling. The
// re-add-siblings step in Remove exists precisely to restore those.
func TestSharedUserSymmetryAfterSiblingRemoval(t *testing.T) {
	s := NewStore(DeviceConfig{})
	shared := appid.AppId(10100)
	m1 := pkg("member1", shared)
	m2 := pkg("member2", shared)
	other := pkg("other", 10200)
	other.Manifest.Queries.Packages = []string{"member2"}

	snap := snapshotOf(m1, m2, other)
	s.Add(m1, snap, nil)
	s.Add(m2, snap, nil)
	s.Add(other, snap, nil)

	require.True(t, s.HasPackageEdge(other.AppID, shared), "other queries member2 by name")

	snapAfterRemove := snapshotOf(m2, other)
	s.Remove(m1, snapAfterRemove, nil)

	assert.True(t, s.HasPackageEdge(other.AppID, shared),
		"removing the unrelated sibling member1 must not collaterally drop the edge earned by surviving member2")
}

func cloneEdgeCounts(s *Store) map[string]int {
	return map[string]int{
		"forceQueryable": len(s.ForceQueryable),
		"viaPackage":     countEdges(s.QueriesViaPackage),
		"viaComponent":   countEdges(s.QueriesViaComponent),
	}
}

func countEdges(m map[appid.AppId]map[appid.AppId]struct{}) int {
	n := 0
	for _, inner := range m {
		n += len(inner)
	}
	return n
}

// Package relation implements the Relation Store: the normalized graph of
// pairwise visibility relations keyed by AppId, and its incremental
// maintenance rules (spec.md §3, §4.1).
//
// The store holds no lock of its own — per spec.md §5 it is guarded by the
// external package-manager lock, i.e. every mutating call here must happen
// from inside the State Provider's runWithState callback. Modeling it
// lock-free keeps that invariant explicit at the type level instead of
// hidden behind a second, redundant mutex.
package relation

import (
	"sort"

	"github.com/rcourtman/pkgvisibility/internal/appid"
	"github.com/rcourtman/pkgvisibility/internal/pkgmodel"
)

// OverlayActor abstracts the overlay-target-discovery collaborator (spec.md
// §4.2 step l, §9 design note: "abstract behind narrow interfaces").
type OverlayActor interface {
	OnPackageAdded(pkg *pkgmodel.PackageSetting)
	OnPackageRemoved(pkg *pkgmodel.PackageSetting)
	IsValidActor(caller, target *pkgmodel.PackageSetting) bool
}

// NoopOverlay is the zero-collaborator default.
type NoopOverlay struct{}

func (NoopOverlay) OnPackageAdded(*pkgmodel.PackageSetting)          {}
func (NoopOverlay) OnPackageRemoved(*pkgmodel.PackageSetting)        {}
func (NoopOverlay) IsValidActor(*pkgmodel.PackageSetting, *pkgmodel.PackageSetting) bool {
	return false
}

// DeviceConfig carries the two configuration inputs read once at
// construction (spec.md §6).
type DeviceConfig struct {
	ForceQueryableList     map[string]struct{}
	AllSystemAppsQueryable bool
}

// Store is the Relation Store.
type Store struct {
	known map[string]*pkgmodel.PackageSetting

	ForceQueryable             map[appid.AppId]struct{}
	StaticSharedLibraries      map[appid.AppId]struct{}
	QueriesViaPackage          map[appid.AppId]map[appid.AppId]struct{}
	QueriesViaComponent        map[appid.AppId]map[appid.AppId]struct{}
	ImplicitlyQueryable        map[appid.Uid]map[appid.Uid]struct{}
	ProtectedBroadcasts        map[string]struct{}
	ComponentRecomputeRequired bool
	PlatformFingerprint        *pkgmodel.Fingerprint

	Device DeviceConfig
}

// NewStore constructs an empty Relation Store.
func NewStore(device DeviceConfig) *Store {
	if device.ForceQueryableList == nil {
		device.ForceQueryableList = map[string]struct{}{}
	}
	return &Store{
		known:                 make(map[string]*pkgmodel.PackageSetting),
		ForceQueryable:        make(map[appid.AppId]struct{}),
		StaticSharedLibraries: make(map[appid.AppId]struct{}),
		QueriesViaPackage:     make(map[appid.AppId]map[appid.AppId]struct{}),
		QueriesViaComponent:   make(map[appid.AppId]map[appid.AppId]struct{}),
		ImplicitlyQueryable:   make(map[appid.Uid]map[appid.Uid]struct{}),
		ProtectedBroadcasts:   make(map[string]struct{}),
		Device:                device,
	}
}

// IsForceQueryable reports whether id is unconditionally visible.
func (s *Store) IsForceQueryable(id appid.AppId) bool {
	_, ok := s.ForceQueryable[id]
	return ok
}

// IsStaticSharedLibrary reports whether id is a static shared library
// package, exempt from filtering entirely (spec.md §4.2 step e).
func (s *Store) IsStaticSharedLibrary(id appid.AppId) bool {
	_, ok := s.StaticSharedLibraries[id]
	return ok
}

// HasPackageEdge reports whether caller can query target by package name or
// installer relation.
func (s *Store) HasPackageEdge(caller, target appid.AppId) bool {
	_, ok := s.QueriesViaPackage[caller][target]
	return ok
}

// HasComponentEdge reports whether caller can query target via a matched
// component or provider authority.
func (s *Store) HasComponentEdge(caller, target appid.AppId) bool {
	_, ok := s.QueriesViaComponent[caller][target]
	return ok
}

// HasImplicitEdge reports whether recipient was granted runtime visibility
// into visible.
func (s *Store) HasImplicitEdge(recipient, visible appid.Uid) bool {
	_, ok := s.ImplicitlyQueryable[recipient][visible]
	return ok
}

// Known returns the package currently tracked under name, or nil.
func (s *Store) Known(name string) *pkgmodel.PackageSetting {
	return s.known[name]
}

// Add incorporates pkg into the store per spec.md §4.1 "add".
func (s *Store) Add(pkg *pkgmodel.PackageSetting, snap *pkgmodel.Snapshot, overlay OverlayActor) {
	if overlay == nil {
		overlay = NoopOverlay{}
	}

	if pkg.Name == appid.PlatformPackageName {
		fp := pkg.Signature
		s.PlatformFingerprint = &fp
		for _, other := range s.known {
			if other.AppID == pkg.AppID {
				continue
			}
			if other.IsSystem && other.Signature == fp {
				s.ForceQueryable[other.AppID] = struct{}{}
			}
		}
	}

	if pkg.Manifest != nil {
		grew := false
		for _, action := range pkg.Manifest.ProtectedBroadcasts {
			if _, ok := s.ProtectedBroadcasts[action]; !ok {
				s.ProtectedBroadcasts[action] = struct{}{}
				grew = true
			}
		}
		if grew {
			s.ComponentRecomputeRequired = true
		}
	}

	if s.computeIsForceQueryable(pkg) {
		s.ForceQueryable[pkg.AppID] = struct{}{}
	}
	if pkg.Manifest != nil && pkg.Manifest.StaticSharedLibrary {
		s.StaticSharedLibraries[pkg.AppID] = struct{}{}
	}

	for _, other := range s.known {
		if other.AppID == pkg.AppID {
			continue
		}
		if other.Manifest == nil {
			continue
		}
		s.addDirectedEdges(pkg, other, pkg)
		s.addDirectedEdges(other, pkg, pkg)

		if pkgInstruments(pkg, other) || pkgInstruments(other, pkg) {
			s.addPackageEdge(pkg.AppID, other.AppID)
			s.addPackageEdge(other.AppID, pkg.AppID)
		}
	}

	overlay.OnPackageAdded(pkg)
	s.known[pkg.Name] = pkg
}

// addDirectedEdges adds the c->t edge(s), skipping per spec.md §4.1 step 4:
// a direction whose caller is already force-queryable needs no edge, and
// the direction ending at newPkg is skipped if newPkg just became
// force-queryable this call.
func (s *Store) addDirectedEdges(c, t, newPkg *pkgmodel.PackageSetting) {
	if s.IsForceQueryable(c.AppID) {
		return
	}
	if t == newPkg && s.IsForceQueryable(t.AppID) {
		return
	}

	if canQueryViaPackage(c, t) || canQueryAsInstaller(c, t) {
		s.addPackageEdge(c.AppID, t.AppID)
	}
	if !s.ComponentRecomputeRequired {
		if canQueryViaComponents(c, t, s.ProtectedBroadcasts) {
			s.addComponentEdge(c.AppID, t.AppID)
		}
	}
}

// Remove excises pkg from the store per spec.md §4.1 "remove", then re-adds
// surviving shared-user siblings to restore the edges they shared with the
// departing member.
func (s *Store) Remove(pkg *pkgmodel.PackageSetting, snap *pkgmodel.Snapshot, overlay OverlayActor) {
	if overlay == nil {
		overlay = NoopOverlay{}
	}

	for _, u := range snap.ActiveUsers {
		dep := appid.Encode(u, pkg.AppID)
		delete(s.ImplicitlyQueryable, dep)
		for _, inner := range s.ImplicitlyQueryable {
			delete(inner, dep)
		}
	}

	delete(s.QueriesViaPackage, pkg.AppID)
	for _, inner := range s.QueriesViaPackage {
		delete(inner, pkg.AppID)
	}

	if !s.ComponentRecomputeRequired {
		delete(s.QueriesViaComponent, pkg.AppID)
		for _, inner := range s.QueriesViaComponent {
			delete(inner, pkg.AppID)
		}
	}

	delete(s.ForceQueryable, pkg.AppID)
	delete(s.StaticSharedLibraries, pkg.AppID)

	if pkg.Manifest != nil && len(pkg.Manifest.ProtectedBroadcasts) > 0 {
		before := len(s.ProtectedBroadcasts)
		s.recomputeProtectedBroadcasts(pkg.Name)
		if len(s.ProtectedBroadcasts) < before {
			s.ComponentRecomputeRequired = true
		}
	}

	siblings := s.siblingsOf(pkg)
	delete(s.known, pkg.Name)
	overlay.OnPackageRemoved(pkg)

	for _, sibling := range siblings {
		s.Add(sibling, snap, overlay)
	}
}

func (s *Store) recomputeProtectedBroadcasts(excludeName string) {
	fresh := make(map[string]struct{})
	for name, p := range s.known {
		if name == excludeName || p.Manifest == nil {
			continue
		}
		for _, a := range p.Manifest.ProtectedBroadcasts {
			fresh[a] = struct{}{}
		}
	}
	s.ProtectedBroadcasts = fresh
}

func (s *Store) siblingsOf(pkg *pkgmodel.PackageSetting) []*pkgmodel.PackageSetting {
	var out []*pkgmodel.PackageSetting
	for name, p := range s.known {
		if name == pkg.Name {
			continue
		}
		if p.AppID == pkg.AppID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RecomputeComponentEdges rebuilds queriesViaComponent from scratch over the
// current membership and clears the recompute sentinel (spec.md §4.1).
func (s *Store) RecomputeComponentEdges() {
	s.QueriesViaComponent = make(map[appid.AppId]map[appid.AppId]struct{})

	names := make([]string, 0, len(s.known))
	for name := range s.known {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, cn := range names {
		caller := s.known[cn]
		if RequestsQueryAllPackages(caller) {
			continue
		}
		for _, tn := range names {
			if tn == cn {
				continue
			}
			target := s.known[tn]
			if target.AppID == caller.AppID {
				continue
			}
			if s.IsForceQueryable(target.AppID) {
				continue
			}
			if target.Manifest == nil {
				continue
			}
			if canQueryViaComponents(caller, target, s.ProtectedBroadcasts) {
				s.addComponentEdge(caller.AppID, target.AppID)
			}
		}
	}

	s.ComponentRecomputeRequired = false
}

// GrantImplicitAccess records that recipient interacted with visible,
// making visible observable to recipient from now on (spec.md §3, §6).
func (s *Store) GrantImplicitAccess(recipient, visible appid.Uid) {
	if recipient == visible {
		return
	}
	if s.ImplicitlyQueryable[recipient] == nil {
		s.ImplicitlyQueryable[recipient] = make(map[appid.Uid]struct{})
	}
	s.ImplicitlyQueryable[recipient][visible] = struct{}{}
}

func (s *Store) addPackageEdge(caller, target appid.AppId) {
	if s.QueriesViaPackage[caller] == nil {
		s.QueriesViaPackage[caller] = make(map[appid.AppId]struct{})
	}
	s.QueriesViaPackage[caller][target] = struct{}{}
}

func (s *Store) addComponentEdge(caller, target appid.AppId) {
	if s.QueriesViaComponent[caller] == nil {
		s.QueriesViaComponent[caller] = make(map[appid.AppId]struct{})
	}
	s.QueriesViaComponent[caller][target] = struct{}{}
}

// computeIsForceQueryable implements spec.md §4.1 step 3. "Signed by a
// recognized platform-equivalent identity" is resolved as matching the
// known platform signing fingerprint — the spec names no
// separate device-level allowlist for this, and we decline to invent one.
func (s *Store) computeIsForceQueryable(pkg *pkgmodel.PackageSetting) bool {
	if s.IsForceQueryable(pkg.AppID) {
		return true
	}
	if pkg.ForceQueryableOverride {
		return true
	}
	if pkg.Manifest != nil && pkg.Manifest.ForceQueryable && s.signedLikePlatform(pkg) {
		return true
	}
	if pkg.IsSystem {
		_, listed := s.Device.ForceQueryableList[pkg.Name]
		manifestFQ := pkg.Manifest != nil && pkg.Manifest.ForceQueryable
		if s.Device.AllSystemAppsQueryable || manifestFQ || listed {
			return true
		}
	}
	return s.signedLikePlatform(pkg)
}

func (s *Store) signedLikePlatform(pkg *pkgmodel.PackageSetting) bool {
	return s.PlatformFingerprint != nil && pkg.Signature == *s.PlatformFingerprint
}

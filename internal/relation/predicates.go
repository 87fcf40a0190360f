package relation

import (
	"github.com/rcourtman/pkgvisibility/internal/intentmatch"
	"github.com/rcourtman/pkgvisibility/internal/pkgmodel"
)

// canQueryViaPackage is true iff c's <queries> package-name list names t.
func canQueryViaPackage(c, t *pkgmodel.PackageSetting) bool {
	if c.Manifest == nil {
		return false
	}
	for _, name := range c.Manifest.Queries.Packages {
		if name == t.Name {
			return true
		}
	}
	return false
}

// canQueryAsInstaller is true iff c installed t, or initiated t's install
// and that install source was never uninstalled.
func canQueryAsInstaller(c, t *pkgmodel.PackageSetting) bool {
	if c.Name == t.InstallSource.InstallerPackageName {
		return true
	}
	return c.Name == t.InstallSource.InitiatingPackageName && !t.InstallSource.InitiatingUninstalled
}

// canQueryViaComponents is true iff any of c's <queries> intents matches an
// exported component of t (receiver matches disqualified by a protected
// broadcast action), or t exports a provider whose authorities intersect
// c's requested provider authorities.
func canQueryViaComponents(c, t *pkgmodel.PackageSetting, protectedBroadcasts map[string]struct{}) bool {
	if c.Manifest == nil || t.Manifest == nil {
		return false
	}

	for _, intent := range c.Manifest.Queries.Intents {
		for _, comp := range t.Manifest.Components {
			action, ok := intentmatch.Match(intent, comp)
			if !ok {
				continue
			}
			if comp.Kind == pkgmodel.Receiver {
				if _, isProtected := protectedBroadcasts[action]; isProtected {
					continue
				}
			}
			return true
		}
	}

	for _, comp := range t.Manifest.Components {
		if comp.Kind != pkgmodel.Provider || !comp.Exported {
			continue
		}
		if intentmatch.MatchProviderAuthority(c.Manifest.Queries.ProviderAuthorities, comp.Authorities) {
			return true
		}
	}

	return false
}

// pkgInstruments is true iff any of a's instrumentation declarations target b.
func pkgInstruments(a, b *pkgmodel.PackageSetting) bool {
	if a.Manifest == nil {
		return false
	}
	for _, target := range a.Manifest.Instrumentations {
		if target == b.Name {
			return true
		}
	}
	return false
}

// RequestsQueryAllPackages is true iff p's manifest requests the permission.
func RequestsQueryAllPackages(p *pkgmodel.PackageSetting) bool {
	return p.Manifest.RequestsQueryAllPackages()
}

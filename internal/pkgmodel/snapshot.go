package pkgmodel

import "github.com/rcourtman/pkgvisibility/internal/appid"

// Snapshot is the shallow, immutable view of the authoritative package table
// and active user set handed to the core from inside State Provider's
// runWithState callback (spec.md §4.5). Nothing here is retained by the core
// past the callback boundary except by value (Version is enough to detect
// concurrent mutation; see SPEC_FULL.md §3).
type Snapshot struct {
	ByName      map[string]*PackageSetting
	ActiveUsers []appid.UserId
}

// Lookup returns the package with the given name, or nil.
func (s *Snapshot) Lookup(name string) *PackageSetting {
	if s == nil {
		return nil
	}
	return s.ByName[name]
}

// Siblings returns every package sharing appID other than excludeName.
func (s *Snapshot) Siblings(appID appid.AppId, excludeName string) []*PackageSetting {
	var out []*PackageSetting
	for name, p := range s.ByName {
		if name == excludeName {
			continue
		}
		if p.AppID == appID {
			out = append(out, p)
		}
	}
	return out
}

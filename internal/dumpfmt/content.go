// Package dumpfmt assembles and renders dumpQueries' diagnostic content
// (spec.md §6: "textual diagnostic output containing the master-switch
// state, the forceQueryable set, and per-caller target lists for each
// relation map... Exact formatting is a collaborator concern; only the
// content is contractual."). Content is built once and handed to either
// TextRenderer or PDFRenderer so both formats stay in sync by construction.
package dumpfmt

import (
	"sort"

	"github.com/rcourtman/pkgvisibility/internal/appid"
	"github.com/rcourtman/pkgvisibility/internal/relation"
)

// FeatureReader is the narrow slice of the Feature Config collaborator
// dumpQueries needs.
type FeatureReader interface {
	IsGloballyEnabled() bool
}

// Content is the fully-assembled, renderer-agnostic dump payload.
type Content struct {
	GloballyEnabled bool
	ForceQueryable  []appid.AppId
	PackageEdges    map[appid.AppId][]appid.AppId
	ComponentEdges  map[appid.AppId][]appid.AppId
	ImplicitEdges   map[appid.Uid][]appid.Uid
}

// Build assembles Content from the Relation Store, optionally restricted to
// rows whose caller is filterAppId (spec.md §6: "dumpQueries(writer,
// filterAppId?, users)").
func Build(store *relation.Store, features FeatureReader, filterAppId *appid.AppId) Content {
	c := Content{
		GloballyEnabled: features == nil || features.IsGloballyEnabled(),
		PackageEdges:    map[appid.AppId][]appid.AppId{},
		ComponentEdges:  map[appid.AppId][]appid.AppId{},
		ImplicitEdges:   map[appid.Uid][]appid.Uid{},
	}

	for id := range store.ForceQueryable {
		c.ForceQueryable = append(c.ForceQueryable, id)
	}
	sortApps(c.ForceQueryable)

	for caller, targets := range store.QueriesViaPackage {
		if !wantsCaller(filterAppId, caller) {
			continue
		}
		c.PackageEdges[caller] = sortedAppKeys(targets)
	}
	for caller, targets := range store.QueriesViaComponent {
		if !wantsCaller(filterAppId, caller) {
			continue
		}
		c.ComponentEdges[caller] = sortedAppKeys(targets)
	}
	for caller, targets := range store.ImplicitlyQueryable {
		if filterAppId != nil && caller.App() != *filterAppId {
			continue
		}
		c.ImplicitEdges[caller] = sortedUidKeys(targets)
	}

	return c
}

func wantsCaller(filterAppId *appid.AppId, caller appid.AppId) bool {
	return filterAppId == nil || caller == *filterAppId
}

func sortApps(ids []appid.AppId) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

func sortedAppKeys(m map[appid.AppId]struct{}) []appid.AppId {
	out := make([]appid.AppId, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sortApps(out)
	return out
}

func sortedUidKeys(m map[appid.Uid]struct{}) []appid.Uid {
	out := make([]appid.Uid, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

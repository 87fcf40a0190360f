// Package intentmatch implements the subset of Android's intent-filter
// resolution algorithm the visibility filter needs: does a caller's
// <queries><intent> declaration resolve to an exported component of another
// package. See spec.md §4.1 canQueryViaComponents.
package intentmatch

import (
	"strings"

	wildcard "github.com/IGLOU-EU/go-wildcard/v2"

	"github.com/rcourtman/pkgvisibility/internal/pkgmodel"
)

// Match reports whether caller matches any filter on comp, and if so, which
// action of that filter matched. The
// matched action is what the relation store's protected-broadcast check
// inspects for receiver components.
func Match(caller pkgmodel.IntentFilter, comp pkgmodel.Component) (matchedAction string, ok bool) {
	if !comp.Exported {
		return "", false
	}
	for _, filter := range comp.Filters {
		if action, matched := matchFilter(caller, filter); matched {
			return action, true
		}
	}
	return "", false
}

func matchFilter(caller, filter pkgmodel.IntentFilter) (string, bool) {
	action, ok := matchAction(caller.Actions, filter.Actions)
	if !ok {
		return "", false
	}
	if !matchCategories(caller.Categories, filter.Categories) {
		return "", false
	}
	if !matchData(caller, filter) {
		return "", false
	}
	return action, true
}

// matchAction returns the overlapping action (preferring the caller's first
// declared action that the filter also declares) and whether any exists. A
// caller that declares no action imposes no action constraint; a filter
// that declares no action matches nothing.
func matchAction(callerActions, filterActions []string) (string, bool) {
	if len(callerActions) == 0 {
		if len(filterActions) > 0 {
			return filterActions[0], true
		}
		return "", false
	}
	for _, a := range callerActions {
		for _, f := range filterActions {
			if a == f {
				return a, true
			}
		}
	}
	return "", false
}

// matchCategories requires every caller-declared category to be present on
// the filter; the filter may declare additional categories the caller
// doesn't ask about.
func matchCategories(callerCategories, filterCategories []string) bool {
	for _, c := range callerCategories {
		found := false
		for _, f := range filterCategories {
			if c == f {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// matchData applies scheme/type/path constraints only when the caller
// declares at least one of them; a caller with no data criteria imposes no
// data constraint (it is resolving purely on action/category).
func matchData(caller, filter pkgmodel.IntentFilter) bool {
	if len(caller.DataSchemes) == 0 && len(caller.DataTypes) == 0 && len(caller.DataPaths) == 0 {
		return true
	}

	if len(caller.DataSchemes) > 0 && !matchAnyScheme(caller.DataSchemes, filter.DataSchemes) {
		return false
	}
	if len(caller.DataTypes) > 0 && !matchAnyType(caller.DataTypes, filter.DataTypes) {
		return false
	}
	if len(caller.DataPaths) > 0 && !matchAnyPath(caller.DataPaths, filter.DataPaths) {
		return false
	}
	return true
}

func matchAnyScheme(want, have []string) bool {
	for _, w := range want {
		for _, h := range have {
			if w == h {
				return true
			}
		}
	}
	return false
}

// matchAnyType follows MIME matching: "*/*" and a "type/*" wildcard subtype
// both match, in addition to an exact type.
func matchAnyType(want, have []string) bool {
	for _, w := range want {
		for _, h := range have {
			if mimeMatches(w, h) {
				return true
			}
		}
	}
	return false
}

func mimeMatches(want, filterType string) bool {
	if filterType == "*/*" || want == filterType {
		return true
	}
	wType, _, wOK := strings.Cut(want, "/")
	fType, fSub, fOK := strings.Cut(filterType, "/")
	if wOK && fOK && fSub == "*" && wType == fType {
		return true
	}
	return false
}

func matchAnyPath(want, have []pkgmodel.DataPath) bool {
	for _, w := range want {
		for _, h := range have {
			if pathMatches(w.Pattern, h) {
				return true
			}
		}
	}
	return false
}

func pathMatches(path string, pattern pkgmodel.DataPath) bool {
	switch pattern.Kind {
	case pkgmodel.PathLiteral:
		return path == pattern.Pattern
	case pkgmodel.PathPrefix:
		return strings.HasPrefix(path, pattern.Pattern)
	case pkgmodel.PathGlob, pkgmodel.PathAdvancedGlob:
		return wildcard.Match(pattern.Pattern, path)
	default:
		return false
	}
}

// MatchProviderAuthority reports whether any of the caller's requested
// provider authorities intersects the target provider's semicolon-separated
// authority list (spec.md §4.1: "T exports a provider whose
// semicolon-separated authorities contain any authority from C's <queries>
// providers"). Authorities containing '*' are matched as globs, matching the
// same wildcard convention used for intent data paths.
func MatchProviderAuthority(wantAuthorities []string, providerAuthorities []string) bool {
	for _, want := range wantAuthorities {
		for _, have := range providerAuthorities {
			if strings.ContainsRune(have, '*') {
				if wildcard.Match(have, want) {
					return true
				}
				continue
			}
			if want == have {
				return true
			}
		}
	}
	return false
}

// SplitAuthorities splits a manifest-style semicolon-separated authority
// declaration into individual authority strings.
func SplitAuthorities(declaration string) []string {
	parts := strings.Split(declaration, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

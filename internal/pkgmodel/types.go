// Package pkgmodel holds the package record types the visibility filter's
// core reads; these are owned externally (by manifest parsing and the
// persistent package store, both out of scope per spec.md §1) and are
// treated here as plain, immutable-once-built value types.
package pkgmodel

import (
	"sort"

	"github.com/oklog/ulid/v2"

	"github.com/rcourtman/pkgvisibility/internal/appid"
)

// ComponentKind is the manifest component category.
type ComponentKind int

const (
	Activity ComponentKind = iota
	Receiver
	Service
	Provider
)

// IntentFilter is a simplified manifest <intent-filter>/<queries><intent>
// declaration: the subset of action/category/data matching the platform's
// intent resolution algorithm actually needs for visibility decisions.
type IntentFilter struct {
	Actions    []string
	Categories []string
	// DataSchemes, DataTypes and DataPaths follow Android's <data> grammar;
	// DataPaths entries are (pattern, kind) pairs using PathKind below.
	DataSchemes []string
	DataTypes   []string
	DataPaths   []DataPath
}

// PathKind distinguishes Android's <data android:path|pathPrefix|
// pathPattern|pathAdvancedPattern> forms.
type PathKind int

const (
	PathLiteral PathKind = iota
	PathPrefix
	PathGlob         // pathPattern: simple '*' glob (sglob)
	PathAdvancedGlob // pathAdvancedPattern: '*' and '**'
)

type DataPath struct {
	Pattern string
	Kind    PathKind
}

// Component is an exported or unexported manifest component.
type Component struct {
	Kind      ComponentKind
	Exported  bool
	Filters   []IntentFilter
	// Authorities is only meaningful for Kind == Provider.
	Authorities []string
}

// QueriesDecl is a package's <queries> manifest block.
type QueriesDecl struct {
	Packages            []string
	Intents             []IntentFilter
	ProviderAuthorities []string
}

// InstallSource records who installed a package and who initiated that
// install, per spec.md §3.
type InstallSource struct {
	InstallerPackageName  string
	InitiatingPackageName string
	InitiatingUninstalled bool
}

// Fingerprint is a canonical signing-certificate digest; see SPEC_FULL.md §3.
type Fingerprint [32]byte

// ComputeFingerprint canonicalizes a set of DER certificate blobs (sorted
// lexicographically so certificate order in the manifest doesn't matter)
// and returns their combined digest.
func ComputeFingerprint(certs [][]byte) Fingerprint {
	sorted := make([][]byte, len(certs))
	copy(sorted, certs)
	sort.Slice(sorted, func(i, j int) bool {
		return string(sorted[i]) < string(sorted[j])
	})
	return computeFingerprint(sorted)
}

// ManifestView is the parsed subset of a package's manifest relevant to
// visibility decisions.
type ManifestView struct {
	ProtectedBroadcasts []string
	Components          []Component
	Queries             QueriesDecl
	Instrumentations    []string // target package names
	RequestedPermissions []string
	ForceQueryable      bool // android:forceQueryable
	// StaticSharedLibrary marks this package as an <static-library> manifest
	// declaration: spec.md §4.2 step (e) exempts these from filtering
	// entirely, since a separate mechanism (library-version resolution at
	// link time) already controls who may depend on one.
	StaticSharedLibrary bool
}

const permissionQueryAllPackages = "android.permission.QUERY_ALL_PACKAGES"

// RequestsQueryAllPackages reports whether m declares QUERY_ALL_PACKAGES.
func (m *ManifestView) RequestsQueryAllPackages() bool {
	if m == nil {
		return false
	}
	for _, p := range m.RequestedPermissions {
		if p == permissionQueryAllPackages {
			return true
		}
	}
	return false
}

// PackageSetting is the package record supplied by the State Provider,
// mirroring spec.md §3. Packages sharing an AppId (a "shared user") are
// represented as distinct PackageSettings carrying the same AppId.
type PackageSetting struct {
	Name                   string
	AppID                  appid.AppId
	IsSystem               bool
	Signature              Fingerprint
	InstallSource          InstallSource
	ForceQueryableOverride bool
	Manifest               *ManifestView

	// Version is stamped by the State Provider on every mutation and used
	// to detect concurrent changes during the async cache rebuild's
	// snapshot-validity check (SPEC_FULL.md §3).
	Version ulid.ULID
}

// Clone returns a copy with its own Manifest and its own top-level manifest
// slices, following the teacher's Alert.Clone idiom for values that cross
// store boundaries. The Component and IntentFilter values inside those
// slices still share their nested slices (Filters, Actions, DataPaths, ...)
// with the original.
func (p *PackageSetting) Clone() *PackageSetting {
	if p == nil {
		return nil
	}
	clone := *p
	if p.Manifest != nil {
		m := *p.Manifest
		m.ProtectedBroadcasts = append([]string(nil), p.Manifest.ProtectedBroadcasts...)
		m.Components = append([]Component(nil), p.Manifest.Components...)
		m.Instrumentations = append([]string(nil), p.Manifest.Instrumentations...)
		m.RequestedPermissions = append([]string(nil), p.Manifest.RequestedPermissions...)
		m.Queries.Packages = append([]string(nil), p.Manifest.Queries.Packages...)
		m.Queries.Intents = append([]IntentFilter(nil), p.Manifest.Queries.Intents...)
		m.Queries.ProviderAuthorities = append([]string(nil), p.Manifest.Queries.ProviderAuthorities...)
		clone.Manifest = &m
	}
	return &clone
}

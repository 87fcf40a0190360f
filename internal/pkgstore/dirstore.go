// Package pkgstore provides concrete State Provider implementations
// (spec.md §4.5): DirStore, backed by a directory of per-package JSON
// records kept current with fsnotify, and SQLiteStore, backed by a
// read-only modernc.org/sqlite table. Both own the "package-manager lock"
// spec.md §5 requires every authoritative read to happen inside.
package pkgstore

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/rcourtman/pkgvisibility/internal/appid"
	"github.com/rcourtman/pkgvisibility/internal/pkgmodel"
)

// dataPathDTO is the on-disk JSON shape of one <data> path matcher.
type dataPathDTO struct {
	Pattern string `json:"pattern"`
	Kind    string `json:"kind"` // literal|prefix|glob|advancedGlob
}

// intentFilterDTO is the on-disk JSON shape of one <intent-filter> or
// <queries><intent> declaration.
type intentFilterDTO struct {
	Actions     []string      `json:"actions"`
	Categories  []string      `json:"categories"`
	DataSchemes []string      `json:"dataSchemes"`
	DataTypes   []string      `json:"dataTypes"`
	DataPaths   []dataPathDTO `json:"dataPaths"`
}

// componentDTO is the on-disk JSON shape of one manifest component, needed
// for canQueryViaComponents (spec.md §4.1) to have anything to match against.
type componentDTO struct {
	Kind        string            `json:"kind"` // activity|receiver|service|provider
	Exported    bool              `json:"exported"`
	Filters     []intentFilterDTO `json:"filters"`
	Authorities []string          `json:"authorities"`
}

func (d dataPathDTO) toModel() (pkgmodel.DataPath, error) {
	switch d.Kind {
	case "literal", "":
		return pkgmodel.DataPath{Pattern: d.Pattern, Kind: pkgmodel.PathLiteral}, nil
	case "prefix":
		return pkgmodel.DataPath{Pattern: d.Pattern, Kind: pkgmodel.PathPrefix}, nil
	case "glob":
		return pkgmodel.DataPath{Pattern: d.Pattern, Kind: pkgmodel.PathGlob}, nil
	case "advancedGlob":
		return pkgmodel.DataPath{Pattern: d.Pattern, Kind: pkgmodel.PathAdvancedGlob}, nil
	default:
		return pkgmodel.DataPath{}, fmt.Errorf("unknown data path kind %q", d.Kind)
	}
}

func (f intentFilterDTO) toModel() (pkgmodel.IntentFilter, error) {
	paths := make([]pkgmodel.DataPath, len(f.DataPaths))
	for i, p := range f.DataPaths {
		m, err := p.toModel()
		if err != nil {
			return pkgmodel.IntentFilter{}, err
		}
		paths[i] = m
	}
	return pkgmodel.IntentFilter{
		Actions:     f.Actions,
		Categories:  f.Categories,
		DataSchemes: f.DataSchemes,
		DataTypes:   f.DataTypes,
		DataPaths:   paths,
	}, nil
}

func (c componentDTO) toModel() (pkgmodel.Component, error) {
	var kind pkgmodel.ComponentKind
	switch c.Kind {
	case "activity", "":
		kind = pkgmodel.Activity
	case "receiver":
		kind = pkgmodel.Receiver
	case "service":
		kind = pkgmodel.Service
	case "provider":
		kind = pkgmodel.Provider
	default:
		return pkgmodel.Component{}, fmt.Errorf("unknown component kind %q", c.Kind)
	}
	filters := make([]pkgmodel.IntentFilter, len(c.Filters))
	for i, f := range c.Filters {
		m, err := f.toModel()
		if err != nil {
			return pkgmodel.Component{}, err
		}
		filters[i] = m
	}
	return pkgmodel.Component{Kind: kind, Exported: c.Exported, Filters: filters, Authorities: c.Authorities}, nil
}

func componentsToModel(dtos []componentDTO) ([]pkgmodel.Component, error) {
	out := make([]pkgmodel.Component, len(dtos))
	for i, c := range dtos {
		m, err := c.toModel()
		if err != nil {
			return nil, err
		}
		out[i] = m
	}
	return out, nil
}

// packageDTO is the on-disk JSON shape of one package record.
type packageDTO struct {
	Name                   string         `json:"name"`
	AppID                  int32          `json:"appId"`
	IsSystem               bool           `json:"isSystem"`
	SignatureHex           string         `json:"signatureHex"`
	InstallerPackageName   string         `json:"installerPackageName"`
	InitiatingPackageName  string         `json:"initiatingPackageName"`
	InitiatingUninstalled  bool           `json:"initiatingUninstalled"`
	ForceQueryableOverride bool           `json:"forceQueryableOverride"`
	ForceQueryable         bool           `json:"manifestForceQueryable"`
	StaticSharedLibrary    bool           `json:"staticSharedLibrary"`
	ProtectedBroadcasts    []string       `json:"protectedBroadcasts"`
	RequestedPermissions   []string       `json:"requestedPermissions"`
	QueriesPackages        []string       `json:"queriesPackages"`
	QueriesProviderAuth    []string       `json:"queriesProviderAuthorities"`
	Instrumentations       []string       `json:"instrumentations"`
	Components             []componentDTO `json:"components"`
}

func (d *packageDTO) toSetting() (*pkgmodel.PackageSetting, error) {
	components, err := componentsToModel(d.Components)
	if err != nil {
		return nil, &StoreError{Type: ErrorTypeDecode, Op: "decode_components", Package: d.Name, Err: err}
	}

	p := &pkgmodel.PackageSetting{
		Name:                   d.Name,
		AppID:                  appid.AppId(d.AppID),
		IsSystem:               d.IsSystem,
		InstallSource: pkgmodel.InstallSource{
			InstallerPackageName:  d.InstallerPackageName,
			InitiatingPackageName: d.InitiatingPackageName,
			InitiatingUninstalled: d.InitiatingUninstalled,
		},
		ForceQueryableOverride: d.ForceQueryableOverride,
		Manifest: &pkgmodel.ManifestView{
			ProtectedBroadcasts:  d.ProtectedBroadcasts,
			Components:           components,
			RequestedPermissions: d.RequestedPermissions,
			ForceQueryable:       d.ForceQueryable,
			StaticSharedLibrary:  d.StaticSharedLibrary,
			Instrumentations:     d.Instrumentations,
			Queries: pkgmodel.QueriesDecl{
				Packages:            d.QueriesPackages,
				ProviderAuthorities: d.QueriesProviderAuth,
			},
		},
		Version: nextVersion(),
	}
	if d.SignatureHex != "" {
		raw, err := hex.DecodeString(d.SignatureHex)
		if err != nil {
			return nil, &StoreError{Type: ErrorTypeDecode, Op: "decode_signature", Package: d.Name, Err: err}
		}
		p.Signature = pkgmodel.ComputeFingerprint([][]byte{raw})
	}
	return p, nil
}

// DirStore is a State Provider that treats a directory of "<name>.json"
// files as the authoritative package table, reloading automatically when
// fsnotify reports a change (mirroring the teacher's own directory-watcher
// idiom for hot-reloadable on-disk state).
type DirStore struct {
	mu      sync.Mutex
	byName  map[string]*pkgmodel.PackageSetting
	users   []appid.UserId
	dir     string
	watcher *fsnotify.Watcher
	stop    chan struct{}

	// OnReloadError receives decode/IO failures observed by the background
	// watch goroutine, which has nowhere else to report them.
	OnReloadError func(err *StoreError)

	// OnPackageAdded, OnPackageRemoved and OnPackageReplaced translate a
	// fsnotify-observed write/create/remove into the matching Incremental
	// Maintainer call (spec.md §4.8), so a Decision Cache already published
	// by onSystemReady doesn't go stale on the next package change. Any of
	// the three may be left nil.
	OnPackageAdded    func(pkg *pkgmodel.PackageSetting, snap *pkgmodel.Snapshot)
	OnPackageRemoved  func(pkg *pkgmodel.PackageSetting, snap *pkgmodel.Snapshot)
	OnPackageReplaced func(old, new *pkgmodel.PackageSetting, snap *pkgmodel.Snapshot)
}

// NewDirStore loads dir once synchronously and starts watching it for
// subsequent changes. users is the static active-user set (spec.md treats
// user add/remove as a separate, out-of-scope collaborator).
func NewDirStore(dir string, users []appid.UserId) (*DirStore, error) {
	d := &DirStore{dir: dir, users: users, stop: make(chan struct{})}
	if err := d.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, &StoreError{Type: ErrorTypeIO, Op: "watch", Package: dir, Err: err}
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, &StoreError{Type: ErrorTypeIO, Op: "watch", Package: dir, Err: err}
	}
	d.watcher = watcher

	go d.watchLoop()
	return d, nil
}

func (d *DirStore) watchLoop() {
	for {
		select {
		case <-d.stop:
			return
		case ev, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(ev.Name, ".json") {
				continue
			}
			if err := d.reload(); err != nil && d.OnReloadError != nil {
				var storeErr *StoreError
				if se, ok := err.(*StoreError); ok {
					storeErr = se
				} else {
					storeErr = &StoreError{Type: ErrorTypeIO, Op: "reload", Err: err}
				}
				d.OnReloadError(storeErr)
			}
		case _, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (d *DirStore) reload() error {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return &StoreError{Type: ErrorTypeIO, Op: "read_dir", Package: d.dir, Err: err}
	}

	fresh := make(map[string]*pkgmodel.PackageSetting, len(entries))
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".json") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(d.dir, ent.Name()))
		if err != nil {
			return &StoreError{Type: ErrorTypeIO, Op: "read_file", Package: ent.Name(), Err: err}
		}
		var dto packageDTO
		if err := json.Unmarshal(raw, &dto); err != nil {
			return &StoreError{Type: ErrorTypeDecode, Op: "unmarshal", Package: ent.Name(), Err: err}
		}
		setting, err := dto.toSetting()
		if err != nil {
			return err
		}
		fresh[setting.Name] = setting
	}

	d.mu.Lock()
	old := d.byName
	d.byName = fresh
	d.mu.Unlock()

	d.notifyChanges(old, fresh)
	return nil
}

// samePackageContent reports whether a and b decoded from equal source
// content, ignoring Version: reload() re-decodes every file on every pass,
// so nextVersion() stamps a fresh value even for an untouched file, and
// Version itself can't be used to tell "changed" from "re-read".
func samePackageContent(a, b *pkgmodel.PackageSetting) bool {
	ac, bc := *a, *b
	bc.Version = ac.Version
	return reflect.DeepEqual(ac, bc)
}

// notifyChanges diffs old against fresh by name and drives OnPackageAdded /
// OnPackageRemoved / OnPackageReplaced for whatever changed (spec.md §4.8).
// A package is "replaced" rather than removed-and-re-added when its name
// survives the reload but its content doesn't.
func (d *DirStore) notifyChanges(old, fresh map[string]*pkgmodel.PackageSetting) {
	if d.OnPackageAdded == nil && d.OnPackageRemoved == nil && d.OnPackageReplaced == nil {
		return
	}

	names := make([]string, 0, len(fresh)+len(old))
	seen := make(map[string]struct{}, len(fresh))
	for name := range fresh {
		names = append(names, name)
		seen[name] = struct{}{}
	}
	for name := range old {
		if _, ok := seen[name]; !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	snap := &pkgmodel.Snapshot{ByName: fresh, ActiveUsers: d.users}
	for _, name := range names {
		oldPkg, hadOld := old[name]
		newPkg, hasNew := fresh[name]
		switch {
		case hadOld && hasNew:
			if !samePackageContent(oldPkg, newPkg) && d.OnPackageReplaced != nil {
				d.OnPackageReplaced(oldPkg, newPkg, snap)
			}
		case !hadOld && hasNew:
			if d.OnPackageAdded != nil {
				d.OnPackageAdded(newPkg, snap)
			}
		case hadOld && !hasNew:
			if d.OnPackageRemoved != nil {
				d.OnPackageRemoved(oldPkg, snap)
			}
		}
	}
}

// RunWithState invokes cb while holding DirStore's lock, matching spec.md
// §4.5's package-manager-lock contract.
func (d *DirStore) RunWithState(cb func(snap *pkgmodel.Snapshot)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cb(&pkgmodel.Snapshot{ByName: d.byName, ActiveUsers: d.users})
}

// Close stops the background watcher.
func (d *DirStore) Close() error {
	close(d.stop)
	if d.watcher != nil {
		return d.watcher.Close()
	}
	return nil
}

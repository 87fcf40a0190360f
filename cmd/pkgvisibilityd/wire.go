package main

import (
	"sort"

	"github.com/rcourtman/pkgvisibility/internal/appid"
	"github.com/rcourtman/pkgvisibility/internal/cache"
	"github.com/rcourtman/pkgvisibility/internal/engine"
	"github.com/rcourtman/pkgvisibility/internal/featureconfig"
	"github.com/rcourtman/pkgvisibility/internal/maintainer"
	"github.com/rcourtman/pkgvisibility/internal/pkgmodel"
	"github.com/rcourtman/pkgvisibility/internal/pkgstore"
	"github.com/rcourtman/pkgvisibility/internal/relation"
	"github.com/rcourtman/pkgvisibility/internal/telemetry"
)

// packageStore is the subset of DirStore/SQLiteStore the CLI wiring needs,
// narrow enough that either backs a core identically (spec.md §4.8: "Neither
// implementation lets the visibility index itself persist anything").
type packageStore interface {
	RunWithState(cb func(snap *pkgmodel.Snapshot))
	Close() error
}

// core bundles every collaborator a subcommand needs, assembled the same
// way regardless of which subcommand runs.
type core struct {
	store      packageStore
	relation   *relation.Store
	cache      *cache.Cache
	engine     *engine.Engine
	maintainer *maintainer.Maintainer
	features   *featureconfig.Config
}

// wireCore assembles a core over dir's JSON package records, unless
// sqlitePath is non-empty, in which case it assembles one over that sqlite
// database instead (spec.md §4.8, the CLI's "serve --sqlite" path).
func wireCore(dir, sqlitePath string, users []appid.UserId) (*core, error) {
	logger := telemetry.NewZeroLogger()

	features, err := featureconfig.Load(".env")
	if err != nil {
		return nil, err
	}

	var store packageStore
	var dirStore *pkgstore.DirStore
	if sqlitePath != "" {
		sqliteStore, err := pkgstore.OpenSQLiteStore(sqlitePath, users)
		if err != nil {
			return nil, err
		}
		store = sqliteStore
	} else {
		ds, err := pkgstore.NewDirStore(dir, users)
		if err != nil {
			return nil, err
		}
		ds.OnReloadError = func(e *pkgstore.StoreError) {
			logger.Warn("dir_store_reload_failed", map[string]any{"error": e.Error()})
		}
		dirStore = ds
		store = ds
	}

	relStore := relation.NewStore(relation.DeviceConfig{})
	decisionCache := cache.New()

	eng := &engine.Engine{
		Store:    relStore,
		Cache:    decisionCache,
		Features: features,
		State:    store,
		Logger:   logger,
	}

	m := &maintainer.Maintainer{
		Store:  relStore,
		Cache:  decisionCache,
		Engine: eng,
		State:  store,
		Logger: logger,
	}

	if dirStore != nil {
		dirStore.OnPackageAdded = func(pkg *pkgmodel.PackageSetting, snap *pkgmodel.Snapshot) {
			m.AddPackage(pkg, snap)
			publishEvent("package_added", pkg)
		}
		dirStore.OnPackageRemoved = func(pkg *pkgmodel.PackageSetting, snap *pkgmodel.Snapshot) {
			m.RemovePackage(pkg, snap)
			publishEvent("package_removed", pkg)
		}
		dirStore.OnPackageReplaced = func(old, new *pkgmodel.PackageSetting, snap *pkgmodel.Snapshot) {
			m.ReplacePackage(old, new, snap)
			publishEvent("package_replaced", new)
		}
	}

	store.RunWithState(func(snap *pkgmodel.Snapshot) {
		names := make([]string, 0, len(snap.ByName))
		for name := range snap.ByName {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			relStore.Add(snap.ByName[name], snap, nil)
		}
	})

	return &core{
		store:      store,
		relation:   relStore,
		cache:      decisionCache,
		engine:     eng,
		maintainer: m,
		features:   features,
	}, nil
}

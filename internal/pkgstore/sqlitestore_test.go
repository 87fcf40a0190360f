package pkgstore

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcourtman/pkgvisibility/internal/appid"
	"github.com/rcourtman/pkgvisibility/internal/pkgmodel"
)

const sqliteSchema = `
CREATE TABLE packages (
  name TEXT PRIMARY KEY, app_id INTEGER, is_system INTEGER,
  signature_hex TEXT, installer_package_name TEXT,
  initiating_package_name TEXT, initiating_uninstalled INTEGER,
  force_queryable_override INTEGER, force_queryable INTEGER,
  static_shared_library INTEGER,
  protected_broadcasts TEXT, requested_permissions TEXT,
  queries_packages TEXT, queries_provider_authorities TEXT,
  instrumentations TEXT, components TEXT
);`

func newTestSQLiteDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "packages.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(sqliteSchema)
	require.NoError(t, err)
	return path
}

func col(p map[string]any, key string, zero any) any {
	if v, ok := p[key]; ok {
		return v
	}
	return zero
}

func insertTestRow(t *testing.T, path string, p map[string]any) {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(`INSERT INTO packages (name, app_id, is_system, signature_hex,
		installer_package_name, initiating_package_name, initiating_uninstalled,
		force_queryable_override, force_queryable, static_shared_library,
		protected_broadcasts, requested_permissions, queries_packages,
		queries_provider_authorities, instrumentations, components)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		col(p, "name", ""), col(p, "app_id", 0), col(p, "is_system", false), col(p, "signature_hex", ""),
		col(p, "installer_package_name", ""), col(p, "initiating_package_name", ""), col(p, "initiating_uninstalled", false),
		col(p, "force_queryable_override", false), col(p, "force_queryable", false), col(p, "static_shared_library", false),
		col(p, "protected_broadcasts", ""), col(p, "requested_permissions", ""), col(p, "queries_packages", ""),
		col(p, "queries_provider_authorities", ""), col(p, "instrumentations", ""), col(p, "components", ""))
	require.NoError(t, err)
}

func TestSQLiteStore_LoadsPackagesOnOpen(t *testing.T) {
	path := newTestSQLiteDB(t)
	insertTestRow(t, path, map[string]any{
		"name": "A", "app_id": 10100, "queries_packages": "B;C",
	})

	store, err := OpenSQLiteStore(path, []appid.UserId{0})
	require.NoError(t, err)
	defer store.Close()

	var got *pkgmodel.PackageSetting
	store.RunWithState(func(snap *pkgmodel.Snapshot) {
		got = snap.Lookup("A")
	})
	require.NotNil(t, got)
	assert.Equal(t, appid.AppId(10100), got.AppID)
	assert.Equal(t, []string{"B", "C"}, got.Manifest.Queries.Packages)
}

func TestSQLiteStore_MapsStaticSharedLibraryAndComponents(t *testing.T) {
	path := newTestSQLiteDB(t)
	insertTestRow(t, path, map[string]any{
		"name": "Lib", "app_id": 10200, "static_shared_library": true,
		"components": `[{"kind":"provider","exported":true,"authorities":["com.example.lib"]}]`,
	})

	store, err := OpenSQLiteStore(path, []appid.UserId{0})
	require.NoError(t, err)
	defer store.Close()

	var got *pkgmodel.PackageSetting
	store.RunWithState(func(snap *pkgmodel.Snapshot) {
		got = snap.Lookup("Lib")
	})
	require.NotNil(t, got)
	assert.True(t, got.Manifest.StaticSharedLibrary)
	require.Len(t, got.Manifest.Components, 1)
	assert.Equal(t, pkgmodel.Provider, got.Manifest.Components[0].Kind)
	assert.Equal(t, []string{"com.example.lib"}, got.Manifest.Components[0].Authorities)
}

func TestSQLiteStore_RefreshPicksUpNewRows(t *testing.T) {
	path := newTestSQLiteDB(t)
	insertTestRow(t, path, map[string]any{"name": "A", "app_id": 10100})

	store, err := OpenSQLiteStore(path, []appid.UserId{0})
	require.NoError(t, err)
	defer store.Close()

	insertTestRow(t, path, map[string]any{"name": "B", "app_id": 10101})
	require.NoError(t, store.Refresh())

	var got *pkgmodel.PackageSetting
	store.RunWithState(func(snap *pkgmodel.Snapshot) {
		got = snap.Lookup("B")
	})
	assert.NotNil(t, got)
}

package pkgstore

import (
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/rcourtman/pkgvisibility/internal/appid"
	"github.com/rcourtman/pkgvisibility/internal/pkgmodel"
)

// SQLiteStore is a State Provider reading a read-only package table out of
// a sqlite database, refreshed on demand via Refresh. Schema expected:
//
//	CREATE TABLE packages (
//	  name TEXT PRIMARY KEY, app_id INTEGER, is_system INTEGER,
//	  signature_hex TEXT, installer_package_name TEXT,
//	  initiating_package_name TEXT, initiating_uninstalled INTEGER,
//	  force_queryable_override INTEGER, force_queryable INTEGER,
//	  static_shared_library INTEGER,
//	  protected_broadcasts TEXT, requested_permissions TEXT,
//	  queries_packages TEXT, queries_provider_authorities TEXT,
//	  instrumentations TEXT, components TEXT
//	);
//
// list columns are semicolon-separated, matching intentmatch.SplitAuthorities.
// components is a JSON array of the same shape dirstore.go's componentDTO
// decodes, since a manifest's exported-component/intent-filter graph doesn't
// fit a flat relational row.
type SQLiteStore struct {
	mu     sync.Mutex
	db     *sql.DB
	byName map[string]*pkgmodel.PackageSetting
	users  []appid.UserId
}

// OpenSQLiteStore opens path read-only and performs an initial load.
func OpenSQLiteStore(path string, users []appid.UserId) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return nil, &StoreError{Type: ErrorTypeIO, Op: "open", Package: path, Err: err}
	}
	s := &SQLiteStore{db: db, users: users}
	if err := s.Refresh(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Refresh re-queries the packages table and atomically replaces the
// in-memory view.
func (s *SQLiteStore) Refresh() error {
	rows, err := s.db.Query(`SELECT name, app_id, is_system, signature_hex,
		installer_package_name, initiating_package_name, initiating_uninstalled,
		force_queryable_override, force_queryable, static_shared_library,
		protected_broadcasts, requested_permissions, queries_packages,
		queries_provider_authorities, instrumentations, components FROM packages`)
	if err != nil {
		return &StoreError{Type: ErrorTypeIO, Op: "query_packages", Err: err}
	}
	defer rows.Close()

	fresh := make(map[string]*pkgmodel.PackageSetting)
	for rows.Next() {
		var (
			name, sigHex, installer, initiating                                 string
			appID                                                               int32
			isSystem, initiatingUninstalled, fqOverride, manifestFQ, staticLib bool
			protected, permissions, queriesPkgs, providerAuth, instr, compsJSON string
		)
		if err := rows.Scan(&name, &appID, &isSystem, &sigHex, &installer, &initiating,
			&initiatingUninstalled, &fqOverride, &manifestFQ, &staticLib, &protected,
			&permissions, &queriesPkgs, &providerAuth, &instr, &compsJSON); err != nil {
			return &StoreError{Type: ErrorTypeDecode, Op: "scan_row", Err: err}
		}

		var compDTOs []componentDTO
		if compsJSON != "" {
			if err := json.Unmarshal([]byte(compsJSON), &compDTOs); err != nil {
				return &StoreError{Type: ErrorTypeDecode, Op: "decode_components", Package: name, Err: err}
			}
		}
		components, err := componentsToModel(compDTOs)
		if err != nil {
			return &StoreError{Type: ErrorTypeDecode, Op: "decode_components", Package: name, Err: err}
		}

		p := &pkgmodel.PackageSetting{
			Name:     name,
			AppID:    appid.AppId(appID),
			IsSystem: isSystem,
			InstallSource: pkgmodel.InstallSource{
				InstallerPackageName:  installer,
				InitiatingPackageName: initiating,
				InitiatingUninstalled: initiatingUninstalled,
			},
			ForceQueryableOverride: fqOverride,
			Manifest: &pkgmodel.ManifestView{
				ProtectedBroadcasts: splitList(protected),
				Components:          components,
				RequestedPermissions: splitList(permissions),
				ForceQueryable:       manifestFQ,
				StaticSharedLibrary:  staticLib,
				Instrumentations:     splitList(instr),
				Queries: pkgmodel.QueriesDecl{
					Packages:            splitList(queriesPkgs),
					ProviderAuthorities: splitList(providerAuth),
				},
			},
			Version: nextVersion(),
		}
		if sigHex != "" {
			raw, err := hex.DecodeString(sigHex)
			if err != nil {
				return &StoreError{Type: ErrorTypeDecode, Op: "decode_signature", Package: name, Err: err}
			}
			p.Signature = pkgmodel.ComputeFingerprint([][]byte{raw})
		}
		fresh[name] = p
	}
	if err := rows.Err(); err != nil {
		return &StoreError{Type: ErrorTypeIO, Op: "iterate_rows", Err: err}
	}

	s.mu.Lock()
	s.byName = fresh
	s.mu.Unlock()
	return nil
}

// RunWithState invokes cb while holding SQLiteStore's lock.
func (s *SQLiteStore) RunWithState(cb func(snap *pkgmodel.Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cb(&pkgmodel.Snapshot{ByName: s.byName, ActiveUsers: s.users})
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

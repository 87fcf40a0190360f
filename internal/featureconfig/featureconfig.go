// Package featureconfig implements the Feature Config external collaborator
// of spec.md §4.6: the master switch and the per-package compat-flag
// override that the Decision Engine and Incremental Maintainer consult.
package featureconfig

import (
	"os"
	"strconv"
	"sync"

	"github.com/joho/godotenv"

	"github.com/rcourtman/pkgvisibility/internal/appid"
)

const (
	// masterSwitchEnv mirrors the device-config namespace key named in
	// spec.md §6, expressed as an environment variable for this process.
	masterSwitchEnv = "PACKAGE_QUERY_FILTERING_ENABLED"
)

// Config implements engine.FeatureConfig.
type Config struct {
	mu              sync.RWMutex
	globallyEnabled bool
	perPackage      map[string]bool // compat-flag override, keyed by package name
	loggingEnabled  map[appid.AppId]bool
}

// Load reads the master switch from the environment (defaulting to on, per
// spec.md §6), optionally seeded from a .env file at envPath (teacher idiom:
// joho/godotenv, see cmd/pulse's own config bootstrap).
func Load(envPath string) (*Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}

	enabled := true
	if v, ok := os.LookupEnv(masterSwitchEnv); ok {
		if parsed, err := strconv.ParseBool(v); err == nil {
			enabled = parsed
		}
	}

	return &Config{
		globallyEnabled: enabled,
		perPackage:      make(map[string]bool),
		loggingEnabled:  make(map[appid.AppId]bool),
	}, nil
}

// IsGloballyEnabled reports the master switch's current value.
func (c *Config) IsGloballyEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.globallyEnabled
}

// SetGloballyEnabled lets an operator flip the master switch at runtime.
func (c *Config) SetGloballyEnabled(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.globallyEnabled = on
}

// PackageIsEnabled reports whether pkg has NOT been disabled by the
// FILTER_APPLICATION_QUERY compat flag (spec.md §4.6). Unset == enabled.
func (c *Config) PackageIsEnabled(pkg string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	disabled, ok := c.perPackage[pkg]
	return !ok || !disabled
}

// UpdatePackageState flips the compat-flag override for pkg. Called by
// onCompatChange's surrounding service when FILTER_APPLICATION_QUERY toggles.
func (c *Config) UpdatePackageState(pkg string, disabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if disabled {
		c.perPackage[pkg] = true
	} else {
		delete(c.perPackage, pkg)
	}
}

// IsLoggingEnabled reports whether appID is opted into per-package BLOCKED
// logging (spec.md §7: "suppressed unless the caller's AppId is opted into
// per-package logging or a global debug switch is set").
func (c *Config) IsLoggingEnabled(appID appid.AppId) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loggingEnabled[appID]
}

// EnableLogging toggles per-package BLOCKED-verdict logging for appID.
func (c *Config) EnableLogging(appID appid.AppId, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on {
		c.loggingEnabled[appID] = true
	} else {
		delete(c.loggingEnabled, appID)
	}
}

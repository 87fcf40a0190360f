package pkgstore

import (
	"crypto/rand"
	"sync"

	"github.com/oklog/ulid/v2"
)

// nextVersion hands out a fresh, strictly-increasing ulid.ULID for a
// reloaded package record. A monotonic entropy source is required here:
// plain `ulid.New(ulid.Now(), nil)` zeroes the entropy bits, so two
// packages reloaded within the same millisecond would compare equal and
// the maintainer's snapshot-staleness check (spec.md §4.5) would miss a
// concurrent mutation.
var (
	versionMu     sync.Mutex
	versionSource = ulid.Monotonic(rand.Reader, 0)
)

func nextVersion() ulid.ULID {
	versionMu.Lock()
	defer versionMu.Unlock()
	return ulid.MustNew(ulid.Now(), versionSource)
}

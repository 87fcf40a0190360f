// Package appid defines the identity primitives the visibility filter keys
// everything on: the per-shared-user AppId, the per-tenant UserId, and their
// flattened Uid encoding.
//
// The encoding mirrors the Android platform's UserHandle/Process UID space
// (frameworks/base/core/java/android/os/UserHandle.java and Process.java):
// UIDs for a given user occupy the range [userId*perUserRange,
// (userId+1)*perUserRange), and AppId is the offset within that range.
package appid

import "fmt"

// AppId identifies a package or, for co-signed packages that opt into a
// shared user, the group of packages sharing that identity.
type AppId int32

// UserId identifies a tenant (tenant 0 always exists).
type UserId int32

// Uid is the flattened (UserId, AppId) pair used to key the Decision Cache.
type Uid int64

const (
	// perUserRange is the span of the UID space reserved per user.
	perUserRange = 100000

	// FirstAppID is the first AppId reserved for installed applications;
	// every AppId below this threshold is a privileged/platform identity
	// and is unconditionally visible per spec.md §3/§4.2 step 1.
	FirstAppID AppId = 10000

	// PlatformPackageName is the reserved package name whose signing
	// fingerprint seeds forceQueryable promotion (spec.md §4.1 step 1).
	PlatformPackageName = "android"
)

// Encode flattens a (UserId, AppId) pair into a single Uid.
func Encode(user UserId, app AppId) Uid {
	return Uid(int64(user)*perUserRange + int64(app))
}

// Decode splits a Uid back into its UserId and AppId.
func Decode(uid Uid) (UserId, AppId) {
	return UserId(int64(uid) / perUserRange), AppId(int64(uid) % perUserRange)
}

// User returns the UserId portion of uid.
func (u Uid) User() UserId { return UserId(int64(u) / perUserRange) }

// App returns the AppId portion of uid.
func (u Uid) App() AppId { return AppId(int64(u) % perUserRange) }

// IsPrivileged reports whether id falls below FirstAppID and is therefore
// exempt from filtering in both caller and target position.
func (id AppId) IsPrivileged() bool { return id < FirstAppID }

func (u Uid) String() string {
	user, app := Decode(u)
	return fmt.Sprintf("u%d a%d", user, app)
}

package pkgmodel

import "testing"

func TestComputeFingerprintOrderIndependent(t *testing.T) {
	a := [][]byte{[]byte("cert-b"), []byte("cert-a")}
	b := [][]byte{[]byte("cert-a"), []byte("cert-b")}

	if ComputeFingerprint(a) != ComputeFingerprint(b) {
		t.Error("fingerprint must be independent of certificate declaration order")
	}
}

func TestComputeFingerprintDistinctForDistinctCerts(t *testing.T) {
	a := ComputeFingerprint([][]byte{[]byte("cert-a")})
	b := ComputeFingerprint([][]byte{[]byte("cert-b")})
	if a == b {
		t.Error("distinct certificate sets must not collide")
	}
}

func TestPackageSettingCloneIsIndependent(t *testing.T) {
	p := &PackageSetting{
		Name: "com.example.a",
		Manifest: &ManifestView{
			ProtectedBroadcasts: []string{"foo.ACTION"},
			RequestedPermissions: []string{"android.permission.QUERY_ALL_PACKAGES"},
		},
	}

	clone := p.Clone()
	clone.Manifest.ProtectedBroadcasts[0] = "mutated"

	if p.Manifest.ProtectedBroadcasts[0] != "foo.ACTION" {
		t.Error("mutating a clone's manifest slices must not affect the original")
	}
	if !clone.Manifest.RequestsQueryAllPackages() {
		t.Error("clone lost RequestedPermissions")
	}
}

func TestRequestsQueryAllPackagesNilSafe(t *testing.T) {
	var m *ManifestView
	if m.RequestsQueryAllPackages() {
		t.Error("nil manifest must not request QUERY_ALL_PACKAGES")
	}
}

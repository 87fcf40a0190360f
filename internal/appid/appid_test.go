package appid

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		user UserId
		app  AppId
	}{
		{0, 10100},
		{1, 10100},
		{10, 99999},
		{0, 1000},
	}

	for _, tc := range cases {
		uid := Encode(tc.user, tc.app)
		gotUser, gotApp := Decode(uid)
		if gotUser != tc.user || gotApp != tc.app {
			t.Errorf("Decode(Encode(%d,%d)) = (%d,%d), want (%d,%d)",
				tc.user, tc.app, gotUser, gotApp, tc.user, tc.app)
		}
		if uid.User() != tc.user || uid.App() != tc.app {
			t.Errorf("Uid accessors mismatch for user=%d app=%d", tc.user, tc.app)
		}
	}
}

func TestDistinctUsersDistinctUids(t *testing.T) {
	a := Encode(0, 10100)
	b := Encode(1, 10100)
	if a == b {
		t.Fatalf("same appId under different users must encode to distinct uids, got %d == %d", a, b)
	}
}

func TestIsPrivileged(t *testing.T) {
	if AppId(1000).IsPrivileged() != true {
		t.Error("appId below FirstAppID must be privileged")
	}
	if AppId(FirstAppID).IsPrivileged() {
		t.Error("FirstAppID itself is not privileged")
	}
	if AppId(10100).IsPrivileged() {
		t.Error("ordinary app appId must not be privileged")
	}
}

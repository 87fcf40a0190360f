package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rcourtman/pkgvisibility/internal/appid"
)

func TestLookupAbsentBeforePublish(t *testing.T) {
	c := New()
	_, result := c.Lookup(appid.Encode(0, 10100), appid.Encode(0, 10101))
	assert.Equal(t, Absent, result)
	assert.False(t, c.Present())
}

func TestLookupRowAndEntryMissingAfterPublish(t *testing.T) {
	c := New()
	caller := appid.Encode(0, 10100)
	target := appid.Encode(0, 10101)
	other := appid.Encode(0, 10102)

	c.Publish(map[appid.Uid]map[appid.Uid]bool{
		caller: {target: true},
	})

	filtered, result := c.Lookup(caller, target)
	assert.Equal(t, Hit, result)
	assert.True(t, filtered)

	_, result = c.Lookup(caller, other)
	assert.Equal(t, EntryMissing, result)

	_, result = c.Lookup(appid.Encode(1, 10100), target)
	assert.Equal(t, RowMissing, result)
}

func TestSetCellOnlyTouchesOneCell(t *testing.T) {
	c := New()
	recipient := appid.Encode(0, 10100)
	visible := appid.Encode(0, 10101)
	other := appid.Encode(0, 10102)

	c.Publish(map[appid.Uid]map[appid.Uid]bool{
		recipient: {visible: true, other: true},
	})

	c.SetCell(recipient, visible, false)

	filtered, _ := c.Lookup(recipient, visible)
	assert.False(t, filtered)
	filtered, _ = c.Lookup(recipient, other)
	assert.True(t, filtered, "SetCell must not touch unrelated cells")
}

func TestAddPackageRowsBothDirectionsAllUserPairs(t *testing.T) {
	c := New()
	c.Publish(map[appid.Uid]map[appid.Uid]bool{})

	users := []appid.UserId{0, 1}
	newApp := appid.AppId(10200)
	others := []appid.AppId{10100}

	c.AddPackageRows(newApp, others, users, func(caller, target appid.Uid) bool {
		return false
	})

	for _, u := range users {
		newUid := appid.Encode(u, newApp)
		otherUid := appid.Encode(u, 10100)
		if _, r := c.Lookup(newUid, otherUid); r != Hit {
			t.Errorf("missing new->other row for user %d", u)
		}
		if _, r := c.Lookup(otherUid, newUid); r != Hit {
			t.Errorf("missing other->new row for user %d", u)
		}
	}
}

func TestRemovePackageRowsDeletesKeyAndValue(t *testing.T) {
	c := New()
	a := appid.Encode(0, 10100)
	b := appid.Encode(0, 10101)
	c.Publish(map[appid.Uid]map[appid.Uid]bool{
		a: {b: true},
		b: {a: true},
	})

	c.RemovePackageRows(10101, []appid.UserId{0})

	if _, r := c.Lookup(b, a); r != RowMissing {
		t.Error("removed package's own row must be gone")
	}
	if _, r := c.Lookup(a, b); r != EntryMissing {
		t.Error("removed package must be gone as a value from surviving rows")
	}
}

func TestInvalidateRevertsToAbsent(t *testing.T) {
	c := New()
	c.Publish(map[appid.Uid]map[appid.Uid]bool{})
	if !c.Present() {
		t.Fatal("expected present after publish")
	}
	c.Invalidate()
	if c.Present() {
		t.Fatal("expected absent after invalidate")
	}
}

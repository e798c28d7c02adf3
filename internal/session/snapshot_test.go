package session

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/prateekraj3711-alt/PwC/api/schemas"
)

func testSnapshots(t *testing.T) *SnapshotStore {
	t.Helper()
	ss, err := NewSnapshotStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	return ss
}

func sampleState() *schemas.StorageState {
	return &schemas.StorageState{
		Cookies: []schemas.Cookie{
			{Name: "ESTSAUTH", Value: "opaque", Domain: ".idp.example", Path: "/", Secure: true},
		},
		Origins: []schemas.OriginState{
			{Origin: "https://portal.example.com", LocalStorage: []schemas.LocalStorageItem{
				{Name: "msal.token", Value: "cached"},
			}},
		},
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	ss := testSnapshots(t)
	require.NoError(t, ss.Save("sess-1", sampleState()))

	got, err := ss.Load("sess-1")
	require.NoError(t, err)
	require.Len(t, got.Cookies, 1)
	assert.Equal(t, "ESTSAUTH", got.Cookies[0].Name)
	require.Len(t, got.Origins, 1)
	assert.Equal(t, "https://portal.example.com", got.Origins[0].Origin)
}

func TestSnapshotLoadMissing(t *testing.T) {
	ss := testSnapshots(t)
	_, err := ss.Load("ghost")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestSnapshotSaveSupersedes(t *testing.T) {
	ss := testSnapshots(t)
	require.NoError(t, ss.Save("sess-1", &schemas.StorageState{}))

	require.NoError(t, ss.Save("sess-1", sampleState()))
	got, err := ss.Load("sess-1")
	require.NoError(t, err)
	assert.Len(t, got.Cookies, 1, "post-OTP snapshot replaces the pre-OTP one")
}

func TestSnapshotDeleteIsIdempotent(t *testing.T) {
	ss := testSnapshots(t)
	require.NoError(t, ss.Save("sess-1", sampleState()))
	require.NoError(t, ss.Delete("sess-1"))
	require.NoError(t, ss.Delete("sess-1"))

	_, err := ss.Load("sess-1")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestSnapshotLatestByMtime(t *testing.T) {
	ss := testSnapshots(t)
	require.NoError(t, ss.Save("older", sampleState()))
	require.NoError(t, ss.Save("newer", sampleState()))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(ss.Path("older"), past, past))

	id, err := ss.LatestID()
	require.NoError(t, err)
	assert.Equal(t, "newer", id)
}

func TestSnapshotLatestEmpty(t *testing.T) {
	ss := testSnapshots(t)
	_, err := ss.LatestID()
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestSnapshotEvictOlderThan(t *testing.T) {
	ss := testSnapshots(t)
	require.NoError(t, ss.Save("stale", sampleState()))
	require.NoError(t, ss.Save("fresh", sampleState()))
	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(ss.Path("stale"), past, past))

	removed, err := ss.EvictOlderThan(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = ss.Load("stale")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
	_, err = ss.Load("fresh")
	assert.NoError(t, err)
}

func TestSnapshotDeleteAll(t *testing.T) {
	ss := testSnapshots(t)
	require.NoError(t, ss.Save("a", sampleState()))
	require.NoError(t, ss.Save("b", sampleState()))

	removed, err := ss.DeleteAll()
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	ids, err := ss.List()
	require.NoError(t, err)
	assert.Empty(t, ids)
}

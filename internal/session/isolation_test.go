package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/prateekraj3711-alt/PwC/internal/config"
)

func testIsolator(t *testing.T, cfg config.SessionConfig, st *Store, ss *SnapshotStore) *Isolator {
	t.Helper()
	portal := config.PortalConfig{SignOutURL: "https://portal.example.com/signout"}
	return NewIsolator(cfg, portal, st, ss, zap.NewNop())
}

func TestIsolationSweepClosesEverything(t *testing.T) {
	cfg := testSessionConfig(t)
	st := NewStore(cfg, zap.NewNop())
	ss, err := NewSnapshotStore(cfg.SnapshotDir, zap.NewNop())
	require.NoError(t, err)

	pages := make([]*fakePage, 3)
	for i := range pages {
		pages[i] = &fakePage{}
		s := st.Create(NewID(), pages[i])
		require.NoError(t, ss.Save(s.ID, sampleState()))
	}

	report := testIsolator(t, cfg, st, ss).Sweep(context.Background())

	assert.Equal(t, 3, report.SessionsClosed)
	assert.Equal(t, 3, report.SnapshotsDeleted)
	assert.Zero(t, report.Errors)
	assert.Zero(t, st.Len())
	assert.Empty(t, st.LatestID())

	ids, err := ss.List()
	require.NoError(t, err)
	assert.Empty(t, ids)

	for _, p := range pages {
		assert.True(t, p.isClosed())
		navigated := p.navigatedTo()
		require.Len(t, navigated, 1)
		assert.Equal(t, "https://portal.example.com/signout", navigated[0])
	}
}

func TestIsolationSweepEmptyIsNoop(t *testing.T) {
	cfg := testSessionConfig(t)
	st := NewStore(cfg, zap.NewNop())
	ss, err := NewSnapshotStore(cfg.SnapshotDir, zap.NewNop())
	require.NoError(t, err)

	report := testIsolator(t, cfg, st, ss).Sweep(context.Background())
	assert.Zero(t, report.SessionsClosed)
	assert.Zero(t, report.SnapshotsDeleted)
	assert.Zero(t, report.Errors)
}

func TestSweeperDropsExpiredSessionSnapshots(t *testing.T) {
	cfg := testSessionConfig(t)
	cfg.TTL = time.Millisecond
	st := NewStore(cfg, zap.NewNop())
	ss, err := NewSnapshotStore(cfg.SnapshotDir, zap.NewNop())
	require.NoError(t, err)

	page := &fakePage{}
	s := st.Create(NewID(), page)
	require.NoError(t, ss.Save(s.ID, sampleState()))
	time.Sleep(5 * time.Millisecond)

	NewSweeper(cfg, st, ss, zap.NewNop()).Sweep(context.Background())

	assert.Zero(t, st.Len())
	assert.True(t, page.isClosed())
	_, err = ss.Load(s.ID)
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

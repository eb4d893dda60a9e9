package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	require.NoError(t, err)
	return s
}

func TestOutboxLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	first := &OutboxEntry{
		TableName_:      TableMatchEvents,
		RecordID:        "ev-1",
		Operation:       "insert",
		Payload:         []byte(`{"id":"ev-1","kind":"goal","match_id":"m1"}`),
		CreatedByUserID: "u1",
	}
	require.NoError(t, s.AppendOutbox(ctx, first))
	require.NotEmpty(t, first.ID)
	require.Equal(t, OutboxPending, first.Status)

	second := &OutboxEntry{
		TableName_:      TableMatchEvents,
		RecordID:        "ev-2",
		Operation:       "insert",
		Payload:         []byte(`{"id":"ev-2","kind":"card","match_id":"m1"}`),
		CreatedByUserID: "u1",
	}
	require.NoError(t, s.AppendOutbox(ctx, second))

	pending, err := s.PendingOutbox(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	// Oldest first.
	require.Equal(t, "ev-1", pending[0].RecordID)

	require.NoError(t, s.MarkOutboxSynced(ctx, first.ID))
	require.NoError(t, s.MarkOutboxFailed(ctx, second.ID, "missing kind"))

	pending, err = s.PendingOutbox(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)

	// Entries are kept for audit, never deleted.
	var total int64
	require.NoError(t, s.DB().Model(&OutboxEntry{}).Count(&total).Error)
	require.EqualValues(t, 2, total)

	var failed OutboxEntry
	require.NoError(t, s.DB().First(&failed, "id = ?", second.ID).Error)
	require.Equal(t, OutboxFailed, failed.Status)
	require.Equal(t, "missing kind", failed.FailReason)
	var synced OutboxEntry
	require.NoError(t, s.DB().First(&synced, "id = ?", first.ID).Error)
	require.Equal(t, OutboxSynced, synced.Status)
	require.NotNil(t, synced.SyncedAt)
}

func TestPendingOutboxExcludesGuestEntries(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.AppendOutbox(ctx, &OutboxEntry{
		TableName_: TableMatchEvents, RecordID: "ev-g", Operation: "insert",
		CreatedByUserID: GuestPrefix + "abc",
	}))
	require.NoError(t, s.AppendOutbox(ctx, &OutboxEntry{
		TableName_: TableMatchEvents, RecordID: "ev-u", Operation: "insert",
		CreatedByUserID: "u1",
	}))

	pending, err := s.PendingOutbox(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "ev-u", pending[0].RecordID)
}

func TestApplyLiveEventDedupsByID(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	ev := MatchEvent{ID: "ev-1", MatchID: "m1", Kind: "goal"}
	ev.CreatedByUserID = "u2"

	applied, err := s.ApplyLiveEvent(ctx, &ev)
	require.NoError(t, err)
	require.True(t, applied)

	dup := MatchEvent{ID: "ev-1", MatchID: "m1", Kind: "goal"}
	dup.CreatedByUserID = "u2"
	applied, err = s.ApplyLiveEvent(ctx, &dup)
	require.NoError(t, err)
	require.False(t, applied)

	var n int64
	require.NoError(t, s.DB().Model(&MatchEvent{}).Count(&n).Error)
	require.EqualValues(t, 1, n)
}

func TestUnsyncedSelectorsAndMarkSynced(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	mine := Season{ID: "s1", Name: "2026"}
	mine.CreatedByUserID = "u1"
	guest := Season{ID: "s2", Name: "guest season"}
	guest.CreatedByUserID = GuestPrefix + "dev"
	deleted := Season{ID: "s3", Name: "gone"}
	deleted.CreatedByUserID = "u1"
	deleted.IsDeleted = true
	require.NoError(t, s.DB().Create(&mine).Error)
	require.NoError(t, s.DB().Create(&guest).Error)
	require.NoError(t, s.DB().Create(&deleted).Error)

	rows, err := s.UnsyncedSeasons(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "s1", rows[0].ID)

	require.NoError(t, s.MarkSynced(ctx, TableSeasons, "s1"))

	rows, err = s.UnsyncedSeasons(ctx)
	require.NoError(t, err)
	require.Empty(t, rows)

	var got Season
	require.NoError(t, s.DB().First(&got, "id = ?", "s1").Error)
	require.True(t, got.Synced)
	require.NotNil(t, got.SyncedAt)

	require.ErrorIs(t, s.MarkSynced(ctx, TableSeasons, "nope"), ErrNotFound)
}

func TestUnsyncedLineupEntriesIncludeDeleted(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	removed := LineupEntry{ID: "l1", MatchID: "m1", PlayerID: "p1"}
	removed.CreatedByUserID = "u1"
	removed.IsDeleted = true
	require.NoError(t, s.DB().Create(&removed).Error)

	rows, err := s.UnsyncedLineupEntries(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestPendingCounts(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	team := Team{ID: "t1", Name: "Reds"}
	team.CreatedByUserID = "u1"
	require.NoError(t, s.DB().Create(&team).Error)

	player := Player{ID: "p1", Name: "Nine"}
	player.CreatedByUserID = GuestPrefix + "x"
	require.NoError(t, s.DB().Create(&player).Error)

	require.NoError(t, s.AppendOutbox(ctx, &OutboxEntry{
		TableName_: TableMatchEvents, RecordID: "ev-1", Operation: "insert",
		CreatedByUserID: "u1",
	}))

	counts, err := s.PendingCounts(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, counts[TableTeams])
	require.EqualValues(t, 0, counts[TablePlayers]) // guest rows never count
	require.EqualValues(t, 1, counts[TableOutbox])
}

func TestIsGuestOwned(t *testing.T) {
	if !IsGuestOwned(GuestPrefix + "123") {
		t.Fatalf("expected guest prefix to be detected")
	}
	if IsGuestOwned("u1") {
		t.Fatalf("u1 is not a guest")
	}
}

package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var ErrNotFound = errors.New("record not found")

// Store is the durable local replica: one table per entity type plus the
// outbox. It has no network awareness; every write is a single-record,
// independently atomic operation.
type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

var migrated = []any{
	&Season{},
	&Team{},
	&Player{},
	&Match{},
	&LineupEntry{},
	&DefaultLineup{},
	&MatchEvent{},
	&MatchPeriod{},
	&MatchState{},
	&OutboxEntry{},
}

// Open opens (or creates) the sqlite database at path and migrates the
// schema. On a corruption signature it clears the file and retries once;
// a second failure propagates.
func Open(path string, log *zap.Logger) (*Store, error) {
	db, err := openAndMigrate(path)
	if err != nil {
		if !isCorruption(err) {
			return nil, err
		}
		log.Warn("local store corrupt, resetting schema", zap.String("path", path), zap.Error(err))
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			return nil, fmt.Errorf("reset local store: %w", rmErr)
		}
		db, err = openAndMigrate(path)
		if err != nil {
			return nil, fmt.Errorf("reopen after reset: %w", err)
		}
	}
	return &Store{db: db, log: log}, nil
}

func openAndMigrate(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	if err := db.AutoMigrate(migrated...); err != nil {
		return nil, fmt.Errorf("migrate local store: %w", err)
	}
	return db, nil
}

func isCorruption(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "file is not a database") ||
		strings.Contains(msg, "database disk image is malformed")
}

// DB exposes the underlying handle for the surrounding application's own
// entity CRUD. The sync core itself only uses the methods below.
func (s *Store) DB() *gorm.DB { return s.db }

// --- outbox primitives ---

// AppendOutbox durably records one pending mutation. Missing id, status
// and creation time are filled in.
func (s *Store) AppendOutbox(ctx context.Context, e *OutboxEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Status == "" {
		e.Status = OutboxPending
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(e).Error; err != nil {
		return fmt.Errorf("append outbox: %w", err)
	}
	return nil
}

// PendingOutbox returns every non-guest pending entry, oldest first.
func (s *Store) PendingOutbox(ctx context.Context) ([]OutboxEntry, error) {
	var out []OutboxEntry
	err := s.db.WithContext(ctx).
		Where("status = ? AND created_by_user_id NOT LIKE ?", OutboxPending, GuestPrefix+"%").
		Order("created_at asc").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("load pending outbox: %w", err)
	}
	return out, nil
}

// MarkOutboxSynced stamps an entry delivered. Entries are kept, not
// deleted, so the outbox doubles as an audit trail.
func (s *Store) MarkOutboxSynced(ctx context.Context, id string) error {
	now := time.Now().UTC()
	return s.updateOutbox(ctx, id, map[string]any{"status": OutboxSynced, "synced_at": &now})
}

// MarkOutboxFailed marks an entry terminally failed. Failed entries are
// excluded from future drains.
func (s *Store) MarkOutboxFailed(ctx context.Context, id, reason string) error {
	return s.updateOutbox(ctx, id, map[string]any{"status": OutboxFailed, "fail_reason": reason})
}

// BumpOutboxRetry counts a delivery attempt that failed transiently; the
// entry stays pending for the next drain.
func (s *Store) BumpOutboxRetry(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&OutboxEntry{}).
		Where("id = ?", id).
		UpdateColumn("retry_count", gorm.Expr("retry_count + 1"))
	if res.Error != nil {
		return fmt.Errorf("bump outbox retry: %w", res.Error)
	}
	return nil
}

func (s *Store) updateOutbox(ctx context.Context, id string, fields map[string]any) error {
	res := s.db.WithContext(ctx).Model(&OutboxEntry{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("update outbox %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// --- live event apply ---

// ApplyLiveEvent inserts a broadcast event received from another
// participant. Applying the same event id twice is a no-op; the first
// write wins and applied=false is returned for the duplicate.
func (s *Store) ApplyLiveEvent(ctx context.Context, ev *MatchEvent) (applied bool, err error) {
	// Broadcast events arrive already acknowledged by the authority.
	ev.Synced = true
	if ev.SyncedAt == nil {
		now := time.Now().UTC()
		ev.SyncedAt = &now
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(ev)
	if res.Error != nil {
		return false, fmt.Errorf("apply live event: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// --- reconciliation selectors ---

// unsyncedScope selects locally-owned work for reconciliation: unsynced
// and not guest-owned. Deleted rows are included only where the caller
// must propagate the deletion.
func unsyncedScope(db *gorm.DB, includeDeleted bool) *gorm.DB {
	db = db.Where("synced = ? AND created_by_user_id NOT LIKE ?", false, GuestPrefix+"%")
	if !includeDeleted {
		db = db.Where("is_deleted = ?", false)
	}
	return db.Order("created_at asc")
}

func (s *Store) UnsyncedSeasons(ctx context.Context) ([]Season, error) {
	var out []Season
	err := unsyncedScope(s.db.WithContext(ctx), false).Find(&out).Error
	return out, err
}

func (s *Store) UnsyncedTeams(ctx context.Context) ([]Team, error) {
	var out []Team
	err := unsyncedScope(s.db.WithContext(ctx), false).Find(&out).Error
	return out, err
}

func (s *Store) UnsyncedPlayers(ctx context.Context) ([]Player, error) {
	var out []Player
	err := unsyncedScope(s.db.WithContext(ctx), false).Find(&out).Error
	return out, err
}

func (s *Store) UnsyncedMatches(ctx context.Context) ([]Match, error) {
	var out []Match
	err := unsyncedScope(s.db.WithContext(ctx), false).Find(&out).Error
	return out, err
}

// UnsyncedLineupEntries includes soft-deleted rows: a deletion that the
// authority has not confirmed still needs a delete request.
func (s *Store) UnsyncedLineupEntries(ctx context.Context) ([]LineupEntry, error) {
	var out []LineupEntry
	err := unsyncedScope(s.db.WithContext(ctx), true).Find(&out).Error
	return out, err
}

func (s *Store) UnsyncedDefaultLineups(ctx context.Context) ([]DefaultLineup, error) {
	var out []DefaultLineup
	err := unsyncedScope(s.db.WithContext(ctx), true).Find(&out).Error
	return out, err
}

// MarkSynced flips a record's synced flag and stamps synced_at. The flag
// only ever transitions false→true here; local mutations flip it back by
// writing the record itself.
func (s *Store) MarkSynced(ctx context.Context, table, id string) error {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Table(table).
		Where("id = ?", id).
		Updates(map[string]any{"synced": true, "synced_at": &now})
	if res.Error != nil {
		return fmt.Errorf("mark %s/%s synced: %w", table, id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SyncableTables lists the entity tables reconciliation pushes, in the
// fixed order a pass walks them.
var SyncableTables = []string{
	TableSeasons,
	TableTeams,
	TablePlayers,
	TableMatches,
	TableLineupEntries,
	TableDefaultLineups,
}

// PendingCounts returns per-table counts of unsynced, non-guest,
// non-deleted records, plus the pending outbox depth under the outbox
// table's own name.
func (s *Store) PendingCounts(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64, len(SyncableTables)+1)
	for _, table := range SyncableTables {
		var n int64
		err := s.db.WithContext(ctx).Table(table).
			Where("synced = ? AND is_deleted = ? AND created_by_user_id NOT LIKE ?",
				false, false, GuestPrefix+"%").
			Count(&n).Error
		if err != nil {
			return nil, fmt.Errorf("count pending %s: %w", table, err)
		}
		counts[table] = n
	}
	var n int64
	err := s.db.WithContext(ctx).Model(&OutboxEntry{}).
		Where("status = ? AND created_by_user_id NOT LIKE ?", OutboxPending, GuestPrefix+"%").
		Count(&n).Error
	if err != nil {
		return nil, fmt.Errorf("count pending outbox: %w", err)
	}
	counts[TableOutbox] = n
	return counts, nil
}

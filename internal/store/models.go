package store

import (
	"strings"
	"time"
)

// GuestPrefix marks records created under an anonymous local identity.
// Guest-owned rows live in the store like any other but are permanently
// excluded from outbox drains and reconciliation passes.
const GuestPrefix = "guest-"

// IsGuestOwned reports whether the given owner id carries the guest marker.
func IsGuestOwned(userID string) bool {
	return strings.HasPrefix(userID, GuestPrefix)
}

// SyncMeta is embedded in every entity table. A row with Synced=true is
// assumed consistent with the remote authority; any local mutation must
// flip Synced back to false in the same write.
type SyncMeta struct {
	CreatedByUserID string     `gorm:"index;not null" json:"created_by_user_id"`
	Synced          bool       `gorm:"index;not null;default:false" json:"synced"`
	SyncedAt        *time.Time `json:"synced_at,omitempty"`
	IsDeleted       bool       `gorm:"not null;default:false" json:"is_deleted"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type Season struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name      string    `gorm:"not null" json:"name"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	SyncMeta
}

func (Season) TableName() string { return TableSeasons }

type Team struct {
	ID       string  `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name     string  `gorm:"not null" json:"name"`
	SeasonID *string `gorm:"index" json:"season_id,omitempty"`
	SyncMeta
}

func (Team) TableName() string { return TableTeams }

type Player struct {
	ID          string  `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name        string  `gorm:"not null" json:"name"`
	ShirtNumber int     `json:"shirt_number"`
	// A nil TeamID means the player is unattached; reconciliation routes
	// attached players to a different endpoint so the remote authority can
	// establish the team relationship atomically with creation.
	TeamID *string `gorm:"index" json:"team_id,omitempty"`
	SyncMeta
}

func (Player) TableName() string { return TablePlayers }

type Match struct {
	ID         string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	SeasonID   *string   `gorm:"index" json:"season_id,omitempty"`
	HomeTeamID string    `gorm:"index;not null" json:"home_team_id"`
	AwayTeamID string    `gorm:"index" json:"away_team_id"`
	Opponent   string    `json:"opponent,omitempty"`
	KickoffAt  time.Time `json:"kickoff_at"`
	Venue      string    `json:"venue,omitempty"`
	SyncMeta
}

func (Match) TableName() string { return TableMatches }

type LineupEntry struct {
	ID       string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	MatchID  string `gorm:"index:idx_lineup_match_player;not null" json:"match_id"`
	PlayerID string `gorm:"index:idx_lineup_match_player;not null" json:"player_id"`
	Position string `json:"position"`
	SyncMeta
}

func (LineupEntry) TableName() string { return TableLineupEntries }

type DefaultLineup struct {
	ID        string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	TeamID    string `gorm:"uniqueIndex;not null" json:"team_id"`
	Formation string `json:"formation"`
	// Positions is a JSON document mapping formation slots to player ids;
	// the pitch editor owns its shape, the store just carries it.
	Positions []byte `gorm:"type:json" json:"positions,omitempty"`
	SyncMeta
}

func (DefaultLineup) TableName() string { return TableDefaultLineups }

// MatchEvent is a live-match domain event (goal, card, substitution...).
// Events are exclusively owned by the match they belong to.
type MatchEvent struct {
	ID       string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	MatchID  string `gorm:"index;not null" json:"match_id"`
	Kind     string `gorm:"size:32;not null" json:"kind"`
	TeamID   string `json:"team_id,omitempty"`
	PlayerID string `json:"player_id,omitempty"`
	Period   int    `json:"period"`
	ClockMs  int64  `json:"clock_ms"`
	Notes    string `json:"notes,omitempty"`
	SyncMeta
}

func (MatchEvent) TableName() string { return TableMatchEvents }

type MatchPeriod struct {
	ID             string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	MatchID        string `gorm:"index;not null" json:"match_id"`
	Number         int    `gorm:"not null" json:"number"`
	StartedClockMs int64  `json:"started_clock_ms"`
	EndedClockMs   *int64 `json:"ended_clock_ms,omitempty"`
	SyncMeta
}

func (MatchPeriod) TableName() string { return TableMatchPeriods }

type MatchState struct {
	ID        string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	MatchID   string `gorm:"uniqueIndex;not null" json:"match_id"`
	Status    string `gorm:"size:16" json:"status"` // scheduled, live, paused, finished
	HomeScore int    `json:"home_score"`
	AwayScore int    `json:"away_score"`
	SyncMeta
}

func (MatchState) TableName() string { return TableMatchStates }

// Outbox entry lifecycle. Rows are never deleted; synced and failed rows
// persist for audit.
const (
	OutboxPending = "pending"
	OutboxSynced  = "synced"
	OutboxFailed  = "failed"
)

// OutboxEntry is one durable pending mutation, appended when live delivery
// is not possible and replayed oldest-first on reconnect.
type OutboxEntry struct {
	ID              string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	TableName_      string     `gorm:"column:table_name;size:64;index;not null" json:"table_name"`
	RecordID        string     `gorm:"index;not null" json:"record_id"`
	Operation       string     `gorm:"size:16;not null" json:"operation"` // insert, update, delete
	Payload         []byte     `gorm:"type:json" json:"payload"`
	Status          string     `gorm:"size:16;index;not null;default:'pending'" json:"status"`
	FailReason      string     `json:"fail_reason,omitempty"`
	RetryCount      int        `gorm:"not null;default:0" json:"retry_count"`
	CreatedByUserID string     `gorm:"index;not null" json:"created_by_user_id"`
	CreatedAt       time.Time  `gorm:"index" json:"created_at"`
	SyncedAt        *time.Time `json:"synced_at,omitempty"`
}

func (OutboxEntry) TableName() string { return TableOutbox }

// Table names, shared between models, unsynced selectors and the payload
// decoders so a rename cannot drift.
const (
	TableSeasons        = "seasons"
	TableTeams          = "teams"
	TablePlayers        = "players"
	TableMatches        = "matches"
	TableLineupEntries  = "lineup_entries"
	TableDefaultLineups = "default_lineups"
	TableMatchEvents    = "match_events"
	TableMatchPeriods   = "match_periods"
	TableMatchStates    = "match_states"
	TableOutbox         = "outbox_entries"
)

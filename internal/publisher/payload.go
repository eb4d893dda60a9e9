package publisher

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/matchkeeper/matchsync/internal/store"
	"github.com/matchkeeper/matchsync/pkg/types"
)

var (
	ErrMissingKind    = errors.New("event missing kind")
	ErrMissingMatchID = errors.New("event missing match id")
	ErrUnknownTable   = errors.New("unknown outbox table")
)

// outboxFromEvent snapshots an event into a durable entry. The payload is
// the full wire shape so a drain can replay it without re-reading the
// entity table.
func outboxFromEvent(ev types.MatchEventPayload) (*store.OutboxEntry, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode outbox payload: %w", err)
	}
	return &store.OutboxEntry{
		TableName_:      store.TableMatchEvents,
		RecordID:        ev.ID,
		Operation:       "insert",
		Payload:         payload,
		CreatedByUserID: ev.CreatedByUserID,
	}, nil
}

// eventFromEntry reconstructs the wire payload for one outbox entry. The
// mapping is explicit per table so that a structurally invalid entry is
// caught here, once, instead of crashing a drain mid-loop.
func eventFromEntry(e store.OutboxEntry) (types.MatchEventPayload, error) {
	switch e.TableName_ {
	case store.TableMatchEvents:
		var p types.MatchEventPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return types.MatchEventPayload{}, fmt.Errorf("decode %s payload: %w", e.TableName_, err)
		}
		if p.Kind == "" {
			return types.MatchEventPayload{}, ErrMissingKind
		}
		if p.MatchID == "" {
			return types.MatchEventPayload{}, ErrMissingMatchID
		}
		if p.ID == "" {
			p.ID = e.RecordID
		}
		return p, nil
	default:
		return types.MatchEventPayload{}, fmt.Errorf("%w: %s", ErrUnknownTable, e.TableName_)
	}
}

// eventFromPayload maps an inbound broadcast onto the stored model.
func eventFromPayload(p types.MatchEventPayload) store.MatchEvent {
	ev := store.MatchEvent{
		ID:       p.ID,
		MatchID:  p.MatchID,
		Kind:     p.Kind,
		TeamID:   p.TeamID,
		PlayerID: p.PlayerID,
		Period:   p.Period,
		ClockMs:  p.ClockMs,
		Notes:    p.Notes,
	}
	ev.CreatedByUserID = p.CreatedByUserID
	return ev
}

package types

// Channel message types.
//
// Client -> Server
//   match_event: one live event, carries an ack id; server answers with an
//     ack message for that id and {success:bool}
//   join-match / leave-match: scope the live broadcast to a match room
//
// Server -> Client
//   ack: acknowledgment for a previously emitted match_event
//   live_event: broadcast of another participant's event
//   match_event_confirmed: optional secondary confirmation by event id
const (
	MsgMatchEvent     = "match_event"
	MsgJoinMatch      = "join-match"
	MsgLeaveMatch     = "leave-match"
	MsgAck            = "ack"
	MsgLiveEvent      = "live_event"
	MsgEventConfirmed = "match_event_confirmed"
)

// MatchEventPayload is the wire shape of a live-match domain event.
type MatchEventPayload struct {
	ID              string `json:"id"`
	Kind            string `json:"kind"`
	MatchID         string `json:"match_id"`
	TeamID          string `json:"team_id,omitempty"`
	PlayerID        string `json:"player_id,omitempty"`
	Period          int    `json:"period"`
	ClockMs         int64  `json:"clock_ms"`
	Notes           string `json:"notes,omitempty"`
	CreatedByUserID string `json:"created_by_user_id"`
}

type ClientMessage struct {
	Type    string             `json:"type"`
	AckID   string             `json:"ack_id,omitempty"`
	MatchID string             `json:"match_id,omitempty"`
	Event   *MatchEventPayload `json:"event,omitempty"`
}

type ServerMessage struct {
	Type    string             `json:"type"`
	AckID   string             `json:"ack_id,omitempty"`
	Success bool               `json:"success,omitempty"`
	Error   string             `json:"error,omitempty"`
	EventID string             `json:"event_id,omitempty"`
	Event   *MatchEventPayload `json:"event,omitempty"`
}

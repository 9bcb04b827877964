package protocol

import "github.com/park285/Cheese-Arena/internal/domain"

// Outbound kinds.
const (
	KindFindMatch        Kind = "find_match"
	KindCancelSearch     Kind = "cancel_search"
	KindJoinGame         Kind = "join_game"
	KindMove             Kind = "move"
	KindResign           Kind = "resign"
	KindSyncGame         Kind = "sync_game"
	KindClockSyncRequest Kind = "clock_sync_request"
)

type FindMatchMsg struct {
	Type        Kind     `json:"type"`
	Wager       int64    `json:"wager"`
	PlayerIDs   []string `json:"player_ids"`
	DisplayName string   `json:"display_name,omitempty"`
}

type CancelSearchMsg struct {
	Type Kind `json:"type"`
}

type JoinGameMsg struct {
	Type      Kind   `json:"type"`
	SessionID string `json:"session_id"`
}

type MoveMsg struct {
	Type      Kind   `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	UCI       string `json:"uci"`
}

type ResignMsg struct {
	Type         Kind   `json:"type"`
	SessionID    string `json:"session_id"`
	PersistentID string `json:"persistent_id,omitempty"`
}

type SyncGameMsg struct {
	Type      Kind   `json:"type"`
	SessionID string `json:"session_id"`
}

type ClockSyncRequestMsg struct {
	Type      Kind   `json:"type"`
	SessionID string `json:"session_id"`
}

func FindMatch(wager int64, playerID, displayName string) FindMatchMsg {
	ids := []string{}
	if playerID != "" {
		ids = append(ids, playerID)
	}
	return FindMatchMsg{Type: KindFindMatch, Wager: wager, PlayerIDs: ids, DisplayName: displayName}
}

func CancelSearch() CancelSearchMsg { return CancelSearchMsg{Type: KindCancelSearch} }

func JoinGame(sessionID string) JoinGameMsg {
	return JoinGameMsg{Type: KindJoinGame, SessionID: sessionID}
}

// MoveOf encodes mv as from+to+promotion.
func MoveOf(sessionID string, mv domain.Move) MoveMsg {
	return MoveMsg{Type: KindMove, SessionID: sessionID, UCI: mv.UCI()}
}

func Resign(sessionID, persistentID string) ResignMsg {
	return ResignMsg{Type: KindResign, SessionID: sessionID, PersistentID: persistentID}
}

func SyncGame(sessionID string) SyncGameMsg {
	return SyncGameMsg{Type: KindSyncGame, SessionID: sessionID}
}

func ClockSyncRequest(sessionID string) ClockSyncRequestMsg {
	return ClockSyncRequestMsg{Type: KindClockSyncRequest, SessionID: sessionID}
}

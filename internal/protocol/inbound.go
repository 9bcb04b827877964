package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/park285/Cheese-Arena/internal/domain"
)

// Kind is the `type` discriminator of a wire message.
type Kind string

const (
	KindWelcome            Kind = "welcome"
	KindSearching          Kind = "searching"
	KindWaitingForOpponent Kind = "waiting_for_opponent"
	KindMatchFound         Kind = "match_found"
	KindMoveApplied        Kind = "move_applied"
	KindGameSync           Kind = "game_sync"
	KindClockSnapshot      Kind = "clock_snapshot"
	KindClockUpdate        Kind = "clock_update"
	KindGameEnded          Kind = "game_ended"
	KindCreditsSettled     Kind = "credits_settled"
	KindOpponentLeft       Kind = "opponent_left"
	KindSessionReconnected Kind = "session_reconnected"
	KindError              Kind = "error"
)

var (
	ErrMalformed   = errors.New("malformed message")
	ErrUnknownKind = errors.New("unknown message kind")
)

// ValidationError reports a missing or invalid required field.
type ValidationError struct {
	Kind  Kind
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: missing or invalid field %q", e.Kind, e.Field)
}

// Inbound is the sealed set of server -> client messages.
type Inbound interface {
	Kind() Kind
	isInbound()
}

// TimerFields are embedded in every message that carries a clock reading.
type TimerFields struct {
	FirstMs      *int64 `json:"first_ms,omitempty"`
	SecondMs     *int64 `json:"second_ms,omitempty"`
	ServerNow    int64  `json:"server_now,omitempty"`
	ClockRunning *bool  `json:"clock_running,omitempty"`
}

// HasClock reports whether both remaining times are present.
func (t TimerFields) HasClock() bool { return t.FirstMs != nil && t.SecondMs != nil }

// Snapshot builds a TimerSnapshot; offset is filled in by the clock engine.
func (t TimerFields) Snapshot(turn domain.Side) domain.TimerSnapshot {
	snap := domain.TimerSnapshot{Turn: turn, ServerNow: t.ServerNow}
	if t.FirstMs != nil {
		snap.FirstMs = *t.FirstMs
	}
	if t.SecondMs != nil {
		snap.SecondMs = *t.SecondMs
	}
	if t.ClockRunning != nil {
		snap.ClockRunning = *t.ClockRunning
	}
	return snap
}

type Welcome struct {
	ClientID string `json:"client_id,omitempty"`
}

type Searching struct {
	Wager int64 `json:"wager,omitempty"`
}

type WaitingForOpponent struct {
	SessionID string `json:"session_id,omitempty"`
}

type MatchFound struct {
	SessionID    string `json:"session_id"`
	PersistentID string `json:"persistent_id,omitempty"`
	Color        string `json:"color"`
	Board        string `json:"board"`
	Turn         string `json:"turn,omitempty"`
	Wager        int64  `json:"wager"`
	Opponent     string `json:"opponent,omitempty"`
	TimerFields
}

type MoveApplied struct {
	SessionID string `json:"session_id,omitempty"`
	Board     string `json:"board"`
	Turn      string `json:"turn"`
	TimerFields
}

type GameSync struct {
	SessionID string `json:"session_id"`
	Board     string `json:"board"`
	Turn      string `json:"turn"`
	Status    string `json:"status,omitempty"`
	TimerFields
}

type ClockSnapshot struct {
	kind      Kind
	SessionID string `json:"session_id,omitempty"`
	Turn      string `json:"turn"`
	TimerFields
}

type GameEnded struct {
	SessionID     string `json:"session_id,omitempty"`
	Reason        string `json:"reason"`
	WinnerSide    string `json:"winner_side,omitempty"`
	CreditsChange *int64 `json:"credits_change,omitempty"`
}

type CreditsSettled struct {
	SessionID string `json:"session_id,omitempty"`
	Balance   int64  `json:"balance,omitempty"`
}

type OpponentLeft struct {
	SessionID string `json:"session_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type SessionReconnected struct {
	SessionID    string `json:"session_id"`
	PersistentID string `json:"persistent_id,omitempty"`
	Color        string `json:"color"`
	Board        string `json:"board"`
	Turn         string `json:"turn"`
	Wager        int64  `json:"wager"`
	Opponent     string `json:"opponent,omitempty"`
	TimerFields
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

func (Welcome) Kind() Kind            { return KindWelcome }
func (Searching) Kind() Kind          { return KindSearching }
func (WaitingForOpponent) Kind() Kind { return KindWaitingForOpponent }
func (MatchFound) Kind() Kind         { return KindMatchFound }
func (MoveApplied) Kind() Kind        { return KindMoveApplied }
func (GameSync) Kind() Kind           { return KindGameSync }
func (c ClockSnapshot) Kind() Kind {
	if c.kind == "" {
		return KindClockSnapshot
	}
	return c.kind
}
func (GameEnded) Kind() Kind          { return KindGameEnded }
func (CreditsSettled) Kind() Kind     { return KindCreditsSettled }
func (OpponentLeft) Kind() Kind       { return KindOpponentLeft }
func (SessionReconnected) Kind() Kind { return KindSessionReconnected }
func (Error) Kind() Kind              { return KindError }

func (Welcome) isInbound()            {}
func (Searching) isInbound()          {}
func (WaitingForOpponent) isInbound() {}
func (MatchFound) isInbound()         {}
func (MoveApplied) isInbound()        {}
func (GameSync) isInbound()           {}
func (ClockSnapshot) isInbound()      {}
func (GameEnded) isInbound()          {}
func (CreditsSettled) isInbound()     {}
func (OpponentLeft) isInbound()       {}
func (SessionReconnected) isInbound() {}
func (Error) isInbound()              {}

type envelope struct {
	Type Kind `json:"type"`
}

// PeekKind returns the discriminator without decoding the body.
func PeekKind(raw []byte) (Kind, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return Kind(strings.TrimSpace(string(env.Type))), nil
}

// Decode parses one inbound frame into its concrete message type.
func Decode(raw []byte) (Inbound, error) {
	kind, err := PeekKind(raw)
	if err != nil {
		return nil, err
	}
	var msg Inbound
	switch kind {
	case KindWelcome:
		msg, err = decodeAs[Welcome](raw)
	case KindSearching:
		msg, err = decodeAs[Searching](raw)
	case KindWaitingForOpponent:
		msg, err = decodeAs[WaitingForOpponent](raw)
	case KindMatchFound:
		var m MatchFound
		if m, err = decodeAs[MatchFound](raw); err == nil {
			err = m.validate()
		}
		msg = m
	case KindMoveApplied:
		var m MoveApplied
		if m, err = decodeAs[MoveApplied](raw); err == nil {
			err = m.validate()
		}
		msg = m
	case KindGameSync:
		var m GameSync
		if m, err = decodeAs[GameSync](raw); err == nil {
			err = m.validate()
		}
		msg = m
	case KindClockSnapshot, KindClockUpdate:
		var m ClockSnapshot
		if m, err = decodeAs[ClockSnapshot](raw); err == nil {
			m.kind = kind
			err = m.validate()
		}
		msg = m
	case KindGameEnded:
		msg, err = decodeAs[GameEnded](raw)
	case KindCreditsSettled:
		msg, err = decodeAs[CreditsSettled](raw)
	case KindOpponentLeft:
		msg, err = decodeAs[OpponentLeft](raw)
	case KindSessionReconnected:
		var m SessionReconnected
		if m, err = decodeAs[SessionReconnected](raw); err == nil {
			err = m.validate()
		}
		msg = m
	case KindError:
		msg, err = decodeAs[Error](raw)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func decodeAs[T any](raw []byte) (T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return v, nil
}

func (m MatchFound) validate() error {
	if strings.TrimSpace(m.SessionID) == "" {
		return &ValidationError{Kind: KindMatchFound, Field: "session_id"}
	}
	if _, ok := domain.ParseSide(m.Color); !ok {
		return &ValidationError{Kind: KindMatchFound, Field: "color"}
	}
	if strings.TrimSpace(m.Board) == "" {
		return &ValidationError{Kind: KindMatchFound, Field: "board"}
	}
	if m.Wager < 0 {
		return &ValidationError{Kind: KindMatchFound, Field: "wager"}
	}
	return nil
}

func (m MoveApplied) validate() error {
	if strings.TrimSpace(m.Board) == "" {
		return &ValidationError{Kind: KindMoveApplied, Field: "board"}
	}
	if _, ok := domain.ParseSide(m.Turn); !ok {
		return &ValidationError{Kind: KindMoveApplied, Field: "turn"}
	}
	return nil
}

func (m GameSync) validate() error {
	if strings.TrimSpace(m.SessionID) == "" {
		return &ValidationError{Kind: KindGameSync, Field: "session_id"}
	}
	if strings.TrimSpace(m.Board) == "" {
		return &ValidationError{Kind: KindGameSync, Field: "board"}
	}
	if _, ok := domain.ParseSide(m.Turn); !ok {
		return &ValidationError{Kind: KindGameSync, Field: "turn"}
	}
	return nil
}

func (m ClockSnapshot) validate() error {
	if _, ok := domain.ParseSide(m.Turn); !ok {
		return &ValidationError{Kind: m.Kind(), Field: "turn"}
	}
	if !m.HasClock() {
		return &ValidationError{Kind: m.Kind(), Field: "first_ms"}
	}
	return nil
}

func (m SessionReconnected) validate() error {
	if strings.TrimSpace(m.SessionID) == "" {
		return &ValidationError{Kind: KindSessionReconnected, Field: "session_id"}
	}
	if _, ok := domain.ParseSide(m.Color); !ok {
		return &ValidationError{Kind: KindSessionReconnected, Field: "color"}
	}
	if strings.TrimSpace(m.Board) == "" {
		return &ValidationError{Kind: KindSessionReconnected, Field: "board"}
	}
	if _, ok := domain.ParseSide(m.Turn); !ok {
		return &ValidationError{Kind: KindSessionReconnected, Field: "turn"}
	}
	return nil
}

// Turn parses the side to move; callers only use it after validation.
func Turn(s string) domain.Side {
	side, _ := domain.ParseSide(s)
	return side
}

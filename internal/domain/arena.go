package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Side identifies a seat at the board. First moves first (white in chess).
type Side string

const (
	First  Side = "first"
	Second Side = "second"
)

// ParseSide accepts the protocol names and the chess aliases.
func ParseSide(s string) (Side, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "first", "white", "w":
		return First, true
	case "second", "black", "b":
		return Second, true
	default:
		return "", false
	}
}

func (s Side) Opponent() Side {
	if s == First {
		return Second
	}
	return First
}

func (s Side) Valid() bool { return s == First || s == Second }

// Phase is the session lifecycle state.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseSearching Phase = "searching"
	PhaseInSession Phase = "in_session"
	PhaseEnded     Phase = "ended"
)

// Session identifies one match.
type Session struct {
	ID           string
	PersistentID string
	LocalSide    Side
	Wager        int64
	StartedAt    time.Time
}

var ErrBadMove = errors.New("malformed move")

// Move is a from/to pair in algebraic squares with an optional promotion letter.
type Move struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

// UCI concatenates from+to+promotion.
func (m Move) UCI() string {
	return strings.ToLower(m.From + m.To + m.Promotion)
}

func (m Move) String() string { return m.UCI() }

// ParseUCI splits "e7e8q" style text into a Move.
func ParseUCI(s string) (Move, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != 4 && len(s) != 5 {
		return Move{}, fmt.Errorf("%w: %q", ErrBadMove, s)
	}
	if !validSquare(s[0:2]) || !validSquare(s[2:4]) {
		return Move{}, fmt.Errorf("%w: %q", ErrBadMove, s)
	}
	mv := Move{From: s[0:2], To: s[2:4]}
	if len(s) == 5 {
		if !strings.ContainsRune("qrbn", rune(s[4])) {
			return Move{}, fmt.Errorf("%w: promotion %q", ErrBadMove, s[4:])
		}
		mv.Promotion = s[4:]
	}
	return mv, nil
}

func validSquare(sq string) bool {
	return len(sq) == 2 && sq[0] >= 'a' && sq[0] <= 'h' && sq[1] >= '1' && sq[1] <= '8'
}

// BoardState is the canonical position plus the side to move.
type BoardState struct {
	Position string
	Turn     Side
	// LastMove is the opponent move inferred for highlighting; nil when unknown.
	LastMove *Move
}

// TimerSnapshot is a server clock reading. It is always replaced, never patched.
type TimerSnapshot struct {
	FirstMs      int64
	SecondMs     int64
	Turn         Side
	ClockRunning bool
	// ServerNow is the server timestamp (unix ms) at snapshot creation.
	ServerNow int64
	// ServerOffsetMs = ServerNow - localNow at receipt.
	ServerOffsetMs int64
	ReceivedAt     time.Time
}

// Stored returns the remaining milliseconds recorded for side.
func (t TimerSnapshot) Stored(side Side) int64 {
	if side == First {
		return t.FirstMs
	}
	return t.SecondMs
}

// Terminal reasons. The resign reasons name the causer.
const (
	ReasonSelfResigned     = "self_resigned"
	ReasonOpponentResigned = "opponent_resigned"
	ReasonOpponentLeft     = "opponent_left"
	ReasonTimeout          = "timeout"
	ReasonCheckmate        = "checkmate"
	ReasonDraw             = "draw"
)

// GameEndResult is created once per session and never modified.
type GameEndResult struct {
	SessionID      string
	Reason         string
	WinnerSide     *Side
	CreditsChange  int64
	IsOpponentLeft bool
	EndedAt        time.Time
}

// Won reports whether local won the game.
func (r GameEndResult) Won(local Side) bool {
	return r.WinnerSide != nil && *r.WinnerSide == local
}

// MatchMeta holds matchmaking metadata.
type MatchMeta struct {
	Wager         int64
	DisplayName   string
	Opponent      string
	PendingJoinID string
}

// ClockDisplay is what the UI shows, in whole seconds.
type ClockDisplay struct {
	FirstSec  int64
	SecondSec int64
}

func (d ClockDisplay) For(side Side) int64 {
	if side == First {
		return d.FirstSec
	}
	return d.SecondSec
}

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notice is a user-facing message. Only user-actionable errors become notices.
type Notice struct {
	Code      string
	Message   string
	Severity  Severity
	Retryable bool
}

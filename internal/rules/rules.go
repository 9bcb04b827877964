package rules

import (
	"errors"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/Cheese-Arena/internal/domain"
)

var (
	ErrIllegalMove = errors.New("illegal move")
	ErrBadPosition = errors.New("bad position")
)

// Engine is the rules surface the session core consumes. Boards are opaque
// position strings.
type Engine interface {
	// LegalMoves lists legal moves; an empty square means every square.
	LegalMoves(board, square string) ([]domain.Move, error)
	// ApplyMove returns the resulting board or ErrIllegalMove.
	ApplyMove(board string, mv domain.Move) (string, error)
	IsTerminalPosition(board string) bool
	SideToMove(board string) (domain.Side, error)
}

// Chess implements Engine with corentings/chess.
type Chess struct{}

func NewChess() Chess { return Chess{} }

func load(board string) (*nchess.Game, error) {
	opt, err := nchess.FEN(strings.TrimSpace(board))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPosition, err)
	}
	return nchess.NewGame(opt), nil
}

func (Chess) LegalMoves(board, square string) ([]domain.Move, error) {
	game, err := load(board)
	if err != nil {
		return nil, err
	}
	square = strings.ToLower(strings.TrimSpace(square))
	out := make([]domain.Move, 0, 32)
	for _, mv := range game.ValidMoves() {
		parsed, perr := domain.ParseUCI(mv.String())
		if perr != nil {
			continue
		}
		if square != "" && parsed.From != square {
			continue
		}
		out = append(out, parsed)
	}
	return out, nil
}

func (Chess) ApplyMove(board string, mv domain.Move) (string, error) {
	game, err := load(board)
	if err != nil {
		return "", err
	}
	if err := game.PushNotationMove(mv.UCI(), nchess.UCINotation{}, nil); err != nil {
		return "", fmt.Errorf("%w: %s", ErrIllegalMove, mv.UCI())
	}
	return game.FEN(), nil
}

// IsTerminalPosition treats a position with no legal replies as over.
// Unparseable boards are not terminal; the server decides.
func (Chess) IsTerminalPosition(board string) bool {
	game, err := load(board)
	if err != nil {
		return false
	}
	return len(game.ValidMoves()) == 0
}

func (Chess) SideToMove(board string) (domain.Side, error) {
	fields := strings.Fields(board)
	if len(fields) < 2 {
		return "", fmt.Errorf("%w: %q", ErrBadPosition, board)
	}
	side, ok := domain.ParseSide(fields[1])
	if !ok {
		return "", fmt.Errorf("%w: turn %q", ErrBadPosition, fields[1])
	}
	return side, nil
}

// SamePosition compares two FENs ignoring the halfmove and fullmove counters.
// The en passant field is ignored too: encoders disagree on when to emit it.
func SamePosition(a, b string) bool {
	return positionKey(a) == positionKey(b)
}

func positionKey(fen string) string {
	fields := strings.Fields(fen)
	if len(fields) > 3 {
		fields = fields[:3]
	}
	return strings.Join(fields, " ")
}

// InferMove finds the first legal move from prev that reproduces next.
func InferMove(e Engine, prev, next string) (domain.Move, bool) {
	if e == nil || strings.TrimSpace(prev) == "" {
		return domain.Move{}, false
	}
	candidates, err := e.LegalMoves(prev, "")
	if err != nil {
		return domain.Move{}, false
	}
	for _, mv := range candidates {
		after, aerr := e.ApplyMove(prev, mv)
		if aerr != nil {
			continue
		}
		if SamePosition(after, next) {
			return mv, true
		}
	}
	return domain.Move{}, false
}

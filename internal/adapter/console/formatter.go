package console

import (
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/Cheese-Arena/internal/domain"
	"github.com/park285/Cheese-Arena/internal/store"
)

// Formatter renders store snapshots into terminal text blocks.
type Formatter struct{}

func NewFormatter() *Formatter { return &Formatter{} }

func (f *Formatter) State(st store.State) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("♞ phase: %s\n", st.Phase))
	switch st.Phase {
	case domain.PhaseIdle:
		sb.WriteString("• `find <wager>` to search, `join <id>` to rejoin.\n")
		return sb.String()
	case domain.PhaseSearching:
		sb.WriteString(fmt.Sprintf("• searching, wager %d\n", st.Match.Wager))
		return sb.String()
	}

	if sess := st.Session; sess != nil {
		sb.WriteString(fmt.Sprintf("• session %s vs %s (%s), wager %d\n", sess.ID, orDash(st.Match.Opponent), sess.LocalSide, sess.Wager))
		sb.WriteString(fmt.Sprintf("• clock  you %s | opp %s\n",
			Clock(st.Display.For(sess.LocalSide)), Clock(st.Display.For(sess.LocalSide.Opponent()))))
	}
	if st.Board != nil {
		perspective := domain.First
		if st.Session != nil {
			perspective = st.Session.LocalSide
		}
		sb.WriteString(Board(st.Board.Position, perspective))
		turn := "opponent"
		if st.LocalTurn() {
			turn = "you"
		}
		sb.WriteString(fmt.Sprintf("• to move: %s", turn))
		if lm := st.Board.LastMove; lm != nil {
			sb.WriteString(fmt.Sprintf(" (last %s)", lm.UCI()))
		}
		sb.WriteString("\n")
	}
	if st.Premove != nil {
		sb.WriteString(fmt.Sprintf("• premove: %s\n", st.Premove.UCI()))
	}
	if st.Resigning {
		sb.WriteString("• resignation pending\n")
	}
	if st.Result != nil && st.Session != nil {
		sb.WriteString(f.Result(*st.Result, st.Session.LocalSide))
		sb.WriteString("\n")
	}
	return sb.String()
}

func (f *Formatter) Result(r domain.GameEndResult, local domain.Side) string {
	var head string
	switch {
	case r.WinnerSide == nil:
		head = "🤝 draw"
	case r.Won(local):
		head = "🏆 you won"
	default:
		head = "🛑 you lost"
	}
	credits := fmt.Sprintf("%+d", r.CreditsChange)
	if r.CreditsChange == 0 {
		credits = "0"
	}
	return fmt.Sprintf("%s (%s), credits %s", head, r.Reason, credits)
}

// Clock formats whole seconds as mm:ss.
func Clock(sec int64) string {
	if sec < 0 {
		sec = 0
	}
	return fmt.Sprintf("%02d:%02d", sec/60, sec%60)
}

// Board draws the position as ASCII with perspective at the bottom.
func Board(position string, perspective domain.Side) string {
	opt, err := nchess.FEN(strings.TrimSpace(position))
	if err != nil {
		return fmt.Sprintf("  [unreadable board %q]\n", position)
	}
	squares := nchess.NewGame(opt).Position().Board().SquareMap()

	ranks := []int{7, 6, 5, 4, 3, 2, 1, 0}
	files := []int{0, 1, 2, 3, 4, 5, 6, 7}
	if perspective == domain.Second {
		ranks = []int{0, 1, 2, 3, 4, 5, 6, 7}
		files = []int{7, 6, 5, 4, 3, 2, 1, 0}
	}

	var sb strings.Builder
	for _, rank := range ranks {
		sb.WriteString(fmt.Sprintf("  %d ", rank+1))
		for _, file := range files {
			piece := squares[nchess.NewSquare(nchess.File(file), nchess.Rank(rank))]
			sb.WriteByte(' ')
			sb.WriteString(pieceLetter(piece))
		}
		sb.WriteByte('\n')
	}
	sb.WriteString("    ")
	for _, file := range files {
		sb.WriteByte(' ')
		sb.WriteByte(byte('a' + file))
	}
	sb.WriteByte('\n')
	return sb.String()
}

func pieceLetter(p nchess.Piece) string {
	var s string
	switch p.Type() {
	case nchess.King:
		s = "k"
	case nchess.Queen:
		s = "q"
	case nchess.Rook:
		s = "r"
	case nchess.Bishop:
		s = "b"
	case nchess.Knight:
		s = "n"
	case nchess.Pawn:
		s = "p"
	default:
		return "."
	}
	if p.Color() == nchess.White {
		return strings.ToUpper(s)
	}
	return s
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

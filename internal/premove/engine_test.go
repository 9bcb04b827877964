package premove

import (
	"testing"

	"github.com/park285/Cheese-Arena/internal/domain"
	"github.com/park285/Cheese-Arena/internal/rules"
	"github.com/park285/Cheese-Arena/internal/store"
)

const (
	startFEN   = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"
	afterE4FEN = "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 1"
	// a white pawn sits on e5, so e7e5 is blocked
	blockedFEN = "rnbqkbnr/pppppppp/8/4P3/8/8/PPPP1PPP/RNBQKBNR b KQkq - 0 2"
)

func secondToMoveSession(t *testing.T) *store.Store {
	t.Helper()
	st := store.New()
	_ = st.SetPhase(domain.PhaseInSession)
	st.SetSession(&domain.Session{ID: "s1", LocalSide: domain.Second})
	st.SetBoard(&domain.BoardState{Position: startFEN, Turn: domain.First})
	return st
}

func TestSetOnlyDuringOpponentTurn(t *testing.T) {
	st := secondToMoveSession(t)
	e := New(st, rules.NewChess(), nil, nil)
	if !e.Set(domain.Move{From: "e7", To: "e5"}) {
		t.Fatalf("premove refused on opponent turn")
	}
	st.SetBoard(&domain.BoardState{Position: afterE4FEN, Turn: domain.Second})
	if e.Set(domain.Move{From: "d7", To: "d5"}) {
		t.Fatalf("premove accepted on local turn")
	}
	if e.Current().UCI() != "e7e5" {
		t.Fatalf("queued premove changed: %v", e.Current())
	}

	idle := New(store.New(), rules.NewChess(), nil, nil)
	if idle.Set(domain.Move{From: "e7", To: "e5"}) {
		t.Fatalf("premove accepted outside a session")
	}
}

func TestTryExecuteDispatchesLegalPremove(t *testing.T) {
	st := secondToMoveSession(t)
	var sent []domain.Move
	e := New(st, rules.NewChess(), MoverFunc(func(mv domain.Move) bool { sent = append(sent, mv); return true }), nil)
	e.Set(domain.Move{From: "e7", To: "e5"})

	if !e.TryExecute(domain.BoardState{Position: afterE4FEN, Turn: domain.Second}) {
		t.Fatalf("legal premove not executed")
	}
	if len(sent) != 1 || sent[0].UCI() != "e7e5" {
		t.Fatalf("dispatched %v", sent)
	}
	if e.Current() != nil {
		t.Fatalf("premove not cleared after execution")
	}
	if e.TryExecute(domain.BoardState{Position: afterE4FEN, Turn: domain.Second}) || len(sent) != 1 {
		t.Fatalf("second attempt dispatched again")
	}
}

func TestTryExecuteDropsIllegalPremove(t *testing.T) {
	st := secondToMoveSession(t)
	dispatched := false
	e := New(st, rules.NewChess(), MoverFunc(func(domain.Move) bool { dispatched = true; return true }), nil)
	e.Set(domain.Move{From: "e7", To: "e5"})

	if e.TryExecute(domain.BoardState{Position: blockedFEN, Turn: domain.Second}) {
		t.Fatalf("illegal premove executed")
	}
	if dispatched {
		t.Fatalf("illegal premove reached the mover")
	}
	if st.Current().Premove != nil {
		t.Fatalf("illegal premove not cleared")
	}
}

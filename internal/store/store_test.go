package store

import (
	"errors"
	"testing"

	"github.com/park285/Cheese-Arena/internal/domain"
)

func TestPhaseTransitions(t *testing.T) {
	s := New()
	if err := s.SetPhase(domain.PhaseSearching); err != nil {
		t.Fatalf("idle->searching: %v", err)
	}
	if err := s.SetPhase(domain.PhaseEnded); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("searching->ended should fail, got %v", err)
	}
	if err := s.SetPhase(domain.PhaseInSession); err != nil {
		t.Fatalf("searching->in_session: %v", err)
	}
	if err := s.SetPhase(domain.PhaseSearching); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("in_session->searching should fail, got %v", err)
	}
	if err := s.SetPhase(domain.PhaseEnded); err != nil {
		t.Fatalf("in_session->ended: %v", err)
	}
	if err := s.SetPhase(domain.PhaseInSession); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("ended is terminal, got %v", err)
	}
	if err := s.SetPhase(domain.PhaseIdle); err != nil {
		t.Fatalf("forced idle: %v", err)
	}
}

func TestCurrentReturnsCopies(t *testing.T) {
	s := New()
	s.SetBoard(&domain.BoardState{Position: "fen-a", Turn: domain.First, LastMove: &domain.Move{From: "e2", To: "e4"}})

	st := s.Current()
	st.Board.Position = "mutated"
	st.Board.LastMove.To = "e3"

	again := s.Current()
	if again.Board.Position != "fen-a" || again.Board.LastMove.To != "e4" {
		t.Fatalf("store state leaked through copy: %+v", again.Board)
	}
}

func TestSubscribeDeliversLatestAndCancels(t *testing.T) {
	s := New()
	var seen []domain.Phase
	cancel := s.Subscribe(TopicPhase, func(st State) { seen = append(seen, st.Phase) })

	_ = s.SetPhase(domain.PhaseSearching)
	s.SetBoard(&domain.BoardState{Position: "x"}) // other topic
	cancel()
	_ = s.SetPhase(domain.PhaseIdle)

	if len(seen) != 1 || seen[0] != domain.PhaseSearching {
		t.Fatalf("unexpected notifications: %v", seen)
	}
}

func TestSetDisplayOnlyPublishesChanges(t *testing.T) {
	s := New()
	n := 0
	s.Subscribe(TopicDisplay, func(State) { n++ })

	if !s.SetDisplay(domain.ClockDisplay{FirstSec: 60, SecondSec: 60}) {
		t.Fatalf("first display should publish")
	}
	if s.SetDisplay(domain.ClockDisplay{FirstSec: 60, SecondSec: 60}) {
		t.Fatalf("identical display should not publish")
	}
	if n != 1 {
		t.Fatalf("want 1 notification, got %d", n)
	}
}

func TestResetClearsEverything(t *testing.T) {
	s := New()
	_ = s.SetPhase(domain.PhaseSearching)
	_ = s.SetPhase(domain.PhaseInSession)
	s.SetSession(&domain.Session{ID: "s1", LocalSide: domain.First})
	s.SetPremove(&domain.Move{From: "e7", To: "e5"})
	s.SetTimer(&domain.TimerSnapshot{FirstMs: 1000})
	s.SetResigning(true)

	premoveCleared := false
	s.Subscribe(TopicPremove, func(st State) { premoveCleared = st.Premove == nil })

	s.Reset()
	st := s.Current()
	if st.Phase != domain.PhaseIdle || st.Session != nil || st.Premove != nil || st.Timer != nil || st.Resigning {
		t.Fatalf("reset left state behind: %+v", st)
	}
	if !premoveCleared {
		t.Fatalf("premove subscribers not told about reset")
	}
}

func TestLocalTurn(t *testing.T) {
	s := New()
	s.SetSession(&domain.Session{ID: "s1", LocalSide: domain.Second})
	s.SetBoard(&domain.BoardState{Turn: domain.First})
	if s.Current().LocalTurn() {
		t.Fatalf("first to move, local is second")
	}
	s.SetBoard(&domain.BoardState{Turn: domain.Second})
	if !s.Current().LocalTurn() {
		t.Fatalf("expected local turn")
	}
}

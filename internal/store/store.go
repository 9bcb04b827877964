package store

import (
	"errors"
	"fmt"
	"sync"

	"github.com/park285/Cheese-Arena/internal/domain"
)

// Topic names one independently settable entity.
type Topic string

const (
	TopicPhase     Topic = "phase"
	TopicSession   Topic = "session"
	TopicBoard     Topic = "board"
	TopicTimer     Topic = "timer"
	TopicPremove   Topic = "premove"
	TopicMatch     Topic = "match"
	TopicResult    Topic = "result"
	TopicDisplay   Topic = "display"
	TopicResigning Topic = "resigning"
)

var allTopics = []Topic{
	TopicPhase, TopicSession, TopicBoard, TopicTimer, TopicPremove,
	TopicMatch, TopicResult, TopicDisplay, TopicResigning,
}

var ErrInvalidTransition = errors.New("invalid phase transition")

// State is a value copy of everything the store holds.
type State struct {
	Phase     domain.Phase
	Session   *domain.Session
	Board     *domain.BoardState
	Timer     *domain.TimerSnapshot
	Premove   *domain.Move
	Match     domain.MatchMeta
	Result    *domain.GameEndResult
	Display   domain.ClockDisplay
	Resigning bool
}

// InSession reports whether a session exists and is live.
func (s State) InSession() bool {
	return s.Phase == domain.PhaseInSession && s.Session != nil
}

// LocalTurn reports whether the board says it is the local side's move.
func (s State) LocalTurn() bool {
	return s.Session != nil && s.Board != nil && s.Board.Turn == s.Session.LocalSide
}

type Listener func(State)

type subscription struct {
	id int
	fn Listener
}

// Store is the single mutable source of truth for the session.
// Every setter touches exactly one entity; Reset is the only exception.
type Store struct {
	mu    sync.RWMutex
	state State

	subM   sync.RWMutex
	subs   map[Topic][]subscription
	nextID int
}

func New() *Store {
	return &Store{
		state: State{Phase: domain.PhaseIdle},
		subs:  make(map[Topic][]subscription),
	}
}

// Current returns the latest state. Handlers must call it instead of holding a copy
// across callbacks.
func (s *Store) Current() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneState(s.state)
}

// Subscribe registers fn for topic and returns a cancel function.
func (s *Store) Subscribe(topic Topic, fn Listener) func() {
	s.subM.Lock()
	s.nextID++
	id := s.nextID
	s.subs[topic] = append(s.subs[topic], subscription{id: id, fn: fn})
	s.subM.Unlock()
	return func() {
		s.subM.Lock()
		defer s.subM.Unlock()
		list := s.subs[topic]
		for i, sub := range list {
			if sub.id == id {
				s.subs[topic] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

func (s *Store) SetPhase(p domain.Phase) error {
	s.mu.Lock()
	from := s.state.Phase
	if from == p {
		s.mu.Unlock()
		return nil
	}
	if !CanTransition(from, p) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, p)
	}
	s.state.Phase = p
	s.mu.Unlock()
	s.publish(TopicPhase)
	return nil
}

func (s *Store) SetSession(sess *domain.Session) {
	s.mu.Lock()
	if sess != nil {
		cp := *sess
		sess = &cp
	}
	s.state.Session = sess
	s.mu.Unlock()
	s.publish(TopicSession)
}

// SetBoard replaces the board wholesale.
func (s *Store) SetBoard(b *domain.BoardState) {
	s.mu.Lock()
	s.state.Board = cloneBoard(b)
	s.mu.Unlock()
	s.publish(TopicBoard)
}

// SetTimer replaces the current snapshot wholesale.
func (s *Store) SetTimer(t *domain.TimerSnapshot) {
	s.mu.Lock()
	if t != nil {
		cp := *t
		t = &cp
	}
	s.state.Timer = t
	s.mu.Unlock()
	s.publish(TopicTimer)
}

func (s *Store) SetPremove(m *domain.Move) {
	s.mu.Lock()
	if s.state.Premove == nil && m == nil {
		s.mu.Unlock()
		return
	}
	if m != nil {
		cp := *m
		m = &cp
	}
	s.state.Premove = m
	s.mu.Unlock()
	s.publish(TopicPremove)
}

func (s *Store) SetMatch(m domain.MatchMeta) {
	s.mu.Lock()
	s.state.Match = m
	s.mu.Unlock()
	s.publish(TopicMatch)
}

func (s *Store) SetResult(r *domain.GameEndResult) {
	s.mu.Lock()
	if r != nil {
		cp := *r
		if r.WinnerSide != nil {
			w := *r.WinnerSide
			cp.WinnerSide = &w
		}
		r = &cp
	}
	s.state.Result = r
	s.mu.Unlock()
	s.publish(TopicResult)
}

// SetDisplay publishes only when the rounded values changed.
func (s *Store) SetDisplay(d domain.ClockDisplay) bool {
	s.mu.Lock()
	if s.state.Display == d {
		s.mu.Unlock()
		return false
	}
	s.state.Display = d
	s.mu.Unlock()
	s.publish(TopicDisplay)
	return true
}

func (s *Store) SetResigning(v bool) {
	s.mu.Lock()
	if s.state.Resigning == v {
		s.mu.Unlock()
		return
	}
	s.state.Resigning = v
	s.mu.Unlock()
	s.publish(TopicResigning)
}

// Reset forces the store back to idle and drops every session-scoped entity.
func (s *Store) Reset() {
	s.mu.Lock()
	s.state = State{Phase: domain.PhaseIdle}
	s.mu.Unlock()
	for _, t := range allTopics {
		s.publish(t)
	}
}

func (s *Store) publish(topic Topic) {
	s.subM.RLock()
	list := make([]subscription, len(s.subs[topic]))
	copy(list, s.subs[topic])
	s.subM.RUnlock()
	if len(list) == 0 {
		return
	}
	st := s.Current()
	for _, sub := range list {
		if sub.fn != nil {
			sub.fn(st)
		}
	}
}

// CanTransition encodes the phase DAG. Reset to idle is always allowed.
func CanTransition(from, to domain.Phase) bool {
	if to == domain.PhaseIdle {
		return true
	}
	switch from {
	case domain.PhaseIdle:
		// in_session from idle happens when the server restores a session after reconnect.
		return to == domain.PhaseSearching || to == domain.PhaseInSession
	case domain.PhaseSearching:
		return to == domain.PhaseInSession
	case domain.PhaseInSession:
		return to == domain.PhaseEnded
	default:
		return false
	}
}

func cloneBoard(b *domain.BoardState) *domain.BoardState {
	if b == nil {
		return nil
	}
	cp := *b
	if b.LastMove != nil {
		mv := *b.LastMove
		cp.LastMove = &mv
	}
	return &cp
}

func cloneState(st State) State {
	out := st
	if st.Session != nil {
		cp := *st.Session
		out.Session = &cp
	}
	out.Board = cloneBoard(st.Board)
	if st.Timer != nil {
		cp := *st.Timer
		out.Timer = &cp
	}
	if st.Premove != nil {
		cp := *st.Premove
		out.Premove = &cp
	}
	if st.Result != nil {
		cp := *st.Result
		if st.Result.WinnerSide != nil {
			w := *st.Result.WinnerSide
			cp.WinnerSide = &w
		}
		out.Result = &cp
	}
	return out
}

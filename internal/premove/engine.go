package premove

import (
	"go.uber.org/zap"

	"github.com/park285/Cheese-Arena/internal/domain"
	"github.com/park285/Cheese-Arena/internal/metrics"
	"github.com/park285/Cheese-Arena/internal/rules"
	"github.com/park285/Cheese-Arena/internal/store"
)

// Mover dispatches a move exactly like a manual one.
type Mover interface {
	DispatchMove(mv domain.Move) bool
}

type MoverFunc func(mv domain.Move) bool

func (f MoverFunc) DispatchMove(mv domain.Move) bool { return f(mv) }

// Engine holds at most one queued move made during the opponent's turn.
// Must be used from the event loop.
type Engine struct {
	store  *store.Store
	rules  rules.Engine
	mover  Mover
	logger *zap.Logger
}

func New(st *store.Store, re rules.Engine, mover Mover, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: st, rules: re, mover: mover, logger: logger.With(zap.String("component", "premove"))}
}

// SetMover wires the dispatcher after construction; the controller owns it.
func (e *Engine) SetMover(m Mover) { e.mover = m }

// Set queues p. Refused outside a session or on the local turn.
func (e *Engine) Set(p domain.Move) bool {
	st := e.store.Current()
	if !st.InSession() || st.LocalTurn() {
		return false
	}
	e.store.SetPremove(&p)
	return true
}

func (e *Engine) Clear() { e.store.SetPremove(nil) }

// Current returns the queued move, if any.
func (e *Engine) Current() *domain.Move { return e.store.Current().Premove }

// TryExecute runs once per turn flip to the local side. The premove is
// cleared whatever the outcome; an illegal premove is dropped silently.
func (e *Engine) TryExecute(board domain.BoardState) bool {
	st := e.store.Current()
	p := st.Premove
	if p == nil {
		return false
	}
	e.store.SetPremove(nil)

	if !st.InSession() || board.Turn != st.Session.LocalSide {
		metrics.Premoves.WithLabelValues("discarded").Inc()
		return false
	}
	if e.rules == nil || e.mover == nil {
		return false
	}
	if _, err := e.rules.ApplyMove(board.Position, *p); err != nil {
		metrics.Premoves.WithLabelValues("illegal").Inc()
		e.logger.Debug("premove_discarded", zap.String("uci", p.UCI()), zap.Error(err))
		return false
	}
	if !e.mover.DispatchMove(*p) {
		metrics.Premoves.WithLabelValues("send_failed").Inc()
		return false
	}
	metrics.Premoves.WithLabelValues("executed").Inc()
	e.logger.Debug("premove_executed", zap.String("uci", p.UCI()))
	return true
}

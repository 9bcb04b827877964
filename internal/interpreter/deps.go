package interpreter

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/park285/Cheese-Arena/internal/domain"
	"github.com/park285/Cheese-Arena/internal/msgcat"
	"github.com/park285/Cheese-Arena/internal/rules"
	"github.com/park285/Cheese-Arena/internal/store"
	"github.com/park285/Cheese-Arena/internal/task"
)

// Transport is the slice of the connection manager the interpreter drives.
type Transport interface {
	Send(msg any) bool
	Connect(ctx context.Context) error
	Disconnect()
}

type Navigator interface {
	NavigateToSession(sessionID string)
}

type Notifier interface {
	Notify(n domain.Notice)
}

// Settler requests a balance resync; implementations dedupe by session id.
type Settler interface {
	Settle(sessionID string, delta int64, reason string)
}

type ClockSink interface {
	ApplySnapshot(snap domain.TimerSnapshot)
}

type Premover interface {
	TryExecute(board domain.BoardState) bool
	Clear()
}

// TerminalHook observes a finished session after the store moved to ended.
type TerminalHook func(result domain.GameEndResult, final store.State)

// Deps are injected collaborators; nil optional ones are skipped.
type Deps struct {
	Store     *store.Store
	Transport Transport
	Rules     rules.Engine
	Clock     ClockSink
	Premove   Premover
	Settler   Settler
	Navigator Navigator
	Notifier  Notifier
	Catalog   *msgcat.Catalog
	Logger    *zap.Logger

	// Time and Post drive the desync reconnect timer.
	Time        clockwork.Clock
	Post        task.Poster
	DesyncDelay time.Duration

	OnTerminal []TerminalHook
}

type NavigatorFunc func(sessionID string)

func (f NavigatorFunc) NavigateToSession(id string) { f(id) }

type NotifierFunc func(n domain.Notice)

func (f NotifierFunc) Notify(n domain.Notice) { f(n) }

package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/park285/Cheese-Arena/internal/auth"
	"github.com/park285/Cheese-Arena/internal/clock"
	"github.com/park285/Cheese-Arena/internal/conn"
	"github.com/park285/Cheese-Arena/internal/domain"
	"github.com/park285/Cheese-Arena/internal/interpreter"
	"github.com/park285/Cheese-Arena/internal/loop"
	"github.com/park285/Cheese-Arena/internal/msgcat"
	"github.com/park285/Cheese-Arena/internal/premove"
	"github.com/park285/Cheese-Arena/internal/protocol"
	"github.com/park285/Cheese-Arena/internal/rules"
	"github.com/park285/Cheese-Arena/internal/store"
	"github.com/park285/Cheese-Arena/internal/task"
)

var ErrNoTransport = errors.New("session: transport is required")

// Transport is the connection manager surface the controller needs.
type Transport interface {
	interpreter.Transport
	SetAuthToken(token string)
	Status() conn.Status
	OnMessage(fn conn.MessageHandler) int
	OnStatusChange(fn conn.StatusHandler) int
}

type Config struct {
	PlayerID       string
	DisplayName    string
	ResignTimeout  time.Duration
	DesyncDelay    time.Duration
	Tick           time.Duration
	DriftThreshold time.Duration
}

type Deps struct {
	Loop      *loop.Loop
	Store     *store.Store
	Transport Transport
	Rules     rules.Engine
	Settler   interpreter.Settler
	Navigator interpreter.Navigator
	Notifier  interpreter.Notifier
	Catalog   *msgcat.Catalog
	Auth      auth.Provider
	Time      clockwork.Clock
	Logger    *zap.Logger
}

// Controller is the public operation surface. Every operation is posted to
// the event loop and reports back through store subscriptions and notices.
type Controller struct {
	cfg    Config
	d      Deps
	logger *zap.Logger

	interp  *interpreter.Interpreter
	clock   *clock.Engine
	premove *premove.Engine
	resign  *task.Timer
}

func New(cfg Config, d Deps) (*Controller, error) {
	if d.Transport == nil {
		return nil, ErrNoTransport
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Time == nil {
		d.Time = clockwork.NewRealClock()
	}
	if d.Store == nil {
		d.Store = store.New()
	}
	if d.Loop == nil {
		d.Loop = loop.New(d.Logger)
	}
	if d.Rules == nil {
		d.Rules = rules.NewChess()
	}
	if cfg.ResignTimeout <= 0 {
		cfg.ResignTimeout = 7 * time.Second
	}
	if strings.TrimSpace(cfg.DisplayName) == "" {
		cfg.DisplayName = cfg.PlayerID
	}

	c := &Controller{cfg: cfg, d: d, logger: d.Logger.With(zap.String("component", "session"))}
	post := task.Poster(d.Loop.Post)

	c.clock = clock.New(d.Store, d.Time, post, d.Transport, d.Logger, clock.Config{Tick: cfg.Tick, DriftThreshold: cfg.DriftThreshold})
	c.premove = premove.New(d.Store, d.Rules, premove.MoverFunc(c.dispatchMove), d.Logger)
	c.resign = task.NewTimer(d.Time, post)
	c.interp = interpreter.New(interpreter.Deps{
		Store:       d.Store,
		Transport:   d.Transport,
		Rules:       d.Rules,
		Clock:       c.clock,
		Premove:     c.premove,
		Settler:     d.Settler,
		Navigator:   d.Navigator,
		Notifier:    d.Notifier,
		Catalog:     d.Catalog,
		Logger:      d.Logger,
		Time:        d.Time,
		Post:        post,
		DesyncDelay: cfg.DesyncDelay,
	})
	c.interp.AddTerminalHook(func(domain.GameEndResult, store.State) { c.resign.Cancel() })
	c.clock.OnTimeLossCandidate(func(side domain.Side) {
		c.notify("time_loss_candidate", domain.SeverityWarning, false, map[string]any{"Side": string(side)})
	})

	d.Transport.OnMessage(func(raw []byte) {
		d.Loop.Post(func() { c.interp.Handle(raw) })
	})
	d.Transport.OnStatusChange(func(s conn.Status) {
		d.Loop.Post(func() { c.onStatus(s) })
	})
	if d.Auth != nil {
		d.Transport.SetAuthToken(d.Auth.CurrentToken())
	}
	return c, nil
}

// Run drives the event loop, the clock ticker and the auth watcher until ctx ends.
func (c *Controller) Run(ctx context.Context) {
	c.clock.Start(ctx)
	if c.d.Auth != nil {
		go c.watchAuth(ctx)
	}
	c.d.Loop.Run(ctx)
}

func (c *Controller) watchAuth(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.d.Loop.Done():
			return
		case token := <-c.d.Auth.Changes():
			c.d.Loop.Post(func() { c.applyToken(ctx, token) })
		}
	}
}

// OnTerminal registers a hook for finished sessions. Call before Run.
func (c *Controller) OnTerminal(fn interpreter.TerminalHook) { c.interp.AddTerminalHook(fn) }

// Connect dials the server. It blocks for one dial attempt; reconnects run
// in the background.
func (c *Controller) Connect(ctx context.Context) error { return c.d.Transport.Connect(ctx) }

func (c *Controller) FindMatch(wager int64, displayName string) {
	c.d.Loop.Post(func() { c.findMatch(wager, displayName) })
}

func (c *Controller) CancelSearch() { c.d.Loop.Post(c.cancelSearch) }

func (c *Controller) JoinSession(sessionID string) {
	c.d.Loop.Post(func() { c.joinSession(sessionID) })
}

func (c *Controller) SendMove(from, to, promotion string) {
	c.d.Loop.Post(func() { c.sendMove(from, to, promotion) })
}

func (c *Controller) Resign() { c.d.Loop.Post(c.doResign) }

func (c *Controller) RequestSync() { c.d.Loop.Post(c.requestSync) }

// Resume asks for a fresh clock snapshot after the client was backgrounded.
func (c *Controller) Resume() { c.d.Loop.Post(func() { c.clock.Resume() }) }

// SetPremove queues a premove. Selecting the queued premove's source square
// again cancels it.
func (c *Controller) SetPremove(from, to, promotion string) {
	c.d.Loop.Post(func() {
		if cur := c.premove.Current(); cur != nil && strings.EqualFold(cur.From, from) {
			c.premove.Clear()
			return
		}
		mv, err := domain.ParseUCI(from + to + promotion)
		if err != nil {
			c.logger.Debug("premove_rejected", zap.Error(err))
			return
		}
		if !c.premove.Set(mv) {
			c.notify("premove_refused", domain.SeverityInfo, false, nil)
		}
	})
}

func (c *Controller) ClearPremove() { c.d.Loop.Post(c.premove.Clear) }

// Disconnect drops the transport and leaves the store idle.
func (c *Controller) Disconnect() {
	c.d.Loop.Post(func() {
		c.d.Transport.Disconnect()
		c.teardown()
	})
}

// SetAuthToken forwards a token change. Only idle or ended sessions reconnect.
func (c *Controller) SetAuthToken(ctx context.Context, token string) {
	c.d.Loop.Post(func() { c.applyToken(ctx, token) })
}

func (c *Controller) Subscribe(topic store.Topic, fn store.Listener) func() {
	return c.d.Store.Subscribe(topic, fn)
}

func (c *Controller) OnStatusChange(fn conn.StatusHandler) int {
	return c.d.Transport.OnStatusChange(fn)
}

func (c *Controller) Status() conn.Status { return c.d.Transport.Status() }

func (c *Controller) State() store.State { return c.d.Store.Current() }

// Do runs fn on the loop and waits; used by readers that need a settled view.
func (c *Controller) Do(fn func()) bool { return c.d.Loop.Do(fn) }

func (c *Controller) findMatch(wager int64, displayName string) {
	if c.d.Transport.Status() != conn.StatusConnected {
		c.logger.Warn("find_match_not_connected", zap.String("status", string(c.d.Transport.Status())))
		c.notify("not_connected", domain.SeverityWarning, true, nil)
		return
	}
	if wager < 0 {
		c.notify("matchmaking_error", domain.SeverityError, false, map[string]any{"Reason": "negative wager"})
		return
	}
	st := c.d.Store.Current()
	switch st.Phase {
	case domain.PhaseEnded:
		c.teardown()
	case domain.PhaseSearching, domain.PhaseInSession:
		c.logger.Debug("find_match_ignored", zap.String("phase", string(st.Phase)))
		return
	}
	name := strings.TrimSpace(displayName)
	if name == "" {
		name = c.cfg.DisplayName
	}
	c.d.Store.SetMatch(domain.MatchMeta{Wager: wager, DisplayName: name})
	if err := c.d.Store.SetPhase(domain.PhaseSearching); err != nil {
		c.logger.Warn("find_match_phase", zap.Error(err))
		return
	}
	if !c.d.Transport.Send(protocol.FindMatch(wager, c.cfg.PlayerID, name)) {
		c.d.Store.Reset()
		c.notify("not_connected", domain.SeverityWarning, true, nil)
		return
	}
	c.notify("searching", domain.SeverityInfo, false, map[string]any{"Wager": wager})
}

func (c *Controller) cancelSearch() {
	st := c.d.Store.Current()
	if st.Phase == domain.PhaseSearching {
		c.d.Transport.Send(protocol.CancelSearch())
		c.notify("search_cancelled", domain.SeverityInfo, false, nil)
	}
	c.teardown()
}

func (c *Controller) joinSession(sessionID string) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return
	}
	st := c.d.Store.Current()
	if st.Phase == domain.PhaseInSession {
		c.logger.Debug("join_ignored_in_session", zap.String("session_id", sessionID))
		return
	}
	meta := st.Match
	meta.PendingJoinID = sessionID
	c.d.Store.SetMatch(meta)
	if !c.d.Transport.Send(protocol.JoinGame(sessionID)) {
		c.notify("not_connected", domain.SeverityWarning, true, nil)
	}
}

func (c *Controller) sendMove(from, to, promotion string) {
	mv, err := domain.ParseUCI(from + to + promotion)
	if err != nil {
		c.logger.Debug("move_rejected", zap.Error(err))
		return
	}
	st := c.d.Store.Current()
	if !st.InSession() || st.Resigning {
		c.logger.Debug("move_outside_session", zap.String("phase", string(st.Phase)))
		return
	}
	if !st.LocalTurn() {
		c.premove.Set(mv)
		return
	}
	c.premove.Clear()
	c.dispatchMove(mv)
}

// dispatchMove applies mv optimistically and sends it. The server's next
// board overwrites the optimistic one.
func (c *Controller) dispatchMove(mv domain.Move) bool {
	st := c.d.Store.Current()
	if !st.InSession() || st.Board == nil {
		return false
	}
	after, err := c.d.Rules.ApplyMove(st.Board.Position, mv)
	if err != nil {
		c.logger.Debug("move_illegal_locally", zap.String("uci", mv.UCI()), zap.Error(err))
		return false
	}
	c.d.Store.SetBoard(&domain.BoardState{Position: after, Turn: st.Session.LocalSide.Opponent()})
	return c.d.Transport.Send(protocol.MoveOf(st.Session.ID, mv))
}

func (c *Controller) doResign() {
	st := c.d.Store.Current()
	if !st.InSession() || st.Resigning {
		return
	}
	c.d.Store.SetResigning(true)
	c.d.Transport.Send(protocol.Resign(st.Session.ID, st.Session.PersistentID))
	c.resign.Arm(c.cfg.ResignTimeout, c.onResignTimeout)
}

func (c *Controller) onResignTimeout() {
	if !c.d.Store.Current().Resigning {
		return
	}
	c.d.Store.SetResigning(false)
	c.logger.Warn("resign_timeout", zap.Duration("after", c.cfg.ResignTimeout))
	c.notify("resign_timeout", domain.SeverityError, true, nil)
}

func (c *Controller) requestSync() {
	st := c.d.Store.Current()
	if !st.InSession() {
		return
	}
	c.d.Transport.Send(protocol.SyncGame(st.Session.ID))
}

func (c *Controller) onStatus(s conn.Status) {
	if s != conn.StatusConnected {
		return
	}
	// a live session survives a reconnect; pull the authoritative state
	st := c.d.Store.Current()
	if st.InSession() {
		c.d.Transport.Send(protocol.SyncGame(st.Session.ID))
		c.clock.Resume()
	}
}

func (c *Controller) applyToken(ctx context.Context, token string) {
	c.d.Transport.SetAuthToken(token)
	phase := c.d.Store.Current().Phase
	if phase != domain.PhaseIdle && phase != domain.PhaseEnded {
		c.logger.Debug("auth_token_deferred", zap.String("phase", string(phase)))
		return
	}
	if c.d.Transport.Status() == conn.StatusDisconnected {
		return
	}
	t := c.d.Transport
	go func() {
		t.Disconnect()
		if err := t.Connect(ctx); err != nil {
			c.logger.Warn("auth_reconnect_failed", zap.Error(err))
		}
	}()
}

// teardown cancels owned timers and resets the store to idle.
func (c *Controller) teardown() {
	c.resign.Cancel()
	c.interp.CancelPending()
	c.premove.Clear()
	c.d.Store.Reset()
}

func (c *Controller) notify(code string, sev domain.Severity, retryable bool, data map[string]any) {
	if c.d.Notifier == nil {
		return
	}
	if data == nil {
		data = map[string]any{}
	}
	c.d.Notifier.Notify(domain.Notice{
		Code:      code,
		Message:   c.d.Catalog.Text("arena."+code, data),
		Severity:  sev,
		Retryable: retryable,
	})
}

package interpreter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/park285/Cheese-Arena/internal/domain"
	"github.com/park285/Cheese-Arena/internal/metrics"
	"github.com/park285/Cheese-Arena/internal/protocol"
	"github.com/park285/Cheese-Arena/internal/rules"
	"github.com/park285/Cheese-Arena/internal/store"
	"github.com/park285/Cheese-Arena/internal/task"
)

// Server error codes with dedicated handling.
const (
	CodeAlreadyInSession    = "already_in_session"
	CodeInsufficientBalance = "insufficient_balance"
	CodeWagerDenied         = "wager_denied"
	CodeIllegalMove         = "illegal_move"
	CodeNotYourTurn         = "not_your_turn"
)

const defaultDesyncDelay = 500 * time.Millisecond

// Interpreter maps each inbound message to one state transition.
// Handle must be called from the event loop.
type Interpreter struct {
	d      Deps
	logger *zap.Logger
	clock  clockwork.Clock

	desync *task.Timer
}

func New(d Deps) *Interpreter {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Time == nil {
		d.Time = clockwork.NewRealClock()
	}
	if d.DesyncDelay <= 0 {
		d.DesyncDelay = defaultDesyncDelay
	}
	return &Interpreter{
		d:      d,
		logger: d.Logger.With(zap.String("component", "interpreter")),
		clock:  d.Time,
		desync: task.NewTimer(d.Time, d.Post),
	}
}

// AddTerminalHook registers fn to run after every terminal transition.
func (in *Interpreter) AddTerminalHook(fn TerminalHook) {
	in.d.OnTerminal = append(in.d.OnTerminal, fn)
}

// CancelPending drops the scheduled desync reconnect.
func (in *Interpreter) CancelPending() { in.desync.Cancel() }

// DesyncPending reports whether a desync reconnect is scheduled.
func (in *Interpreter) DesyncPending() bool { return in.desync.Armed() }

// Handle decodes raw and applies it. Bad frames are logged and dropped.
func (in *Interpreter) Handle(raw []byte) {
	msg, err := protocol.Decode(raw)
	if err != nil {
		in.reject(raw, err)
		return
	}
	metrics.InboundMessages.WithLabelValues(string(msg.Kind())).Inc()
	in.Dispatch(msg)
}

// Dispatch applies an already decoded message.
func (in *Interpreter) Dispatch(msg protocol.Inbound) {
	switch m := msg.(type) {
	case protocol.Welcome:
		in.logger.Info("server_welcome", zap.String("client_id", m.ClientID))
	case protocol.Searching:
		in.onSearching(m)
	case protocol.WaitingForOpponent:
		in.logger.Info("waiting_for_opponent", zap.String("session_id", m.SessionID))
	case protocol.MatchFound:
		in.onMatchFound(m)
	case protocol.MoveApplied:
		in.onMoveApplied(m)
	case protocol.GameSync:
		in.onGameSync(m)
	case protocol.ClockSnapshot:
		in.onClock(m)
	case protocol.GameEnded:
		in.onGameEnded(m)
	case protocol.CreditsSettled:
		in.logger.Debug("credits_settled", zap.String("session_id", m.SessionID), zap.Int64("balance", m.Balance))
	case protocol.OpponentLeft:
		in.onOpponentLeft(m)
	case protocol.SessionReconnected:
		in.onSessionReconnected(m)
	case protocol.Error:
		in.onError(m)
	default:
		metrics.InboundDropped.WithLabelValues("unhandled").Inc()
		in.logger.Warn("inbound_unhandled", zap.String("kind", fmt.Sprintf("%T", msg)))
	}
}

func (in *Interpreter) reject(raw []byte, err error) {
	var verr *protocol.ValidationError
	switch {
	case errors.As(err, &verr):
		metrics.InboundDropped.WithLabelValues("invalid").Inc()
		in.logger.Warn("inbound_invalid", zap.String("kind", string(verr.Kind)), zap.String("field", verr.Field))
		if verr.Kind == protocol.KindMatchFound {
			in.notify("matchmaking_error", domain.SeverityError, true, map[string]any{"Reason": "missing " + verr.Field})
		}
	case errors.Is(err, protocol.ErrUnknownKind):
		metrics.InboundDropped.WithLabelValues("unknown_kind").Inc()
		in.logger.Warn("inbound_unknown_kind", zap.Error(err))
	default:
		metrics.InboundDropped.WithLabelValues("malformed").Inc()
		in.logger.Warn("inbound_malformed", zap.Int("bytes", len(raw)), zap.Error(err))
	}
}

func (in *Interpreter) onSearching(m protocol.Searching) {
	st := in.d.Store.Current()
	if st.Phase != domain.PhaseIdle && st.Phase != domain.PhaseSearching {
		in.logger.Debug("searching_ignored", zap.String("phase", string(st.Phase)))
		return
	}
	if m.Wager > 0 && st.Match.Wager != m.Wager {
		meta := st.Match
		meta.Wager = m.Wager
		in.d.Store.SetMatch(meta)
	}
	in.setPhase(domain.PhaseSearching)
}

func (in *Interpreter) onMatchFound(m protocol.MatchFound) {
	st := in.d.Store.Current()
	if st.Session != nil && st.Session.ID == m.SessionID {
		in.logger.Debug("match_found_duplicate", zap.String("session_id", m.SessionID))
		return
	}
	switch st.Phase {
	case domain.PhaseInSession:
		in.logger.Warn("match_found_while_in_session",
			zap.String("session_id", m.SessionID),
			zap.String("current", st.Session.ID),
		)
		return
	case domain.PhaseEnded:
		in.d.Store.Reset()
	}
	in.desync.Cancel()

	local, _ := domain.ParseSide(m.Color)
	turn := in.turnOf(m.Turn, m.Board)
	in.startSession(domain.Session{
		ID:           m.SessionID,
		PersistentID: m.PersistentID,
		LocalSide:    local,
		Wager:        m.Wager,
		StartedAt:    in.clock.Now(),
	}, m.Opponent, domain.BoardState{Position: m.Board, Turn: turn}, m.TimerFields)

	in.logger.Info("match_found",
		zap.String("session_id", m.SessionID),
		zap.String("side", string(local)),
		zap.Int64("wager", m.Wager),
	)
	in.navigate(m.SessionID)
	in.notify("match_found", domain.SeverityInfo, false, map[string]any{
		"Opponent": orDash(m.Opponent), "Wager": m.Wager, "Side": string(local),
	})
}

// startSession writes every session entity, then flips the phase last so
// phase subscribers see a complete session.
func (in *Interpreter) startSession(sess domain.Session, opponent string, board domain.BoardState, tf protocol.TimerFields) {
	s := in.d.Store
	s.SetResult(nil)
	s.SetResigning(false)
	s.SetPremove(nil)
	s.SetSession(&sess)
	meta := s.Current().Match
	meta.Wager = sess.Wager
	meta.Opponent = opponent
	meta.PendingJoinID = ""
	s.SetMatch(meta)
	s.SetBoard(&board)
	if tf.HasClock() && in.d.Clock != nil {
		in.d.Clock.ApplySnapshot(tf.Snapshot(board.Turn))
	}
	in.setPhase(domain.PhaseInSession)
}

func (in *Interpreter) onMoveApplied(m protocol.MoveApplied) {
	st, ok := in.live(m.SessionID, protocol.KindMoveApplied)
	if !ok {
		return
	}
	next := domain.BoardState{Position: m.Board, Turn: protocol.Turn(m.Turn)}
	flipped := turnFlipped(st, next.Turn)
	if flipped && st.Board != nil {
		if mv, found := rules.InferMove(in.d.Rules, st.Board.Position, next.Position); found {
			next.LastMove = &mv
		}
	}
	in.applyBoard(next, m.TimerFields, flipped)
}

func (in *Interpreter) onGameSync(m protocol.GameSync) {
	st, ok := in.live(m.SessionID, protocol.KindGameSync)
	if !ok {
		return
	}
	next := domain.BoardState{Position: m.Board, Turn: protocol.Turn(m.Turn)}
	if st.Board != nil && st.Board.LastMove != nil && st.Board.Position == next.Position {
		next.LastMove = st.Board.LastMove
	}
	in.logger.Debug("game_sync", zap.String("session_id", m.SessionID), zap.String("status", m.Status))
	in.applyBoard(next, m.TimerFields, turnFlipped(st, next.Turn))
}

// applyBoard overwrites the board wholesale, then the timer, then runs the
// premove if the turn just came to the local side.
func (in *Interpreter) applyBoard(next domain.BoardState, tf protocol.TimerFields, flipped bool) {
	in.d.Store.SetBoard(&next)
	if tf.HasClock() && in.d.Clock != nil {
		in.d.Clock.ApplySnapshot(tf.Snapshot(next.Turn))
	}
	if flipped && in.d.Premove != nil {
		in.d.Premove.TryExecute(next)
	}
}

func (in *Interpreter) onClock(m protocol.ClockSnapshot) {
	if _, ok := in.live(m.SessionID, m.Kind()); !ok {
		return
	}
	if in.d.Clock != nil {
		in.d.Clock.ApplySnapshot(m.Snapshot(protocol.Turn(m.Turn)))
	}
}

func (in *Interpreter) onGameEnded(m protocol.GameEnded) {
	var winner *domain.Side
	if side, ok := domain.ParseSide(m.WinnerSide); ok {
		winner = &side
	}
	in.terminal(m.SessionID, m.Reason, winner, m.CreditsChange, false)
}

func (in *Interpreter) onOpponentLeft(m protocol.OpponentLeft) {
	st := in.d.Store.Current()
	var winner *domain.Side
	if st.Session != nil {
		w := st.Session.LocalSide
		winner = &w
	}
	reason := strings.TrimSpace(m.Reason)
	if reason == "" {
		reason = domain.ReasonOpponentLeft
	}
	in.terminal(m.SessionID, reason, winner, nil, true)
}

func (in *Interpreter) terminal(sessionID, reason string, winner *domain.Side, credits *int64, opponentLeft bool) {
	st := in.d.Store.Current()
	if st.Session == nil {
		in.logger.Warn("terminal_without_session", zap.String("session_id", sessionID), zap.String("reason", reason))
		return
	}
	if sessionID != "" && sessionID != st.Session.ID {
		in.logger.Warn("terminal_stale_session", zap.String("session_id", sessionID), zap.String("current", st.Session.ID))
		return
	}
	if st.Phase != domain.PhaseInSession {
		in.logger.Debug("terminal_duplicate", zap.String("session_id", st.Session.ID), zap.String("phase", string(st.Phase)))
		return
	}

	local := st.Session.LocalSide
	reason = NormalizeReason(reason, winner, local)
	if reason == domain.ReasonOpponentLeft {
		opponentLeft = true
	}
	result := domain.GameEndResult{
		SessionID:      st.Session.ID,
		Reason:         reason,
		WinnerSide:     winner,
		CreditsChange:  creditsChange(credits, winner, local, st.Session.Wager),
		IsOpponentLeft: opponentLeft,
		EndedAt:        in.clock.Now(),
	}

	s := in.d.Store
	s.SetResult(&result)
	if in.d.Premove != nil {
		in.d.Premove.Clear()
	} else {
		s.SetPremove(nil)
	}
	s.SetResigning(false)
	in.setPhase(domain.PhaseEnded)

	in.logger.Info("session_ended",
		zap.String("session_id", result.SessionID),
		zap.String("reason", result.Reason),
		zap.Int64("credits_change", result.CreditsChange),
	)
	if in.d.Settler != nil {
		in.d.Settler.Settle(result.SessionID, result.CreditsChange, result.Reason)
	}
	in.notifyResult(result, local)

	final := s.Current()
	for _, hook := range in.d.OnTerminal {
		hook(result, final)
	}
}

func (in *Interpreter) notifyResult(r domain.GameEndResult, local domain.Side) {
	data := map[string]any{"Reason": strings.ReplaceAll(r.Reason, "_", " "), "Credits": signed(r.CreditsChange)}
	switch {
	case r.IsOpponentLeft:
		in.notify("opponent_left", domain.SeverityInfo, false, data)
	case r.WinnerSide == nil:
		in.notify("game_over.draw", domain.SeverityInfo, false, data)
	case r.Won(local):
		in.notify("game_over.won", domain.SeveritySuccess, false, data)
	default:
		in.notify("game_over.lost", domain.SeverityInfo, false, data)
	}
}

func (in *Interpreter) onSessionReconnected(m protocol.SessionReconnected) {
	st := in.d.Store.Current()
	in.desync.Cancel()
	local, _ := domain.ParseSide(m.Color)
	next := domain.BoardState{Position: m.Board, Turn: protocol.Turn(m.Turn)}

	if st.Session != nil && st.Session.ID == m.SessionID {
		if st.Phase == domain.PhaseEnded {
			in.logger.Debug("reconnected_to_ended_session", zap.String("session_id", m.SessionID))
			return
		}
		if st.Phase == domain.PhaseInSession {
			in.applyBoard(next, m.TimerFields, turnFlipped(st, next.Turn))
			in.logger.Info("session_resumed", zap.String("session_id", m.SessionID))
			return
		}
	}
	if st.Phase == domain.PhaseInSession || st.Phase == domain.PhaseEnded {
		// server is authoritative about which session we belong to
		in.d.Store.Reset()
	}

	in.startSession(domain.Session{
		ID:           m.SessionID,
		PersistentID: m.PersistentID,
		LocalSide:    local,
		Wager:        m.Wager,
		StartedAt:    in.clock.Now(),
	}, m.Opponent, next, m.TimerFields)
	in.logger.Info("session_restored", zap.String("session_id", m.SessionID), zap.String("side", string(local)))
	in.navigate(m.SessionID)
	in.notify("session_restored", domain.SeverityInfo, false, map[string]any{"SessionID": m.SessionID})
}

func (in *Interpreter) onError(m protocol.Error) {
	code := strings.ToLower(strings.TrimSpace(m.Code))
	st := in.d.Store.Current()
	in.logger.Warn("server_error", zap.String("code", code), zap.String("message", m.Message), zap.String("phase", string(st.Phase)))

	switch code {
	case CodeAlreadyInSession:
		if st.Phase == domain.PhaseInSession {
			in.requestSync(st)
			return
		}
		in.recoverDesync()
	case CodeInsufficientBalance, CodeWagerDenied:
		in.d.Store.Reset()
		in.notify(code, domain.SeverityError, false, map[string]any{"Message": orDash(m.Message)})
	case CodeIllegalMove, CodeNotYourTurn:
		// the optimistic board is wrong; pull the authoritative one
		if st.InSession() {
			in.requestSync(st)
		}
		in.notify("server_error", domain.SeverityWarning, true, map[string]any{"Code": code, "Message": orDash(m.Message)})
	default:
		in.notify("server_error", domain.SeverityError, false, map[string]any{"Code": orDash(code), "Message": orDash(m.Message)})
	}
}

// recoverDesync drops the transport, hard-resets, and reconnects after a
// short delay.
func (in *Interpreter) recoverDesync() {
	metrics.Desyncs.Inc()
	in.logger.Warn("session_desync_detected", zap.Duration("reconnect_in", in.d.DesyncDelay))
	if in.d.Transport != nil {
		in.d.Transport.Disconnect()
	}
	in.d.Store.Reset()
	in.notify("desync", domain.SeverityWarning, false, nil)

	t := in.d.Transport
	in.desync.Arm(in.d.DesyncDelay, func() {
		if t == nil {
			return
		}
		// dialing blocks; keep it off the loop
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := t.Connect(ctx); err != nil {
				in.logger.Warn("desync_reconnect_failed", zap.Error(err))
			}
		}()
	})
}

func (in *Interpreter) requestSync(st store.State) {
	if st.Session == nil || in.d.Transport == nil {
		return
	}
	in.d.Transport.Send(protocol.SyncGame(st.Session.ID))
}

// live returns the current state when sessionID addresses the live session.
func (in *Interpreter) live(sessionID string, kind protocol.Kind) (store.State, bool) {
	st := in.d.Store.Current()
	if !st.InSession() {
		metrics.InboundDropped.WithLabelValues("no_session").Inc()
		in.logger.Debug("inbound_without_session", zap.String("kind", string(kind)), zap.String("phase", string(st.Phase)))
		return st, false
	}
	if sessionID != "" && sessionID != st.Session.ID {
		metrics.InboundDropped.WithLabelValues("stale_session").Inc()
		in.logger.Warn("inbound_stale_session", zap.String("kind", string(kind)), zap.String("session_id", sessionID))
		return st, false
	}
	return st, true
}

func (in *Interpreter) setPhase(p domain.Phase) {
	if err := in.d.Store.SetPhase(p); err != nil {
		in.logger.Warn("phase_transition_rejected", zap.Error(err))
	}
}

func (in *Interpreter) turnOf(raw, board string) domain.Side {
	if side, ok := domain.ParseSide(raw); ok {
		return side
	}
	if in.d.Rules != nil {
		if side, err := in.d.Rules.SideToMove(board); err == nil {
			return side
		}
	}
	return domain.First
}

func (in *Interpreter) navigate(sessionID string) {
	if in.d.Navigator != nil {
		in.d.Navigator.NavigateToSession(sessionID)
	}
}

func (in *Interpreter) notify(code string, sev domain.Severity, retryable bool, data map[string]any) {
	if in.d.Notifier == nil {
		return
	}
	if data == nil {
		data = map[string]any{}
	}
	in.d.Notifier.Notify(domain.Notice{
		Code:      code,
		Message:   in.d.Catalog.Text("arena."+code, data),
		Severity:  sev,
		Retryable: retryable,
	})
}

func turnFlipped(st store.State, next domain.Side) bool {
	if st.Session == nil || next != st.Session.LocalSide {
		return false
	}
	return st.Board == nil || st.Board.Turn != st.Session.LocalSide
}

// NormalizeReason maps legacy and alias codes onto the causer-specific set.
func NormalizeReason(reason string, winner *domain.Side, local domain.Side) string {
	r := strings.ToLower(strings.TrimSpace(reason))
	switch r {
	case "resign", "resigned", "resignation":
		if winner != nil && *winner == local {
			return domain.ReasonOpponentResigned
		}
		return domain.ReasonSelfResigned
	case "opponent_left", "abandoned", "left":
		return domain.ReasonOpponentLeft
	case "timeout", "time", "flag", "time_forfeit":
		return domain.ReasonTimeout
	case "checkmate", "mate":
		return domain.ReasonCheckmate
	case "draw":
		return domain.ReasonDraw
	case "":
		if winner == nil {
			return domain.ReasonDraw
		}
		return "ended"
	default:
		return r
	}
}

func creditsChange(explicit *int64, winner *domain.Side, local domain.Side, wager int64) int64 {
	if explicit != nil {
		return *explicit
	}
	switch {
	case winner == nil:
		return 0
	case *winner == local:
		return wager
	default:
		return -wager
	}
}

func signed(n int64) string {
	if n > 0 {
		return fmt.Sprintf("+%d", n)
	}
	return fmt.Sprintf("%d", n)
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

package session

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/park285/Cheese-Arena/internal/conn"
	"github.com/park285/Cheese-Arena/internal/domain"
	"github.com/park285/Cheese-Arena/internal/msgcat"
	"github.com/park285/Cheese-Arena/internal/protocol"
	"github.com/park285/Cheese-Arena/internal/rules"
	"github.com/park285/Cheese-Arena/internal/store"
)

const (
	startFEN   = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"
	afterE4FEN = "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 1"
)

type fakeTransport struct {
	mu       sync.Mutex
	status   conn.Status
	token    string
	sent     []any
	onMsg    []conn.MessageHandler
	onStatus []conn.StatusHandler
	connects atomic.Int32
}

func (f *fakeTransport) Send(msg any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status != conn.StatusConnected {
		return false
	}
	f.sent = append(f.sent, msg)
	return true
}

func (f *fakeTransport) Connect(context.Context) error {
	f.connects.Add(1)
	f.setStatus(conn.StatusConnected)
	return nil
}

func (f *fakeTransport) Disconnect() { f.setStatus(conn.StatusDisconnected) }

func (f *fakeTransport) SetAuthToken(token string) {
	f.mu.Lock()
	f.token = token
	f.mu.Unlock()
}

func (f *fakeTransport) Status() conn.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeTransport) OnMessage(fn conn.MessageHandler) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onMsg = append(f.onMsg, fn)
	return len(f.onMsg)
}

func (f *fakeTransport) OnStatusChange(fn conn.StatusHandler) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onStatus = append(f.onStatus, fn)
	return len(f.onStatus)
}

func (f *fakeTransport) setStatus(s conn.Status) {
	f.mu.Lock()
	f.status = s
	hs := append([]conn.StatusHandler(nil), f.onStatus...)
	f.mu.Unlock()
	for _, h := range hs {
		h(s)
	}
}

func (f *fakeTransport) deliver(t *testing.T, fields map[string]any) {
	t.Helper()
	raw, err := json.Marshal(fields)
	require.NoError(t, err)
	f.mu.Lock()
	hs := append([]conn.MessageHandler(nil), f.onMsg...)
	f.mu.Unlock()
	for _, h := range hs {
		h(raw)
	}
}

func (f *fakeTransport) messages() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.sent...)
}

func (f *fakeTransport) count(pred func(any) bool) int {
	n := 0
	for _, m := range f.messages() {
		if pred(m) {
			n++
		}
	}
	return n
}

type notices struct {
	mu   sync.Mutex
	list []domain.Notice
}

func (n *notices) Notify(x domain.Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.list = append(n.list, x)
}

func (n *notices) count(code string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, x := range n.list {
		if x.Code == code {
			c++
		}
	}
	return c
}

type fixture struct {
	c         *Controller
	fake      *clockwork.FakeClock
	transport *fakeTransport
	notices   *notices
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		fake:      clockwork.NewFakeClock(),
		transport: &fakeTransport{status: conn.StatusConnected},
		notices:   &notices{},
	}
	c, err := New(Config{PlayerID: "p1", ResignTimeout: 7 * time.Second}, Deps{
		Transport: f.transport,
		Notifier:  f.notices,
		Catalog:   msgcat.MustDefault(),
		Time:      f.fake,
	})
	require.NoError(t, err)
	f.c = c

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return f
}

// flush waits until everything posted so far has run.
func (f *fixture) flush(t *testing.T) {
	t.Helper()
	require.True(t, f.c.Do(func() {}))
}

func (f *fixture) startSession(t *testing.T, color string) {
	t.Helper()
	f.c.FindMatch(100, "me")
	f.flush(t)
	f.transport.deliver(t, map[string]any{
		"type": "match_found", "session_id": "s1", "persistent_id": "pg1", "color": color,
		"board": startFEN, "turn": "first", "wager": 100, "opponent": "kim",
		"first_ms": 300000, "second_ms": 300000, "clock_running": true,
	})
	f.flush(t)
	require.Equal(t, domain.PhaseInSession, f.c.State().Phase)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func isResign(m any) bool {
	_, ok := m.(protocol.ResignMsg)
	return ok
}

func TestResignTimeoutNotifiesOnce(t *testing.T) {
	f := newFixture(t)
	f.startSession(t, "white")

	f.c.Resign()
	f.flush(t)
	require.True(t, f.c.State().Resigning)

	f.fake.Advance(6 * time.Second)
	f.flush(t)
	require.Zero(t, f.notices.count("resign_timeout"))

	f.fake.Advance(time.Second)
	waitFor(t, "resign timeout", func() bool { return f.notices.count("resign_timeout") == 1 })
	require.False(t, f.c.State().Resigning)

	f.fake.Advance(30 * time.Second)
	f.flush(t)
	require.Equal(t, 1, f.notices.count("resign_timeout"))
}

func TestResignIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.startSession(t, "white")

	f.c.Resign()
	f.c.Resign()
	f.flush(t)
	require.Equal(t, 1, f.transport.count(isResign))

	f.transport.deliver(t, map[string]any{
		"type": "game_ended", "session_id": "s1", "reason": "self_resigned", "winner_side": "second",
	})
	f.flush(t)
	st := f.c.State()
	require.Equal(t, domain.PhaseEnded, st.Phase)
	require.False(t, st.Resigning)

	f.c.Resign()
	f.fake.Advance(10 * time.Second)
	f.flush(t)
	require.Equal(t, 1, f.transport.count(isResign))
	require.Zero(t, f.notices.count("resign_timeout"))
}

func TestCancelSearchResetsFromAnyPhase(t *testing.T) {
	f := newFixture(t)
	isCancel := func(m any) bool { _, ok := m.(protocol.CancelSearchMsg); return ok }

	f.c.FindMatch(50, "")
	f.flush(t)
	require.Equal(t, domain.PhaseSearching, f.c.State().Phase)
	find, ok := f.transport.messages()[0].(protocol.FindMatchMsg)
	require.True(t, ok)
	require.Equal(t, int64(50), find.Wager)
	require.Equal(t, "p1", find.DisplayName)

	f.c.CancelSearch()
	f.flush(t)
	require.Equal(t, domain.PhaseIdle, f.c.State().Phase)
	require.Equal(t, 1, f.transport.count(isCancel))

	f.startSession(t, "black")
	f.c.CancelSearch()
	f.flush(t)
	st := f.c.State()
	require.Equal(t, domain.PhaseIdle, st.Phase)
	require.Nil(t, st.Session)
	require.Equal(t, 1, f.transport.count(isCancel))
}

func TestFindMatchWhileDisconnected(t *testing.T) {
	f := newFixture(t)
	f.transport.Disconnect()

	f.c.FindMatch(100, "me")
	f.flush(t)
	require.Equal(t, domain.PhaseIdle, f.c.State().Phase)
	require.Equal(t, 1, f.notices.count("not_connected"))
	require.Empty(t, f.transport.messages())
}

func TestSendMoveAppliesOptimistically(t *testing.T) {
	f := newFixture(t)
	f.startSession(t, "white")

	f.c.SendMove("e2", "e4", "")
	f.flush(t)

	st := f.c.State()
	require.Equal(t, domain.Second, st.Board.Turn)
	require.True(t, rules.SamePosition(afterE4FEN, st.Board.Position))
	msgs := f.transport.messages()
	require.Equal(t, protocol.MoveMsg{Type: protocol.KindMove, SessionID: "s1", UCI: "e2e4"}, msgs[len(msgs)-1])
}

func TestSendMoveOnOpponentTurnQueuesPremove(t *testing.T) {
	f := newFixture(t)
	f.startSession(t, "black")
	before := len(f.transport.messages())

	f.c.SendMove("e7", "e5", "")
	f.flush(t)
	require.Len(t, f.transport.messages(), before)
	require.NotNil(t, f.c.State().Premove)

	f.transport.deliver(t, map[string]any{
		"type": "move_applied", "session_id": "s1", "board": afterE4FEN, "turn": "second",
	})
	f.flush(t)

	msgs := f.transport.messages()
	require.Equal(t, protocol.MoveMsg{Type: protocol.KindMove, SessionID: "s1", UCI: "e7e5"}, msgs[len(msgs)-1])
	st := f.c.State()
	require.Nil(t, st.Premove)
	require.Equal(t, domain.First, st.Board.Turn)
}

func TestPremoveSourceSquareCancels(t *testing.T) {
	f := newFixture(t)
	f.startSession(t, "black")

	f.c.SetPremove("e7", "e5", "")
	f.flush(t)
	require.NotNil(t, f.c.State().Premove)

	f.c.SetPremove("e7", "", "")
	f.flush(t)
	require.Nil(t, f.c.State().Premove)

	f.c.SetPremove("d7", "d5", "")
	f.c.SetPremove("d7", "d6", "")
	f.flush(t)
	require.Nil(t, f.c.State().Premove)

	f.c.SetPremove("g8", "f6", "")
	f.flush(t)
	require.Equal(t, "g8f6", f.c.State().Premove.UCI())
}

func TestReconnectRequestsSyncInSession(t *testing.T) {
	f := newFixture(t)
	f.startSession(t, "white")

	f.transport.setStatus(conn.StatusReconnecting)
	f.transport.setStatus(conn.StatusConnected)
	f.flush(t)

	isSync := func(m any) bool { _, ok := m.(protocol.SyncGameMsg); return ok }
	require.Equal(t, 1, f.transport.count(isSync))
}

func TestTokenChangeReconnectsOnlyWhenIdle(t *testing.T) {
	f := newFixture(t)
	f.startSession(t, "white")

	f.c.SetAuthToken(context.Background(), "tok-2")
	f.flush(t)
	require.Zero(t, f.transport.connects.Load())
	require.Equal(t, domain.PhaseInSession, f.c.State().Phase)

	f.c.CancelSearch()
	f.c.SetAuthToken(context.Background(), "tok-3")
	f.flush(t)
	waitFor(t, "reconnect", func() bool { return f.transport.connects.Load() == 1 })
}

func TestSubscribeSeesPhaseChanges(t *testing.T) {
	f := newFixture(t)
	var mu sync.Mutex
	var phases []domain.Phase
	unsub := f.c.Subscribe(store.TopicPhase, func(st store.State) {
		mu.Lock()
		phases = append(phases, st.Phase)
		mu.Unlock()
	})
	defer unsub()

	f.startSession(t, "white")
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []domain.Phase{domain.PhaseSearching, domain.PhaseInSession}, phases)
}

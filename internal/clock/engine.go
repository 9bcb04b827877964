package clock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/park285/Cheese-Arena/internal/domain"
	"github.com/park285/Cheese-Arena/internal/metrics"
	"github.com/park285/Cheese-Arena/internal/protocol"
	"github.com/park285/Cheese-Arena/internal/store"
	"github.com/park285/Cheese-Arena/internal/task"
)

const (
	DefaultTick           = 200 * time.Millisecond
	DefaultDriftThreshold = 500 * time.Millisecond
)

type Sender interface {
	Send(msg any) bool
}

type TimeLossHandler func(side domain.Side)

type Config struct {
	Tick           time.Duration
	DriftThreshold time.Duration
}

// Engine turns server clock snapshots into a local countdown. All methods
// except Start and OnTimeLossCandidate must run on the event loop.
type Engine struct {
	store  *store.Store
	clock  clockwork.Clock
	post   task.Poster
	sender Sender
	logger *zap.Logger
	cfg    Config

	// firedFor is the snapshot key that already raised a time-loss candidate.
	firedFor string

	hM       sync.RWMutex
	handlers []TimeLossHandler
}

func New(st *store.Store, clk clockwork.Clock, post task.Poster, sender Sender, logger *zap.Logger, cfg Config) *Engine {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if cfg.DriftThreshold <= 0 {
		cfg.DriftThreshold = DefaultDriftThreshold
	}
	if post == nil {
		post = func(fn func()) bool { fn(); return true }
	}
	return &Engine{
		store:  st,
		clock:  clk,
		post:   post,
		sender: sender,
		logger: logger.With(zap.String("component", "clock")),
		cfg:    cfg,
	}
}

// OnTimeLossCandidate registers an advisory handler. The session only ends
// on a server terminal message.
func (e *Engine) OnTimeLossCandidate(fn TimeLossHandler) {
	e.hM.Lock()
	e.handlers = append(e.handlers, fn)
	e.hM.Unlock()
}

// Start posts a Tick onto the loop every period until ctx is done.
func (e *Engine) Start(ctx context.Context) {
	ticker := e.clock.NewTicker(e.cfg.Tick)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				e.post(e.Tick)
			}
		}
	}()
}

// ApplySnapshot replaces the current snapshot after a drift check.
func (e *Engine) ApplySnapshot(snap domain.TimerSnapshot) {
	now := e.clock.Now()
	nowMs := now.UnixMilli()
	if snap.ServerNow <= 0 {
		snap.ServerNow = nowMs
	}
	snap.ServerOffsetMs = snap.ServerNow - nowMs
	snap.ReceivedAt = now
	if snap.FirstMs < 0 {
		snap.FirstMs = 0
	}
	if snap.SecondMs < 0 {
		snap.SecondMs = 0
	}

	prev := e.store.Current().Timer
	e.store.SetTimer(&snap)
	e.firedFor = ""

	if prev == nil {
		e.refresh()
		return
	}
	if !prev.ClockRunning || prev.Turn != snap.Turn {
		return
	}
	side := snap.Turn
	projected := project(*prev, side, nowMs)
	incoming := snap.Stored(side)
	drift := projected - incoming
	if drift < 0 {
		drift = -drift
	}
	metrics.ClockDrift.Observe(float64(drift))
	if time.Duration(drift)*time.Millisecond > e.cfg.DriftThreshold {
		metrics.DriftCorrections.Inc()
		e.logger.Info("clock_drift_corrected",
			zap.String("side", string(side)),
			zap.Int64("projected_ms", projected),
			zap.Int64("reported_ms", incoming),
		)
		e.refresh()
	}
}

// Tick projects both clocks, publishes changed seconds and raises the
// time-loss candidate once per snapshot. The display is frozen once the
// session has ended.
func (e *Engine) Tick() {
	e.refresh()
}

func (e *Engine) refresh() {
	st := e.store.Current()
	if st.Timer == nil {
		return
	}
	// 종료 후에는 마지막 표시값을 유지한다
	if st.Phase == domain.PhaseEnded {
		return
	}
	nowMs := e.clock.Now().UnixMilli()
	first := project(*st.Timer, domain.First, nowMs)
	second := project(*st.Timer, domain.Second, nowMs)
	e.store.SetDisplay(domain.ClockDisplay{FirstSec: ceilSeconds(first), SecondSec: ceilSeconds(second)})

	if !st.Timer.ClockRunning || st.Phase != domain.PhaseInSession {
		return
	}
	running := st.Timer.Turn
	remaining := first
	if running == domain.Second {
		remaining = second
	}
	if remaining > 0 {
		return
	}
	key := snapshotKey(*st.Timer)
	if e.firedFor == key {
		return
	}
	e.firedFor = key
	metrics.TimeLossCandidates.Inc()
	e.logger.Info("clock_time_loss_candidate", zap.String("side", string(running)))

	e.hM.RLock()
	handlers := append([]TimeLossHandler(nil), e.handlers...)
	e.hM.RUnlock()
	for _, h := range handlers {
		h(running)
	}
}

// Project returns the remaining milliseconds for side right now.
func (e *Engine) Project(side domain.Side) int64 {
	st := e.store.Current()
	if st.Timer == nil {
		return 0
	}
	return project(*st.Timer, side, e.clock.Now().UnixMilli())
}

// Resume asks the server for a fresh snapshot after the client was throttled.
func (e *Engine) Resume() bool {
	st := e.store.Current()
	if !st.InSession() || e.sender == nil {
		return false
	}
	return e.sender.Send(protocol.ClockSyncRequest(st.Session.ID))
}

func project(snap domain.TimerSnapshot, side domain.Side, nowMs int64) int64 {
	stored := snap.Stored(side)
	if !snap.ClockRunning || side != snap.Turn {
		return max(stored, 0)
	}
	elapsed := max((nowMs+snap.ServerOffsetMs)-snap.ServerNow, 0)
	return max(stored-elapsed, 0)
}

func ceilSeconds(ms int64) int64 {
	if ms <= 0 {
		return 0
	}
	return (ms + 999) / 1000
}

func snapshotKey(s domain.TimerSnapshot) string {
	return fmt.Sprintf("%d/%s/%d/%d", s.ServerNow, s.Turn, s.FirstMs, s.SecondMs)
}

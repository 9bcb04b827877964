package archive

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/park285/Cheese-Arena/internal/domain"
	"github.com/park285/Cheese-Arena/internal/store"
)

// Record is one finished session as seen by the local player.
type Record struct {
	SessionID     string
	PersistentID  string
	PlayerID      string
	LocalSide     domain.Side
	Opponent      string
	Wager         int64
	Reason        string
	WinnerSide    string
	Result        string
	CreditsChange int64
	OpponentLeft  bool
	FinalPosition string
	StartedAt     time.Time
	EndedAt       time.Time
	DurationMs    int64
}

type Saver interface {
	Save(ctx context.Context, rec Record) error
}

// BuildRecord flattens a terminal result and the final store state.
func BuildRecord(playerID string, r domain.GameEndResult, st store.State) Record {
	rec := Record{
		SessionID:     r.SessionID,
		PlayerID:      playerID,
		Reason:        r.Reason,
		Result:        ResultToken(r.WinnerSide),
		CreditsChange: r.CreditsChange,
		OpponentLeft:  r.IsOpponentLeft,
		Opponent:      st.Match.Opponent,
		EndedAt:       r.EndedAt,
	}
	if r.WinnerSide != nil {
		rec.WinnerSide = string(*r.WinnerSide)
	}
	if st.Session != nil {
		rec.PersistentID = st.Session.PersistentID
		rec.LocalSide = st.Session.LocalSide
		rec.Wager = st.Session.Wager
		rec.StartedAt = st.Session.StartedAt
	}
	if st.Board != nil {
		rec.FinalPosition = st.Board.Position
	}
	if !rec.StartedAt.IsZero() && rec.EndedAt.After(rec.StartedAt) {
		rec.DurationMs = rec.EndedAt.Sub(rec.StartedAt).Milliseconds()
	}
	return rec
}

// ResultToken maps the winner to a PGN style result.
func ResultToken(winner *domain.Side) string {
	if winner == nil {
		return "1/2-1/2"
	}
	switch *winner {
	case domain.First:
		return "1-0"
	case domain.Second:
		return "0-1"
	default:
		return "*"
	}
}

type Repository struct {
	db *sql.DB
}

func NewRepository(ctx context.Context, databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

const schema = `CREATE TABLE IF NOT EXISTS arena_results (
	session_id     TEXT PRIMARY KEY,
	persistent_id  TEXT NOT NULL DEFAULT '',
	player_id      TEXT NOT NULL,
	local_side     TEXT NOT NULL,
	opponent       TEXT NOT NULL DEFAULT '',
	wager          BIGINT NOT NULL DEFAULT 0,
	reason         TEXT NOT NULL,
	winner_side    TEXT NOT NULL DEFAULT '',
	result         TEXT NOT NULL,
	credits_change BIGINT NOT NULL DEFAULT 0,
	opponent_left  BOOLEAN NOT NULL DEFAULT FALSE,
	final_position TEXT NOT NULL DEFAULT '',
	started_at     TIMESTAMPTZ,
	ended_at       TIMESTAMPTZ NOT NULL,
	duration_ms    BIGINT NOT NULL DEFAULT 0
)`

func (r *Repository) Migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

// Save upserts rec keyed by session id.
func (r *Repository) Save(ctx context.Context, rec Record) error {
	if r == nil || r.db == nil {
		return nil
	}
	q := `INSERT INTO arena_results (
        session_id, persistent_id, player_id, local_side, opponent, wager,
        reason, winner_side, result, credits_change, opponent_left,
        final_position, started_at, ended_at, duration_ms
      ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
      ) ON CONFLICT (session_id) DO UPDATE SET
        reason=EXCLUDED.reason,
        winner_side=EXCLUDED.winner_side,
        result=EXCLUDED.result,
        credits_change=EXCLUDED.credits_change,
        opponent_left=EXCLUDED.opponent_left,
        final_position=EXCLUDED.final_position,
        ended_at=EXCLUDED.ended_at,
        duration_ms=EXCLUDED.duration_ms`

	var started any
	if !rec.StartedAt.IsZero() {
		started = rec.StartedAt
	}
	_, err := r.db.ExecContext(ctx, q,
		rec.SessionID, rec.PersistentID, rec.PlayerID, string(rec.LocalSide), rec.Opponent, rec.Wager,
		rec.Reason, rec.WinnerSide, rec.Result, rec.CreditsChange, rec.OpponentLeft,
		rec.FinalPosition, started, rec.EndedAt, rec.DurationMs,
	)
	return err
}

// Recorder persists terminal results off the event loop.
type Recorder struct {
	saver    Saver
	playerID string
	timeout  time.Duration
	logger   *zap.Logger
	wg       sync.WaitGroup
}

func NewRecorder(saver Saver, playerID string, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{saver: saver, playerID: playerID, timeout: 5 * time.Second, logger: logger.With(zap.String("component", "archive"))}
}

// Hook matches the interpreter terminal hook signature.
func (rc *Recorder) Hook(r domain.GameEndResult, st store.State) {
	rec := BuildRecord(rc.playerID, r, st)
	rc.wg.Add(1)
	go func() {
		defer rc.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), rc.timeout)
		defer cancel()
		if err := rc.saver.Save(ctx, rec); err != nil {
			rc.logger.Warn("archive_save_failed", zap.String("session_id", rec.SessionID), zap.Error(err))
			return
		}
		rc.logger.Debug("archive_saved", zap.String("session_id", rec.SessionID), zap.String("result", rec.Result))
	}()
}

func (rc *Recorder) Wait() { rc.wg.Wait() }

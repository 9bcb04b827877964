package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Arena/internal/boardimg"
	"github.com/park285/Cheese-Arena/internal/domain"
	"github.com/park285/Cheese-Arena/internal/store"
)

// StateReader returns the latest session snapshot.
type StateReader func() store.State

// Presenter prints notices and board views. It satisfies the interpreter's
// Navigator and Notifier.
type Presenter struct {
	mu     sync.Mutex
	out    io.Writer
	fmt    *Formatter
	state  StateReader
	logger *zap.Logger

	renderer    *boardimg.Renderer
	snapshotDir string
}

func NewPresenter(out io.Writer, state StateReader, logger *zap.Logger) *Presenter {
	if out == nil {
		out = os.Stdout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Presenter{out: out, fmt: NewFormatter(), state: state, logger: logger.With(zap.String("component", "console"))}
}

// WithSnapshots enables PNG board snapshots written under dir.
func (p *Presenter) WithSnapshots(r *boardimg.Renderer, dir string) *Presenter {
	p.renderer = r
	p.snapshotDir = strings.TrimSpace(dir)
	return p
}

func (p *Presenter) Notify(n domain.Notice) {
	tag := string(n.Severity)
	if n.Retryable {
		tag += ", retry"
	}
	p.printf("[%s] %s\n", tag, n.Message)
}

func (p *Presenter) NavigateToSession(sessionID string) {
	p.printf("♟️ entering session %s\n", sessionID)
	p.Show()
}

// Show prints the current state.
func (p *Presenter) Show() {
	if p.state == nil {
		return
	}
	p.printf("%s", p.fmt.State(p.state()))
}

func (p *Presenter) Print(text string) { p.printf("%s\n", text) }

func (p *Presenter) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := fmt.Fprintf(p.out, format, args...); err != nil {
		p.logger.Debug("console_write_failed", zap.Error(err))
	}
}

// Snapshot renders st to a PNG file and returns its path.
func (p *Presenter) Snapshot(ctx context.Context, st store.State) (string, error) {
	if p.renderer == nil || p.snapshotDir == "" {
		return "", fmt.Errorf("snapshots are disabled")
	}
	if st.Board == nil {
		return "", fmt.Errorf("no board to render")
	}
	opts := boardimg.Options{LastMove: st.Board.LastMove, Premove: st.Premove}
	name := "arena"
	if sess := st.Session; sess != nil {
		opts.Perspective = sess.LocalSide
		opts.Header = fmt.Sprintf("%s vs %s", sess.ID, orDash(st.Match.Opponent))
		opts.Footer = fmt.Sprintf("you %s | opp %s",
			Clock(st.Display.For(sess.LocalSide)), Clock(st.Display.For(sess.LocalSide.Opponent())))
		name = sess.ID
	}
	if st.Result != nil && st.Session != nil {
		opts.Footer = p.fmt.Result(*st.Result, st.Session.LocalSide)
	}
	data, err := p.renderer.RenderPNG(ctx, st.Board.Position, opts)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(p.snapshotDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(p.snapshotDir, fmt.Sprintf("%s-%d.png", sanitizeName(name), time.Now().UnixMilli()))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// TerminalHook writes a final snapshot when snapshots are enabled.
func (p *Presenter) TerminalHook(_ domain.GameEndResult, final store.State) {
	if p.renderer == nil || p.snapshotDir == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		path, err := p.Snapshot(ctx, final)
		if err != nil {
			p.logger.Warn("final_snapshot_failed", zap.Error(err))
			return
		}
		p.printf("🖼 final board saved to %s\n", path)
	}()
}

func sanitizeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}

package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/park285/Cheese-Arena/internal/adapter/console"
	"github.com/park285/Cheese-Arena/internal/archive"
	"github.com/park285/Cheese-Arena/internal/auth"
	"github.com/park285/Cheese-Arena/internal/boardimg"
	appcfg "github.com/park285/Cheese-Arena/internal/config"
	"github.com/park285/Cheese-Arena/internal/conn"
	"github.com/park285/Cheese-Arena/internal/interpreter"
	"github.com/park285/Cheese-Arena/internal/ledger"
	"github.com/park285/Cheese-Arena/internal/metrics"
	"github.com/park285/Cheese-Arena/internal/msgcat"
	"github.com/park285/Cheese-Arena/internal/obslog"
	"github.com/park285/Cheese-Arena/internal/session"
	"github.com/park285/Cheese-Arena/internal/settlement"
	"github.com/park285/Cheese-Arena/internal/store"
)

func main() {
	// .env는 선택 사항
	_ = godotenv.Load()

	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()

	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	catalog, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		log.Fatalf("message catalog error: %v", err)
	}

	tokens := auth.NewStatic(cfg.AuthToken)

	manager := conn.New(conn.Options{
		URL:          cfg.WSURL,
		MaxReconnect: cfg.MaxReconnect,
		Logger:       obslog.Named("conn"),
	})

	var settler interpreter.Settler
	var bridge *settlement.Bridge
	if cfg.SettlementURL != "" {
		var dedup ledger.Deduper = ledger.NewMemory()
		if cfg.RedisURL != "" {
			rdb, err := ledger.Open(ctx, cfg.RedisURL)
			if err != nil {
				log.Fatalf("redis init error: %v", err)
			}
			defer func() { _ = rdb.Close() }()
			dedup = ledger.NewRedis(rdb, 0)
		}
		client := settlement.NewClient(cfg.SettlementURL,
			settlement.WithTimeout(8*time.Second),
			settlement.WithHeaderProvider(func() map[string]string {
				h := map[string]string{}
				if tok := tokens.CurrentToken(); tok != "" {
					h["Authorization"] = "Bearer " + tok
				}
				return h
			}),
		)
		bridge = settlement.NewBridge(client, dedup, cfg.PlayerID, obslog.Named("settlement"))
		settler = bridge
	}

	var ctrl *session.Controller
	presenter := console.NewPresenter(os.Stdout, func() store.State { return ctrl.State() }, obslog.Named("console"))
	if cfg.SnapshotDir != "" {
		presenter.WithSnapshots(boardimg.NewRenderer(), cfg.SnapshotDir)
	}

	ctrl, err = session.New(session.Config{
		PlayerID:       cfg.PlayerID,
		DisplayName:    cfg.DisplayName,
		ResignTimeout:  cfg.ResignTimeout,
		DesyncDelay:    cfg.DesyncDelay,
		Tick:           cfg.Tick,
		DriftThreshold: cfg.DriftThreshold,
	}, session.Deps{
		Transport: manager,
		Settler:   settler,
		Navigator: presenter,
		Notifier:  presenter,
		Catalog:   catalog,
		Auth:      tokens,
		Logger:    obslog.Named("session"),
	})
	if err != nil {
		log.Fatalf("session init error: %v", err)
	}
	ctrl.OnTerminal(presenter.TerminalHook)

	var recorder *archive.Recorder
	if cfg.DatabaseURL != "" {
		repo, err := archive.NewRepository(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("archive init error: %v", err)
		}
		defer func() { _ = repo.Close() }()
		if err := repo.Migrate(ctx); err != nil {
			log.Fatalf("archive migrate error: %v", err)
		}
		recorder = archive.NewRecorder(repo, cfg.PlayerID, obslog.Named("archive"))
		ctrl.OnTerminal(recorder.Hook)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ctrl.Run(gctx)
		return nil
	})
	if cfg.MetricsAddr != "" {
		g.Go(func() error { return metrics.Serve(gctx, cfg.MetricsAddr) })
	}

	if err := ctrl.Connect(gctx); err != nil {
		// 재연결은 백그라운드에서 계속된다
		logger.Warn("initial_connect_failed", zap.Error(err))
	}
	presenter.Print(helpText())

	go readCommands(gctx, stop, ctrl, presenter, tokens, manager)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("arena_client_exit", zap.Error(err))
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = manager.Close(closeCtx)
	if bridge != nil {
		bridge.Wait()
	}
	if recorder != nil {
		recorder.Wait()
	}
}

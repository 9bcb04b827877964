package settlement

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Arena/internal/ledger"
	"github.com/park285/Cheese-Arena/internal/metrics"
)

// Bridge forwards terminal outcomes to the settlement service at most once
// per session id. A failed request releases its claim. Requests run off the
// event loop.
type Bridge struct {
	svc      Service
	dedup    ledger.Deduper
	playerID string
	timeout  time.Duration
	logger   *zap.Logger

	wg sync.WaitGroup
}

func NewBridge(svc Service, dedup ledger.Deduper, playerID string, logger *zap.Logger) *Bridge {
	if dedup == nil {
		dedup = ledger.NewMemory()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		svc:      svc,
		dedup:    dedup,
		playerID: playerID,
		timeout:  15 * time.Second,
		logger:   logger.With(zap.String("component", "settlement")),
	}
}

// Settle requests a balance resync in the background.
func (b *Bridge) Settle(sessionID string, delta int64, reason string) {
	if b == nil || sessionID == "" {
		return
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		defer cancel()

		claimed, err := b.dedup.Claim(ctx, sessionID)
		if err != nil {
			// ledger 장애 시에는 요청을 보낸다. 서버가 멱등키로 중복을 걸러낸다.
			b.logger.Warn("settlement_claim_failed", zap.String("session_id", sessionID), zap.Error(err))
		} else if !claimed {
			metrics.SettlementRequests.WithLabelValues("duplicate").Inc()
			b.logger.Debug("settlement_duplicate", zap.String("session_id", sessionID))
			return
		}
		if b.svc == nil {
			return
		}
		resp, err := b.svc.RequestResync(ctx, Request{SessionID: sessionID, PlayerID: b.playerID, Delta: delta, Reason: reason})
		if err != nil {
			metrics.SettlementRequests.WithLabelValues("failed").Inc()
			b.logger.Warn("settlement_failed", zap.String("session_id", sessionID), zap.Error(err))
			if claimed {
				// 다음 종료 통지나 재시작 때 다시 보낼 수 있도록 claim을 푼다
				if rerr := b.dedup.Release(ctx, sessionID); rerr != nil {
					b.logger.Warn("settlement_release_failed", zap.String("session_id", sessionID), zap.Error(rerr))
				}
			}
			return
		}
		metrics.SettlementRequests.WithLabelValues("ok").Inc()
		fields := []zap.Field{zap.String("session_id", sessionID), zap.Int64("delta", delta)}
		if resp != nil {
			fields = append(fields, zap.Int64("balance", resp.Balance))
		}
		b.logger.Info("settlement_requested", fields...)
	}()
}

// Wait blocks until in-flight requests finish.
func (b *Bridge) Wait() { b.wg.Wait() }

package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	InboundMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_inbound_messages_total",
		Help: "Inbound protocol messages by kind.",
	}, []string{"kind"})

	InboundDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_inbound_dropped_total",
		Help: "Inbound frames dropped before reaching the state machine.",
	}, []string{"reason"})

	SendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_send_failures_total",
		Help: "Outbound sends attempted while the transport was down.",
	})

	ReconnectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_reconnect_attempts_total",
		Help: "Reconnect dial attempts by outcome.",
	}, []string{"outcome"})

	ConnectionStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "arena_connection_status",
		Help: "1 for the current connection status.",
	}, []string{"status"})

	ClockDrift = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "arena_clock_drift_ms",
		Help:    "Absolute difference between projected and reported remaining time.",
		Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000},
	})

	DriftCorrections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_clock_drift_corrections_total",
		Help: "Snapshots that disagreed with the local projection by more than the threshold.",
	})

	TimeLossCandidates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_time_loss_candidates_total",
		Help: "Local projections that reached zero.",
	})

	Premoves = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_premoves_total",
		Help: "Premove outcomes.",
	}, []string{"outcome"})

	SettlementRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_settlement_requests_total",
		Help: "Balance resync requests by outcome.",
	}, []string{"outcome"})

	Desyncs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_desync_recoveries_total",
		Help: "Forced resets after the server reported an existing session.",
	})
)

var statuses = []string{"disconnected", "connecting", "connected", "reconnecting"}

// SetConnectionStatus flips the status gauge to current.
func SetConnectionStatus(current string) {
	for _, s := range statuses {
		v := 0.0
		if s == current {
			v = 1
		}
		ConnectionStatus.WithLabelValues(s).Set(v)
	}
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

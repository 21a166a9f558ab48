// Package metrics exposes trading loop counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type Metrics struct {
	Cycles           prometheus.Counter
	Signals          *prometheus.CounterVec
	InsufficientData *prometheus.CounterVec
	Intents          *prometheus.CounterVec
	OrderFailures    *prometheus.CounterVec
	CycleDuration    prometheus.Histogram
	PositionQuantity *prometheus.GaugeVec
	StreamConnected  prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg skips registration.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_cycles_total", Help: "Evaluation cycles run",
		}),
		Signals: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "trader_signals_total", Help: "Signals produced by strategy and action"},
			[]string{"strategy", "action"},
		),
		InsufficientData: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "trader_insufficient_data_total", Help: "Cycles skipped for lack of candles"},
			[]string{"strategy"},
		),
		Intents: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "trader_order_intents_total", Help: "Order intents submitted"},
			[]string{"side", "kind", "reduce_only"},
		),
		OrderFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "trader_order_failures_total", Help: "Order intents rejected or failed"},
			[]string{"kind"},
		),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trader_cycle_duration_seconds",
			Help:    "Wall time of one evaluation cycle",
			Buckets: prometheus.DefBuckets,
		}),
		PositionQuantity: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "trader_position_quantity", Help: "Signed position quantity after the last cycle"},
			[]string{"symbol"},
		),
		StreamConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_stream_connected", Help: "1 while the live trade stream is healthy",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Cycles, m.Signals, m.InsufficientData, m.Intents,
			m.OrderFailures, m.CycleDuration, m.PositionQuantity, m.StreamConnected)
	}
	return m
}

// Serve exposes gatherer on addr/metrics until ctx is done.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
		}
	}()
	context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
	return srv
}

// WatchHealth polls check every interval until ctx is done, setting g to 1
// while it returns nil and 0 otherwise. Transitions are logged.
func WatchHealth(ctx context.Context, every time.Duration, check func() error, g prometheus.Gauge, logger zerolog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	healthy := true
	for {
		err := check()
		switch {
		case err == nil:
			g.Set(1)
			if !healthy {
				logger.Info().Msg("health check recovered")
			}
		case healthy:
			g.Set(0)
			logger.Warn().Err(err).Msg("health check failing")
		default:
			g.Set(0)
		}
		healthy = err == nil

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

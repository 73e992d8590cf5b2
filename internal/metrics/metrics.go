// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

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

// Stream outcomes used as the "outcome" label.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeAborted = "aborted"
)

var (
	// Stream metrics
	StreamsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rigstream_streams_started_total",
			Help: "Total streaming attempts started",
		},
		[]string{"model"},
	)

	StreamsEnded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rigstream_streams_ended_total",
			Help: "Total streaming attempts ended",
		},
		[]string{"model", "outcome"}, // success, error, aborted
	)

	StreamFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rigstream_stream_text_fallbacks_total",
			Help: "Attempts that degraded to the plain-text path",
		},
		[]string{"model"},
	)

	TimeToFirstToken = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rigstream_time_to_first_token_seconds",
			Help:    "Delay between send and first content token",
			Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 30},
		},
		[]string{"model"},
	)

	StreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rigstream_stream_duration_seconds",
			Help:    "Streaming attempt duration",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"model"},
	)

	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rigstream_tokens_total",
			Help: "Tokens reported by providers",
		},
		[]string{"model", "direction"}, // "input" or "output"
	)

	// Transport metrics
	ConnectRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rigstream_connect_retries_total",
			Help: "Connection attempts retried by provider adapters",
		},
		[]string{"provider"},
	)

	// Cache metrics
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rigstream_cache_lookups_total",
			Help: "Cache lookups",
		},
		[]string{"result"}, // "hit", "miss" or "expired"
	)

	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rigstream_cache_evictions_total",
			Help: "Cache entries removed by maintenance",
		},
		[]string{"reason"}, // "expired" or "capacity"
	)

	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rigstream_cache_entries",
			Help: "Entries currently held by the cache",
		},
	)

	CacheStoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rigstream_cache_store_errors_total",
			Help: "Persistence errors swallowed by the cache",
		},
		[]string{"op"},
	)

	CacheStoreLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rigstream_cache_store_latency_seconds",
			Help:    "Cache persistence operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)
)

// ObserveTokens adds input and output token counts for model.
func ObserveTokens(model string, input, output int) {
	if input > 0 {
		TokensTotal.WithLabelValues(model, "input").Add(float64(input))
	}
	if output > 0 {
		TokensTotal.WithLabelValues(model, "output").Add(float64(output))
	}
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Package metrics exposes dealwatch counters for prometheus scraping.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"comic-deal-alerts/internal/rules"
)

const namespace = "dealwatch"

// Metrics holds every collector the service updates.
type Metrics struct {
	registry *prometheus.Registry

	RulesInserted      prometheus.Counter
	RulesRejected      *prometheus.CounterVec
	Rules              *prometheus.GaugeVec
	DealsEvaluated     prometheus.Counter
	MatchesEmitted     prometheus.Counter
	NotificationsTotal *prometheus.CounterVec
	TickDuration       prometheus.Histogram
}

// New builds a Metrics instance on its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		RulesInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rules",
			Name:      "inserted_total",
			Help:      "Rules accepted into the store",
		}),
		RulesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rules",
			Name:      "rejected_total",
			Help:      "Rule inserts rejected, by reason",
		}, []string{"reason"}),
		Rules: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rules",
			Help:      "Live rules by status",
		}, []string{"status"}),
		DealsEvaluated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "matching",
			Name:      "deals_evaluated_total",
			Help:      "Deal records run through the match engine",
		}),
		MatchesEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "matching",
			Name:      "matches_emitted_total",
			Help:      "Match events produced",
		}),
		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerting",
			Name:      "notifications_total",
			Help:      "Notification attempts by outcome (sent, failed, suppressed)",
		}, []string{"status"}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "tick_duration_seconds",
			Help:      "Wall time of one poll-and-match cycle",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.RulesInserted,
		m.RulesRejected,
		m.Rules,
		m.DealsEvaluated,
		m.MatchesEmitted,
		m.NotificationsTotal,
		m.TickDuration,
	)
	return m
}

// Registry returns the underlying prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRuleCounts sets the rules gauge from a store tally.
func (m *Metrics) ObserveRuleCounts(c rules.Counts) {
	if m == nil {
		return
	}
	m.Rules.WithLabelValues(string(rules.StatusActive)).Set(float64(c.Active))
	m.Rules.WithLabelValues(string(rules.StatusPaused)).Set(float64(c.Paused))
}

// ObserveInsert records the outcome of a rule insert.
func (m *Metrics) ObserveInsert(err error) {
	if m == nil {
		return
	}
	var verrs rules.ValidationErrors
	switch {
	case err == nil:
		m.RulesInserted.Inc()
	case errors.Is(err, rules.ErrDuplicateRule):
		m.RulesRejected.WithLabelValues("duplicate").Inc()
	case errors.As(err, &verrs):
		m.RulesRejected.WithLabelValues("invalid").Inc()
	default:
		m.RulesRejected.WithLabelValues("error").Inc()
	}
}

// ObserveTick records a completed cycle.
func (m *Metrics) ObserveTick(started time.Time, deals, matches int) {
	if m == nil {
		return
	}
	m.TickDuration.Observe(time.Since(started).Seconds())
	m.DealsEvaluated.Add(float64(deals))
	m.MatchesEmitted.Add(float64(matches))
}

// ObserveNotification counts a notification outcome.
func (m *Metrics) ObserveNotification(status string) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(status).Inc()
}

// Server serves /metrics and /health.
type Server struct {
	server *http.Server
	logger zerolog.Logger
}

// NewServer builds the metrics HTTP server.
func NewServer(addr, path string, m *Metrics, logger zerolog.Logger) *Server {
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.server.Addr).Msg("metrics server listening")
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown metrics server: %w", err)
		}
		return nil
	}
}

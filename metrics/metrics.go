package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bolo/log"
	"bolo/recognition"
)

// Metrics holds the process counters on a private registry, so nothing from
// the default Go collectors leaks into the scrape.
type Metrics struct {
	reg *prometheus.Registry

	sessions prometheus.Counter
	errors   *prometheus.CounterVec
	results  *prometheus.CounterVec
	copies   *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bolo",
			Name:      "sessions_started_total",
			Help:      "Recognition sessions that reported start.",
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bolo",
			Name:      "recognition_errors_total",
			Help:      "Recognition errors by code.",
		}, []string{"code"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bolo",
			Name:      "result_events_total",
			Help:      "Result events by finality of the last result.",
		}, []string{"finality"}),
		copies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bolo",
			Name:      "copies_total",
			Help:      "Clipboard copies by outcome.",
		}, []string{"outcome"}),
	}
	m.reg.MustRegister(m.sessions, m.errors, m.results, m.copies)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Observe counts one applied recognition event. It matches the
// dictation observer signature.
func (m *Metrics) Observe(ev recognition.Event) {
	switch ev.Kind {
	case recognition.EventStart:
		m.sessions.Inc()
	case recognition.EventError:
		m.errors.WithLabelValues(string(ev.Error)).Inc()
	case recognition.EventResult:
		finality := "interim"
		if n := len(ev.Results); n > 0 && ev.Results[n-1].IsFinal {
			finality = "final"
		}
		m.results.WithLabelValues(finality).Inc()
	}
}

func (m *Metrics) Copy(ok bool) {
	outcome := "failed"
	if ok {
		outcome = "ok"
	}
	m.copies.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Infof("metrics listening on %s", ln.Addr())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

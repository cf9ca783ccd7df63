// Package metrics exposes client counters on a private prometheus
// registry. A nil *Stats is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stats holds client statistics.
type Stats struct {
	reg *prometheus.Registry

	framesRead      prometheus.Counter
	framesWritten   prometheus.Counter
	decodeErrors    prometheus.Counter
	decryptFailures prometheus.Counter
	reconnects      prometheus.Counter
	connState       prometheus.Gauge
	pairing         *prometheus.CounterVec
	msgsReceived    prometheus.Counter
	msgsDuplicate   prometheus.Counter
	msgsSent        prometheus.Counter
	deliveries      *prometheus.CounterVec
	outboxDepth     prometheus.Gauge
}

// New returns Stats registered on a fresh registry.
func New() *Stats {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())
	return &Stats{
		reg: reg,

		framesRead: f.NewCounter(prometheus.CounterOpts{
			Name: "wabridge_frames_read",
			Help: "Total frames read from the relay",
		}),
		framesWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "wabridge_frames_written",
			Help: "Total frames written to the relay",
		}),
		decodeErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "wabridge_decode_errors",
			Help: "Count of inbound frames dropped as malformed",
		}),
		decryptFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "wabridge_decryption_failures",
			Help: "Count of inbound frames that failed decryption",
		}),
		reconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "wabridge_reconnects",
			Help: "Count of reconnect attempts",
		}),
		connState: f.NewGauge(prometheus.GaugeOpts{
			Name: "wabridge_connection_state",
			Help: "Current connection state (0 disconnected .. 4 closing)",
		}),
		pairing: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wabridge_pairing_attempts",
			Help: "Pairing attempts by outcome",
		}, []string{"result"}),
		msgsReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "wabridge_messages_received",
			Help: "Messages delivered to subscribers",
		}),
		msgsDuplicate: f.NewCounter(prometheus.CounterOpts{
			Name: "wabridge_messages_duplicate",
			Help: "Inbound messages suppressed as duplicates",
		}),
		msgsSent: f.NewCounter(prometheus.CounterOpts{
			Name: "wabridge_messages_sent",
			Help: "Outbound message transmissions, including resends",
		}),
		deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wabridge_deliveries",
			Help: "Outbound messages by final delivery status",
		}, []string{"status"}),
		outboxDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "wabridge_outbox_depth",
			Help: "Outbound messages awaiting acknowledgement",
		}),
	}
}

func (s *Stats) FrameRead() {
	if s != nil {
		s.framesRead.Inc()
	}
}

func (s *Stats) FrameWritten() {
	if s != nil {
		s.framesWritten.Inc()
	}
}

func (s *Stats) DecodeError() {
	if s != nil {
		s.decodeErrors.Inc()
	}
}

func (s *Stats) DecryptFailure() {
	if s != nil {
		s.decryptFailures.Inc()
	}
}

func (s *Stats) Reconnect() {
	if s != nil {
		s.reconnects.Inc()
	}
}

func (s *Stats) ConnState(v int) {
	if s != nil {
		s.connState.Set(float64(v))
	}
}

func (s *Stats) PairingResult(result string) {
	if s != nil {
		s.pairing.WithLabelValues(result).Inc()
	}
}

func (s *Stats) MessageReceived() {
	if s != nil {
		s.msgsReceived.Inc()
	}
}

func (s *Stats) MessageDuplicate() {
	if s != nil {
		s.msgsDuplicate.Inc()
	}
}

func (s *Stats) MessageSent() {
	if s != nil {
		s.msgsSent.Inc()
	}
}

func (s *Stats) Delivery(status string) {
	if s != nil {
		s.deliveries.WithLabelValues(status).Inc()
	}
}

func (s *Stats) OutboxDepth(n int) {
	if s != nil {
		s.outboxDepth.Set(float64(n))
	}
}

// Handler serves the registry in the prometheus text format.
func (s *Stats) Handler() http.Handler {
	return promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{Registry: s.reg})
}

// Serve exposes /metrics on addr until ctx is done.
func (s *Stats) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return ctx.Err()
	}
}

// Package metrics holds the Prometheus collectors of the mailer.
package metrics

import (
	"context"
	"io"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/shineum/bulk-mailer-lite/internal/email"
	"github.com/shineum/bulk-mailer-lite/internal/provider"
)

const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

var (
	// MessagesTotal counts delivery attempts per provider and outcome.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulk_mailer_messages_total",
			Help: "Total number of messages handed to a provider",
		},
		[]string{"provider", "status"},
	)

	// SendDuration observes the time spent in a single provider call.
	SendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bulk_mailer_send_duration_seconds",
			Help:    "Duration of a single provider send in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"provider"},
	)

	// RunsTotal counts send runs.
	RunsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bulk_mailer_runs_total",
			Help: "Total number of send runs started",
		},
	)

	// HTTPRequestDuration observes API request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bulk_mailer_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
		},
		[]string{"method", "route", "status"},
	)
)

// RecordSend records the outcome of one provider call.
func RecordSend(providerName string, d time.Duration, err error) {
	status := StatusSent
	if err != nil {
		status = StatusFailed
	}
	MessagesTotal.WithLabelValues(providerName, status).Inc()
	SendDuration.WithLabelValues(providerName).Observe(d.Seconds())
}

// RecordHTTPRequest records the latency of one API request.
func RecordHTTPRequest(method, route string, status int, d time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

// Instrument wraps p so every Send is recorded. Close is forwarded when p
// implements io.Closer.
func Instrument(p provider.Provider) *InstrumentedProvider {
	return &InstrumentedProvider{next: p}
}

// InstrumentedProvider is a provider.Provider that records metrics.
type InstrumentedProvider struct {
	next provider.Provider
}

// Send delegates to the wrapped provider.
func (p *InstrumentedProvider) Send(ctx context.Context, msg *email.Email) error {
	start := time.Now()
	err := p.next.Send(ctx, msg)
	RecordSend(p.next.Name(), time.Since(start), err)
	return err
}

// Name returns the wrapped provider's name.
func (p *InstrumentedProvider) Name() string {
	return p.next.Name()
}

// Close closes the wrapped provider if it holds resources.
func (p *InstrumentedProvider) Close() error {
	if c, ok := p.next.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

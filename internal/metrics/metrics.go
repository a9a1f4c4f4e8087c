// Package metrics exposes Prometheus counters for interceptions and deliveries.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shineum/mail-interceptor/internal/email"
	"github.com/shineum/mail-interceptor/internal/provider"
)

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

// Metrics holds the counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Intercepted *prometheus.CounterVec
	Delivery    *prometheus.CounterVec
}

// New creates the counters and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Intercepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mail_interceptor_intercepted_total",
			Help: "Total number of messages redirected to the intercept address",
		}, []string{"delegate"}),
		Delivery: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mail_interceptor_delivery_total",
			Help: "Total number of delivery attempts by provider and outcome",
		}, []string{"provider", "outcome"}),
	}
	reg.MustRegister(m.Intercepted, m.Delivery)
	return m
}

// ObserveIntercepted counts one redirected message.
func (m *Metrics) ObserveIntercepted(delegate string) {
	if m == nil {
		return
	}
	m.Intercepted.WithLabelValues(delegate).Inc()
}

// ObserveDelivery counts one delivery attempt.
func (m *Metrics) ObserveDelivery(providerName string, err error) {
	if m == nil {
		return
	}
	outcome := outcomeSuccess
	if err != nil {
		outcome = outcomeFailure
	}
	m.Delivery.WithLabelValues(providerName, outcome).Inc()
}

// Instrument wraps p so that every Send is counted. The wrapper keeps the
// name of p so it can be registered in its place.
func (m *Metrics) Instrument(p provider.Provider) provider.Provider {
	if m == nil {
		return p
	}
	return &instrumented{next: p, metrics: m}
}

type instrumented struct {
	next    provider.Provider
	metrics *Metrics
}

func (i *instrumented) Send(ctx context.Context, msg *email.Email) (*provider.Result, error) {
	res, err := i.next.Send(ctx, msg)
	i.metrics.ObserveDelivery(i.next.Name(), err)
	return res, err
}

func (i *instrumented) Name() string {
	return i.next.Name()
}

// Handler returns the HTTP handler serving the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/shineum/mail-interceptor/internal/email"
	"github.com/shineum/mail-interceptor/internal/provider"
)

type stubProvider struct {
	err error
}

func (s *stubProvider) Send(_ context.Context, _ *email.Email) (*provider.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &provider.Result{Provider: "stub", MessageID: "id-1"}, nil
}

func (s *stubProvider) Name() string {
	return "stub"
}

func TestObserveIntercepted(t *testing.T) {
	t.Parallel()

	m := New(prometheus.NewRegistry())
	m.ObserveIntercepted("ses")
	m.ObserveIntercepted("ses")

	if v := testutil.ToFloat64(m.Intercepted.WithLabelValues("ses")); v != 2 {
		t.Errorf("intercepted{ses}: got %v, want 2", v)
	}
}

func TestInstrument_CountsOutcomes(t *testing.T) {
	t.Parallel()

	m := New(prometheus.NewRegistry())
	ok := m.Instrument(&stubProvider{})
	failing := m.Instrument(&stubProvider{err: errors.New("boom")})

	if ok.Name() != "stub" {
		t.Errorf("Name(): got %q, want %q", ok.Name(), "stub")
	}

	res, err := ok.Send(context.Background(), &email.Email{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.MessageID != "id-1" {
		t.Errorf("MessageID: got %q, want %q", res.MessageID, "id-1")
	}
	if _, err := failing.Send(context.Background(), &email.Email{}); err == nil {
		t.Fatal("expected error")
	}

	if v := testutil.ToFloat64(m.Delivery.WithLabelValues("stub", "success")); v != 1 {
		t.Errorf("delivery{success}: got %v, want 1", v)
	}
	if v := testutil.ToFloat64(m.Delivery.WithLabelValues("stub", "failure")); v != 1 {
		t.Errorf("delivery{failure}: got %v, want 1", v)
	}
}

func TestNilMetrics(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.ObserveIntercepted("x")
	m.ObserveDelivery("x", nil)

	p := &stubProvider{}
	if got := m.Instrument(p); got != provider.Provider(p) {
		t.Error("nil Metrics should return the provider unwrapped")
	}
}

func TestHandler(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ObserveIntercepted("stdout")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), `mail_interceptor_intercepted_total{delegate="stdout"} 1`) {
		t.Errorf("metrics output missing counter:\n%s", rec.Body.String())
	}
}

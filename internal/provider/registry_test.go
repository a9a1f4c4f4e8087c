package provider

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/shineum/mail-interceptor/internal/email"
)

type namedProvider struct {
	name string
}

func (p *namedProvider) Send(_ context.Context, _ *email.Email) (*Result, error) {
	return &Result{Provider: p.name}, nil
}

func (p *namedProvider) Name() string {
	return p.name
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	stdout := &namedProvider{name: "stdout"}
	if err := r.Register(stdout); err != nil {
		t.Fatalf("Register: unexpected error: %v", err)
	}
	if err := r.RegisterAs("dev", &namedProvider{name: "ses"}); err != nil {
		t.Fatalf("RegisterAs: unexpected error: %v", err)
	}

	got, err := r.Get("stdout")
	if err != nil {
		t.Fatalf("Get: unexpected error: %v", err)
	}
	if got != stdout {
		t.Errorf("Get(stdout): got %v, want %v", got, stdout)
	}

	if got := r.Names(); !reflect.DeepEqual(got, []string{"dev", "stdout"}) {
		t.Errorf("Names(): got %v", got)
	}
}

func TestRegistry_Duplicate(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	if err := r.Register(&namedProvider{name: "stdout"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := r.Register(&namedProvider{name: "stdout"})
	if !errors.Is(err, ErrDuplicateProvider) {
		t.Errorf("expected ErrDuplicateProvider, got %v", err)
	}
}

func TestRegistry_Unknown(t *testing.T) {
	t.Parallel()

	_, err := NewRegistry().Get("missing")
	if !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("expected ErrUnknownProvider, got %v", err)
	}
}

func TestRegistry_RejectsInvalid(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	if err := r.RegisterAs("", &namedProvider{name: "x"}); err == nil {
		t.Error("expected error for empty name")
	}
	if err := r.RegisterAs("x", nil); err == nil {
		t.Error("expected error for nil provider")
	}
}

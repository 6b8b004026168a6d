package cel

import (
	"reflect"
	"strings"
	"testing"

	"github.com/elfnet/accessrl/internal/domain/ratelimit"
)

func TestCompilePredicate_EmptyIsAlwaysFalse(t *testing.T) {
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p, err := CompilePredicate(eval, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// AlwaysFalse holds a func value, which == cannot compare; match type and code pointer.
	want := ratelimit.AlwaysFalse
	if reflect.TypeOf(p) != reflect.TypeOf(want) || reflect.ValueOf(p).Pointer() != reflect.ValueOf(want).Pointer() {
		t.Fatal("expected the AlwaysFalse singleton for an empty expression")
	}
}

func TestCompilePredicate_EvaluatesRequestPath(t *testing.T) {
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p, err := CompilePredicate(eval, `request.path.startsWith("/healthz")`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ok, err := p.Evaluate(ratelimit.RequestContext{Path: "/healthz/live"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected true for a matching path")
	}

	ok, err = p.Evaluate(ratelimit.RequestContext{Path: "/v1/export"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected false for a non-matching path")
	}
}

func TestCompilePredicate_EvaluatesIdentity(t *testing.T) {
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p, err := CompilePredicate(eval, `identity.authenticated && identity.claims["tenant"] == "acme"`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ok, err := p.Evaluate(ratelimit.RequestContext{
		Authenticated: true,
		Claims:        map[string]string{"tenant": "acme"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected true for matching authenticated tenant claim")
	}
}

func TestCompilePredicate_InvalidExpressionFailsCompile(t *testing.T) {
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = CompilePredicate(eval, "request.path.")
	if err == nil {
		t.Fatal("expected a compile error for malformed CEL")
	}
	if !strings.Contains(err.Error(), "compilation failed") {
		t.Fatalf("expected compilation failure message, got %v", err)
	}
}

func TestEvaluator_ValidateExpressionRejectsOversizedInput(t *testing.T) {
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	huge := strings.Repeat("a", maxExpressionLength+1)
	if err := eval.ValidateExpression(huge); err == nil {
		t.Fatal("expected an error for an oversized expression")
	}
}

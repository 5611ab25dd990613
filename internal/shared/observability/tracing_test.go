package observability

import (
	"context"
	"testing"
)

func TestInitTracing_DisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), "  ", "scribe")
	if err != nil {
		t.Fatalf("expected no error without endpoint, got %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("expected no-op shutdown, got %v", err)
	}

	_, span := Tracer.Start(context.Background(), "noop")
	span.End()
}

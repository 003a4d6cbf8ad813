package context

import (
	"context"
	"testing"
)

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithClientID(ctx, "client-1")
	ctx = WithJob(ctx, "enforce")

	if got := RequestIDFromContext(ctx); got != "req-1" {
		t.Fatalf("expected request id req-1, got %q", got)
	}
	if got := ClientIDFromContext(ctx); got != "client-1" {
		t.Fatalf("expected client id client-1, got %q", got)
	}
	if got := JobFromContext(ctx); got != "enforce" {
		t.Fatalf("expected job enforce, got %q", got)
	}
}

func TestEmptyValuesAreNotStored(t *testing.T) {
	ctx := WithClientID(context.Background(), "")
	if got := ClientIDFromContext(ctx); got != "" {
		t.Fatalf("expected empty client id, got %q", got)
	}
}

package tracing

import (
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsSecrets(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.route", "/webhooks/paddle"),
		attribute.String("paddle-signature", "ts=1;h1=abc"),
		attribute.String("webhook_secret", "shh"),
	)
	if len(attrs) != 1 {
		t.Fatalf("expected 1 attribute, got %d", len(attrs))
	}
	if attrs[0].Key != "http.route" {
		t.Fatalf("unexpected attribute kept: %s", attrs[0].Key)
	}
}

func TestSafeErrorHidesMessage(t *testing.T) {
	err := SafeError(errors.New("client 42 has card 4242"))
	if err.Error() != "*errors.errorString" {
		t.Fatalf("unexpected safe error: %q", err.Error())
	}
	if SafeError(nil) != nil {
		t.Fatalf("expected nil")
	}
}

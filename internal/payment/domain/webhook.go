package domain

import (
	"context"
	"net/http"
)

// Verifier authenticates a raw webhook delivery.
type Verifier interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
}

type AckStatus string

const (
	AckReceived AckStatus = "received"
	AckIgnored  AckStatus = "ignored"
	AckApplied  AckStatus = "applied"
)

// Ack is what the gateway sees for every authenticated delivery.
// Reason explains drops and is only logged and returned for operators.
type Ack struct {
	Status    AckStatus `json:"status"`
	EventType string    `json:"event_type,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Duplicate bool      `json:"duplicate,omitempty"`
}

type WebhookService interface {
	IngestWebhook(ctx context.Context, payload []byte, headers http.Header) (Ack, error)
}

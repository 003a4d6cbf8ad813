package domain

import (
	"context"
	"errors"
)

var (
	ErrGatewayUnavailable  = errors.New("gateway_unavailable")
	ErrMissingSubscription = errors.New("missing_gateway_subscription")
	ErrMissingUsagePrice   = errors.New("missing_usage_price")
)

// ChargeRequest asks the gateway to collect a finalized usage invoice
// against the client's subscription. Amount is in minor units.
type ChargeRequest struct {
	ClientID       string
	InvoiceID      string
	SubscriptionID string
	PriceID        string
	Amount         int64
	Currency       string
	Description    string
}

type ChargeResult struct {
	// Reference is the gateway's identifier for the accepted charge.
	Reference string
}

// Gateway performs the one-time usage charge. Implementations must honor
// ctx deadlines and must not retry on their own.
type Gateway interface {
	ChargeUsage(ctx context.Context, req ChargeRequest) (ChargeResult, error)
}

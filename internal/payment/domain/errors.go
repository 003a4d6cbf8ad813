package domain

import "errors"

var (
	ErrInvalidClient   = errors.New("invalid_client")
	ErrInvalidEventID  = errors.New("invalid_event_id")
	ErrInvalidAmount   = errors.New("invalid_amount")
	ErrInvalidCurrency = errors.New("invalid_currency")
	ErrInvalidPaidAt   = errors.New("invalid_paid_at")
	ErrClientNotFound  = errors.New("client_not_found")

	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
)

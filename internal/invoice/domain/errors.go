package domain

import "errors"

var (
	ErrInvalidClient    = errors.New("invalid_client")
	ErrInvalidEventID   = errors.New("invalid_event_id")
	ErrInvalidWindow    = errors.New("invalid_window")
	ErrInvalidPrice     = errors.New("invalid_price_per_minute")
	ErrInvalidGraceDays = errors.New("invalid_grace_days")
	ErrClientNotFound   = errors.New("client_not_found")
)

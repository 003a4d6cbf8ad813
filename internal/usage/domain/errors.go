package domain

import "errors"

var (
	ErrInvalidClient   = errors.New("invalid_client")
	ErrInvalidCallID   = errors.New("invalid_call_id")
	ErrInvalidDuration = errors.New("invalid_duration")
)

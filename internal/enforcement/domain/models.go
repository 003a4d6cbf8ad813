package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidClient  = errors.New("invalid_client")
	ErrClientNotFound = errors.New("client_not_found")
)

type Action string

const (
	ActionPaused  Action = "paused"
	ActionSkipped Action = "skipped"
)

// Skip reasons.
const (
	ReasonNoDueInvoice  = "no_due_invoice"
	ReasonNotYetDue     = "not_yet_due"
	ReasonAlreadyPaused = "already_paused"
)

// Outcome is the result of evaluating one client.
type Outcome struct {
	ClientID string     `json:"client_id"`
	Action   Action     `json:"action"`
	Reason   string     `json:"reason,omitempty"`
	DueAt    *time.Time `json:"due_at,omitempty"`
}

// Summary aggregates one sweep.
type Summary struct {
	Checked int `json:"checked"`
	Paused  int `json:"paused"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Service engages the killswitch for clients whose usage grace period has
// expired. It never resumes a client.
type Service interface {
	Enforce(ctx context.Context, clientID string) (Outcome, error)
	Sweep(ctx context.Context) (Summary, error)
}

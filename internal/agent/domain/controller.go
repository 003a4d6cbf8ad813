package domain

import "context"

type Action string

const (
	ActionResume Action = "resume"
	ActionPause  Action = "pause"
)

// Controller is the voice platform side of the killswitch. Calls must be
// idempotent; the billing state is already committed when they run.
type Controller interface {
	ResumeAgent(ctx context.Context, clientID string) error
	PauseAgent(ctx context.Context, clientID string, reason string) error
}

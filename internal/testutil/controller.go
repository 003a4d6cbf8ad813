package testutil

import (
	"context"
	"sync"
)

// RecordingController captures agent controller calls as "action:client".
type RecordingController struct {
	mu    sync.Mutex
	calls []string
	Err   error
}

func (c *RecordingController) ResumeAgent(_ context.Context, clientID string) error {
	c.record("resume:" + clientID)
	return c.Err
}

func (c *RecordingController) PauseAgent(_ context.Context, clientID string, _ string) error {
	c.record("pause:" + clientID)
	return c.Err
}

func (c *RecordingController) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *RecordingController) record(call string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
}

package domain

import (
	"context"

	"gorm.io/gorm"
)

type Service interface {
	// Resume flips a paused client to active inside db's transaction.
	Resume(ctx context.Context, db *gorm.DB, clientID string) (bool, error)
	// Pause engages the killswitch when the usage due date has passed.
	Pause(ctx context.Context, db *gorm.DB, clientID string, reason string) (bool, error)
	// Notify tells the controller about a committed transition. Failures are
	// logged and counted, never returned.
	Notify(ctx context.Context, action Action, clientID string, reason string)
}

package domain

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type Service interface {
	FinalizeUsageInvoice(ctx context.Context, req FinalizeRequest) (FinalizeResult, error)
}

// WindowEventID is the idempotency key of a scheduled window ending at to.
func WindowEventID(clientID string, to time.Time) string {
	return fmt.Sprintf("usage:%s:%d", strings.TrimSpace(clientID), to.UTC().Unix())
}

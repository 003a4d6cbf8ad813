package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	// Insert reports false when the external event id is already stored.
	Insert(ctx context.Context, db *gorm.DB, record *PaymentRecord) (bool, error)
	FindByExternalEventID(ctx context.Context, db *gorm.DB, eventID string) (*PaymentRecord, error)
}

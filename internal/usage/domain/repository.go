package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Repository interface {
	// Upsert inserts or overwrites the entry for its call id. The successful
	// outcome flag is OR-ed with the stored value and created_at is kept.
	Upsert(ctx context.Context, db *gorm.DB, entry *Entry) error
	FindByExternalCallID(ctx context.Context, db *gorm.DB, callID string) (*Entry, error)
	// SumExactMinutes sums exact minutes for entries created in [from, to).
	SumExactMinutes(ctx context.Context, db *gorm.DB, clientID string, from, to time.Time) (decimal.Decimal, error)
}

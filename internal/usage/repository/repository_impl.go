package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/voicemeter/internal/usage/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, entry *domain.Entry) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO usage_entries (
			id, client_id, external_call_id, assistant_id, duration_seconds,
			duration_minutes_exact, minutes, start_time, end_time,
			successful_outcome, source, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (external_call_id) DO UPDATE SET
			client_id = excluded.client_id,
			assistant_id = excluded.assistant_id,
			duration_seconds = excluded.duration_seconds,
			duration_minutes_exact = excluded.duration_minutes_exact,
			minutes = excluded.minutes,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			successful_outcome = (usage_entries.successful_outcome OR excluded.successful_outcome),
			source = excluded.source,
			updated_at = excluded.updated_at`,
		entry.ID,
		entry.ClientID,
		entry.ExternalCallID,
		entry.AssistantID,
		entry.DurationSeconds,
		entry.DurationMinutesExact,
		entry.Minutes,
		entry.StartTime,
		entry.EndTime,
		entry.SuccessfulOutcome,
		entry.Source,
		entry.CreatedAt,
		entry.UpdatedAt,
	).Error
}

func (r *repo) FindByExternalCallID(ctx context.Context, db *gorm.DB, callID string) (*domain.Entry, error) {
	var entry domain.Entry
	err := db.WithContext(ctx).Raw(
		`SELECT id, client_id, external_call_id, assistant_id, duration_seconds,
			duration_minutes_exact, minutes, start_time, end_time,
			successful_outcome, source, created_at, updated_at
		 FROM usage_entries
		 WHERE external_call_id = ?
		 LIMIT 1`,
		callID,
	).Scan(&entry).Error
	if err != nil {
		return nil, err
	}
	if entry.ID == 0 {
		return nil, nil
	}
	return &entry, nil
}

func (r *repo) SumExactMinutes(ctx context.Context, db *gorm.DB, clientID string, from, to time.Time) (decimal.Decimal, error) {
	var row struct {
		Total decimal.NullDecimal
	}
	err := db.WithContext(ctx).Raw(
		`SELECT SUM(duration_minutes_exact) AS total
		 FROM usage_entries
		 WHERE client_id = ? AND created_at >= ? AND created_at < ?`,
		clientID,
		from,
		to,
	).Scan(&row).Error
	if err != nil {
		return decimal.Zero, err
	}
	if !row.Total.Valid {
		return decimal.Zero, nil
	}
	return row.Total.Decimal.Round(4), nil
}

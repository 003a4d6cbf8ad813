package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/voicemeter/internal/clock"
	obsmetrics "github.com/smallbiznis/voicemeter/internal/observability/metrics"
	usagedomain "github.com/smallbiznis/voicemeter/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       usagedomain.Repository
	ObsMetrics *obsmetrics.Billing `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       usagedomain.Repository
	obsMetrics *obsmetrics.Billing
}

func NewService(p Params) usagedomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("usage.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		obsMetrics: p.ObsMetrics,
	}
}

// RecordUsage upserts the ledger entry for a call. Redelivered calls
// overwrite the stored durations but never clear a successful outcome.
func (s *Service) RecordUsage(ctx context.Context, req usagedomain.RecordRequest) (*usagedomain.Entry, error) {
	clientID := strings.TrimSpace(req.ClientID)
	if clientID == "" {
		return nil, usagedomain.ErrInvalidClient
	}
	callID := strings.TrimSpace(req.ExternalCallID)
	if callID == "" {
		return nil, usagedomain.ErrInvalidCallID
	}

	seconds, err := durationSeconds(req)
	if err != nil {
		return nil, err
	}
	exact := usagedomain.ExactMinutes(seconds)

	source := strings.TrimSpace(req.Source)
	if source == "" {
		source = usagedomain.SourceCalls
	}

	now := s.clock.Now()
	entry := &usagedomain.Entry{
		ID:                   s.genID.Generate(),
		ClientID:             clientID,
		ExternalCallID:       callID,
		AssistantID:          optionalString(req.AssistantID),
		DurationSeconds:      seconds,
		DurationMinutesExact: exact,
		Minutes:              usagedomain.RoundedMinutes(exact),
		StartTime:            req.StartTime,
		EndTime:              req.EndTime,
		SuccessfulOutcome:    req.SuccessfulOutcome,
		Source:               source,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	if err := s.repo.Upsert(ctx, s.db, entry); err != nil {
		s.obsMetrics.RecordUsageCall("error")
		return nil, fmt.Errorf("upsert usage entry: %w", err)
	}

	stored, err := s.repo.FindByExternalCallID(ctx, s.db, callID)
	if err != nil {
		return nil, fmt.Errorf("load usage entry: %w", err)
	}
	if stored == nil {
		stored = entry
	}

	s.obsMetrics.RecordUsageCall("recorded")
	s.log.Debug("usage recorded",
		zap.String("client_id", clientID),
		zap.String("call_id", callID),
		zap.Int64("duration_seconds", seconds),
		zap.String("minutes_exact", exact.String()),
		zap.Bool("successful_outcome", stored.SuccessfulOutcome),
	)
	return stored, nil
}

// durationSeconds prefers an explicit seconds value, then milliseconds
// floored to seconds, then the start/end span.
func durationSeconds(req usagedomain.RecordRequest) (int64, error) {
	switch {
	case req.DurationSeconds < 0 || req.DurationMillis < 0:
		return 0, usagedomain.ErrInvalidDuration
	case req.DurationSeconds > 0:
		return req.DurationSeconds, nil
	case req.DurationMillis > 0:
		return req.DurationMillis / 1000, nil
	case req.StartTime != nil && req.EndTime != nil && req.EndTime.After(*req.StartTime):
		return int64(req.EndTime.Sub(*req.StartTime).Seconds()), nil
	default:
		return 0, nil
	}
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

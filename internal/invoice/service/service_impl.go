package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	clientdomain "github.com/smallbiznis/voicemeter/internal/client/domain"
	"github.com/smallbiznis/voicemeter/internal/clock"
	"github.com/smallbiznis/voicemeter/internal/events"
	invoicedomain "github.com/smallbiznis/voicemeter/internal/invoice/domain"
	obsmetrics "github.com/smallbiznis/voicemeter/internal/observability/metrics"
	"github.com/smallbiznis/voicemeter/internal/observability/tracing"
	usagedomain "github.com/smallbiznis/voicemeter/internal/usage/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultCurrency = "USD"

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       invoicedomain.Repository
	ClientRepo clientdomain.Repository
	UsageRepo  usagedomain.Repository
	Outbox     *events.Outbox
	ObsMetrics *obsmetrics.Billing `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       invoicedomain.Repository
	clientRepo clientdomain.Repository
	usageRepo  usagedomain.Repository
	outbox     *events.Outbox
	obsMetrics *obsmetrics.Billing
}

func NewService(p Params) invoicedomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("invoice.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		clientRepo: p.ClientRepo,
		usageRepo:  p.UsageRepo,
		outbox:     p.Outbox,
		obsMetrics: p.ObsMetrics,
	}
}

// FinalizeUsageInvoice bills the exact minutes recorded in [From, To) at the
// given price. Empty windows and repeated event ids change nothing. The
// client is never paused here.
func (s *Service) FinalizeUsageInvoice(ctx context.Context, req invoicedomain.FinalizeRequest) (result invoicedomain.FinalizeResult, err error) {
	req, err = normalizeRequest(req)
	if err != nil {
		return invoicedomain.FinalizeResult{}, err
	}

	ctx, span := tracing.StartSpan(ctx, "invoice.finalize_usage",
		attribute.String("client_id", req.ClientID),
		attribute.String("event_id", req.EventID),
	)
	defer func() {
		span.SetAttributes(attribute.String("outcome", string(result.Outcome)))
		tracing.EndSpan(span, err)
	}()

	now := s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		client, err := s.clientRepo.FindByIDForUpdate(ctx, tx, req.ClientID)
		if err != nil {
			return fmt.Errorf("load client: %w", err)
		}
		if client == nil {
			return invoicedomain.ErrClientNotFound
		}

		minutes, err := s.usageRepo.SumExactMinutes(ctx, tx, req.ClientID, req.From, req.To)
		if err != nil {
			return fmt.Errorf("sum usage: %w", err)
		}
		amount := minutes.Mul(req.PricePerMinute).Round(2)
		result.Minutes = minutes
		result.Amount = amount
		result.DueAt = client.UsageInvoiceDueAt

		if !minutes.IsPositive() || !amount.IsPositive() {
			result.Outcome = invoicedomain.OutcomeZeroUsage
			return nil
		}

		dueAt := now.AddDate(0, 0, req.GraceDays)
		invoice := &invoicedomain.UsageInvoice{
			ID:             s.genID.Generate(),
			EventID:        req.EventID,
			ClientID:       req.ClientID,
			WindowFrom:     req.From,
			WindowTo:       req.To,
			Minutes:        minutes,
			PricePerMinute: req.PricePerMinute,
			Amount:         amount.Shift(2).IntPart(),
			Currency:       req.Currency,
			Status:         invoicedomain.StatusOpen,
			DueAt:          dueAt,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		inserted, err := s.repo.Insert(ctx, tx, invoice)
		if err != nil {
			return fmt.Errorf("insert usage invoice: %w", err)
		}
		if !inserted {
			result.Outcome = invoicedomain.OutcomeDuplicate
			return nil
		}

		opened, err := s.clientRepo.OpenUsageDue(ctx, tx, req.ClientID, dueAt, now)
		if err != nil {
			return fmt.Errorf("open usage due: %w", err)
		}
		if opened {
			result.DueAt = &dueAt
		}
		if _, err := s.clientRepo.AdvanceLastUsageBilled(ctx, tx, req.ClientID, req.To, now); err != nil {
			return fmt.Errorf("advance last usage billed: %w", err)
		}

		if err := s.outbox.PublishTx(ctx, tx, events.Event{
			ClientID:  req.ClientID,
			Type:      events.EventUsageInvoiceFinalized,
			DedupeKey: req.EventID,
			Payload: map[string]any{
				"invoice_id":  invoice.ID.String(),
				"event_id":    req.EventID,
				"minutes":     minutes.String(),
				"amount":      amount.StringFixed(2),
				"currency":    req.Currency,
				"window_from": req.From.Format(time.RFC3339),
				"window_to":   req.To.Format(time.RFC3339),
				"due_at":      result.DueAt.Format(time.RFC3339),
			},
		}); err != nil {
			return fmt.Errorf("publish finalized event: %w", err)
		}

		result.Outcome = invoicedomain.OutcomeFinalized
		result.Invoice = invoice
		return nil
	})
	if err != nil {
		s.obsMetrics.RecordInvoice("error")
		return invoicedomain.FinalizeResult{}, err
	}

	s.obsMetrics.RecordInvoice(string(result.Outcome))
	fields := []zap.Field{
		zap.String("client_id", req.ClientID),
		zap.String("event_id", req.EventID),
		zap.String("outcome", string(result.Outcome)),
		zap.String("minutes", result.Minutes.String()),
		zap.String("amount", result.Amount.StringFixed(2)),
	}
	if result.Outcome == invoicedomain.OutcomeFinalized {
		s.log.Info("usage invoice finalized", append(fields, zap.Timep("due_at", result.DueAt))...)
	} else {
		s.log.Debug("usage invoice skipped", fields...)
	}
	return result, nil
}

func normalizeRequest(req invoicedomain.FinalizeRequest) (invoicedomain.FinalizeRequest, error) {
	req.ClientID = strings.TrimSpace(req.ClientID)
	if req.ClientID == "" {
		return req, invoicedomain.ErrInvalidClient
	}
	req.EventID = strings.TrimSpace(req.EventID)
	if req.EventID == "" {
		return req, invoicedomain.ErrInvalidEventID
	}
	if req.From.IsZero() || req.To.IsZero() || req.To.Before(req.From) {
		return req, invoicedomain.ErrInvalidWindow
	}
	if req.PricePerMinute.IsNegative() {
		return req, invoicedomain.ErrInvalidPrice
	}
	if req.GraceDays < 0 {
		return req, invoicedomain.ErrInvalidGraceDays
	}
	req.From = req.From.UTC()
	req.To = req.To.UTC()
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	if req.Currency == "" {
		req.Currency = defaultCurrency
	}
	req.PricePerMinute = req.PricePerMinute.Round(4)
	return req, nil
}

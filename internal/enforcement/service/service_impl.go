package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	agentdomain "github.com/smallbiznis/voicemeter/internal/agent/domain"
	clientdomain "github.com/smallbiznis/voicemeter/internal/client/domain"
	"github.com/smallbiznis/voicemeter/internal/clock"
	"github.com/smallbiznis/voicemeter/internal/config"
	enforcementdomain "github.com/smallbiznis/voicemeter/internal/enforcement/domain"
	"github.com/smallbiznis/voicemeter/internal/events"
	obscontext "github.com/smallbiznis/voicemeter/internal/observability/context"
	"github.com/smallbiznis/voicemeter/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/voicemeter/internal/observability/metrics"
	"github.com/smallbiznis/voicemeter/internal/observability/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultBatchSize = 100

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	ClientRepo clientdomain.Repository
	AgentSvc   agentdomain.Service
	Outbox     *events.Outbox
	Billing    *config.BillingConfigHolder `optional:"true"`
	ObsMetrics *obsmetrics.Billing         `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	clientRepo clientdomain.Repository
	agentSvc   agentdomain.Service
	outbox     *events.Outbox
	billing    *config.BillingConfigHolder
	obsMetrics *obsmetrics.Billing
}

func NewService(p Params) enforcementdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("enforcement.service"),
		clock:      p.Clock,
		clientRepo: p.ClientRepo,
		agentSvc:   p.AgentSvc,
		outbox:     p.Outbox,
		billing:    p.Billing,
		obsMetrics: p.ObsMetrics,
	}
}

// Enforce pauses the client's agent when its usage due date has passed.
func (s *Service) Enforce(ctx context.Context, clientID string) (outcome enforcementdomain.Outcome, err error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return outcome, enforcementdomain.ErrInvalidClient
	}
	ctx = obscontext.WithClientID(ctx, clientID)
	outcome.ClientID = clientID

	ctx, span := tracing.StartSpan(ctx, "enforcement.enforce", attribute.String("client_id", clientID))
	defer func() {
		span.SetAttributes(
			attribute.String("action", string(outcome.Action)),
			attribute.String("reason", outcome.Reason),
		)
		tracing.EndSpan(span, err)
	}()

	now := s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		client, err := s.clientRepo.FindByIDForUpdate(ctx, tx, clientID)
		if err != nil {
			return fmt.Errorf("load client: %w", err)
		}
		if client == nil {
			return enforcementdomain.ErrClientNotFound
		}
		outcome.DueAt = client.UsageInvoiceDueAt

		switch {
		case client.IsPaused():
			outcome.Action, outcome.Reason = enforcementdomain.ActionSkipped, enforcementdomain.ReasonAlreadyPaused
			return nil
		case !client.HasUsageDebt():
			outcome.Action, outcome.Reason = enforcementdomain.ActionSkipped, enforcementdomain.ReasonNoDueInvoice
			return nil
		case client.UsageInvoiceDueAt.After(now):
			outcome.Action, outcome.Reason = enforcementdomain.ActionSkipped, enforcementdomain.ReasonNotYetDue
			return nil
		}

		paused, err := s.agentSvc.Pause(ctx, tx, clientID, clientdomain.PausedReasonUsageUnpaid)
		if err != nil {
			return fmt.Errorf("pause agent: %w", err)
		}
		if !paused {
			outcome.Action, outcome.Reason = enforcementdomain.ActionSkipped, enforcementdomain.ReasonAlreadyPaused
			return nil
		}

		outcome.Action, outcome.Reason = enforcementdomain.ActionPaused, clientdomain.PausedReasonUsageUnpaid
		return s.outbox.PublishTx(ctx, tx, events.Event{
			ClientID:  clientID,
			Type:      events.EventAgentPaused,
			DedupeKey: fmt.Sprintf("pause:%d", client.UsageInvoiceDueAt.UTC().Unix()),
			Payload: map[string]any{
				"reason": clientdomain.PausedReasonUsageUnpaid,
				"due_at": client.UsageInvoiceDueAt.UTC().Format(time.RFC3339),
			},
		})
	})
	if err != nil {
		s.obsMetrics.RecordEnforcement("error", "")
		return enforcementdomain.Outcome{ClientID: clientID}, err
	}

	s.obsMetrics.RecordEnforcement(string(outcome.Action), outcome.Reason)
	if outcome.Action == enforcementdomain.ActionPaused {
		s.agentSvc.Notify(ctx, agentdomain.ActionPause, clientID, clientdomain.PausedReasonUsageUnpaid)
		logger.WithContext(ctx, s.log).Warn("agent paused for unpaid usage", zap.Timep("due_at", outcome.DueAt))
	}
	return outcome, nil
}

// Sweep evaluates every client carrying a usage due date. One failing
// client does not stop the sweep.
func (s *Service) Sweep(ctx context.Context) (enforcementdomain.Summary, error) {
	var (
		summary enforcementdomain.Summary
		errs    []error
		afterID string
		limit   = s.batchSize()
	)
	for {
		ids, err := s.clientRepo.ListWithUsageDue(ctx, s.db, afterID, limit)
		if err != nil {
			errs = append(errs, fmt.Errorf("list clients with usage due: %w", err))
			break
		}
		if len(ids) == 0 {
			break
		}

		for _, id := range ids {
			afterID = id
			summary.Checked++

			outcome, err := s.Enforce(ctx, id)
			if err != nil {
				summary.Failed++
				errs = append(errs, fmt.Errorf("client %s: %w", id, err))
				continue
			}
			if outcome.Action == enforcementdomain.ActionPaused {
				summary.Paused++
			} else {
				summary.Skipped++
			}
		}

		if len(ids) < limit {
			break
		}
	}

	if summary.Paused > 0 || summary.Failed > 0 {
		s.log.Info("enforcement sweep finished",
			zap.Int("checked", summary.Checked),
			zap.Int("paused", summary.Paused),
			zap.Int("failed", summary.Failed),
		)
	}
	return summary, errors.Join(errs...)
}

func (s *Service) batchSize() int {
	if s.billing != nil {
		if size := s.billing.Policy().BatchSize; size > 0 {
			return size
		}
	}
	return defaultBatchSize
}

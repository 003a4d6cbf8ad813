package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	agentdomain "github.com/smallbiznis/voicemeter/internal/agent/domain"
	clientdomain "github.com/smallbiznis/voicemeter/internal/client/domain"
	"github.com/smallbiznis/voicemeter/internal/clock"
	"github.com/smallbiznis/voicemeter/internal/events"
	invoicedomain "github.com/smallbiznis/voicemeter/internal/invoice/domain"
	obsmetrics "github.com/smallbiznis/voicemeter/internal/observability/metrics"
	"github.com/smallbiznis/voicemeter/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/voicemeter/internal/payment/domain"
	plandomain "github.com/smallbiznis/voicemeter/internal/plan/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        paymentdomain.Repository
	ClientRepo  clientdomain.Repository
	InvoiceRepo invoicedomain.Repository
	AgentSvc    agentdomain.Service
	Outbox      *events.Outbox
	ObsMetrics  *obsmetrics.Billing `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        paymentdomain.Repository
	clientRepo  clientdomain.Repository
	invoiceRepo invoicedomain.Repository
	agentSvc    agentdomain.Service
	outbox      *events.Outbox
	obsMetrics  *obsmetrics.Billing
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("payment.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		clientRepo:  p.ClientRepo,
		invoiceRepo: p.InvoiceRepo,
		agentSvc:    p.AgentSvc,
		outbox:      p.Outbox,
		obsMetrics:  p.ObsMetrics,
	}
}

// ProcessPayment applies a gateway payment exactly once per external event
// id. The payment row is inserted first; a conflicting insert means the
// event was already applied and nothing else happens.
func (s *Service) ProcessPayment(ctx context.Context, req paymentdomain.ProcessRequest) (result paymentdomain.Result, err error) {
	req, err = normalizeRequest(req)
	if err != nil {
		s.obsMetrics.RecordPayment(string(req.Kind), "invalid")
		return paymentdomain.Result{}, err
	}

	ctx, span := tracing.StartSpan(ctx, "payment.process",
		attribute.String("client_id", req.ClientID),
		attribute.String("event_id", req.ExternalEventID),
		attribute.String("payment_kind", string(req.Kind)),
	)
	defer func() {
		span.SetAttributes(
			attribute.Bool("duplicate", result.Duplicate),
			attribute.Bool("resumed", result.Resumed),
		)
		tracing.EndSpan(span, err)
	}()

	now := s.clock.Now()
	record := paymentdomain.PaymentRecord{
		ID:               s.genID.Generate(),
		ExternalEventID:  req.ExternalEventID,
		ClientID:         req.ClientID,
		Amount:           storedAmount(req),
		Currency:         req.Currency,
		Plan:             string(req.Plan),
		Kind:             string(req.Kind),
		PaidAt:           req.PaidAt,
		GatewayInvoiceID: optionalString(req.GatewayInvoiceID),
		GatewayOrderID:   optionalString(req.GatewayOrderID),
		Metadata:         recordMetadata(req),
		CreatedAt:        now,
	}
	result.Kind = req.Kind

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted, err := s.repo.Insert(ctx, tx, &record)
		if err != nil {
			return fmt.Errorf("insert payment: %w", err)
		}
		if !inserted {
			result.Duplicate = true
			existing, err := s.repo.FindByExternalEventID(ctx, tx, req.ExternalEventID)
			if err != nil {
				return fmt.Errorf("load recorded payment: %w", err)
			}
			if existing != nil {
				result.PaymentID = existing.ID
			}
			return nil
		}
		result.PaymentID = record.ID

		client, err := s.clientRepo.FindByIDForUpdate(ctx, tx, req.ClientID)
		if err != nil {
			return fmt.Errorf("load client: %w", err)
		}
		if client == nil {
			return paymentdomain.ErrClientNotFound
		}

		if req.Kind == plandomain.KindUsage {
			if err := s.applyUsagePayment(ctx, tx, req, now, &result); err != nil {
				return err
			}
		} else {
			if err := s.clientRepo.ApplyPlan(ctx, tx, req.ClientID, clientdomain.PlanUpdate{
				PlanType:        string(req.Plan),
				Rank:            req.Rank,
				MinuteAllowance: req.MinuteAllowance,
				PricePerMinute:  req.PricePerMinute,
			}, now); err != nil {
				return fmt.Errorf("apply plan: %w", err)
			}
		}

		if client.IsPaused() {
			resumed, err := s.agentSvc.Resume(ctx, tx, req.ClientID)
			if err != nil {
				return fmt.Errorf("resume agent: %w", err)
			}
			result.Resumed = resumed
			if resumed {
				if err := s.outbox.PublishTx(ctx, tx, events.Event{
					ClientID:  req.ClientID,
					Type:      events.EventAgentResumed,
					DedupeKey: "resume:" + req.ExternalEventID,
					Payload: map[string]any{
						"payment_id":      record.ID.String(),
						"previous_reason": stringValue(client.PausedReason),
					},
				}); err != nil {
					return fmt.Errorf("publish resumed event: %w", err)
				}
			}
		}

		if err := s.outbox.PublishTx(ctx, tx, events.Event{
			ClientID:  req.ClientID,
			Type:      events.EventPaymentApplied,
			DedupeKey: req.ExternalEventID,
			Payload: map[string]any{
				"payment_id": record.ID.String(),
				"kind":       string(req.Kind),
				"plan":       string(req.Plan),
				"amount":     record.Amount,
				"currency":   record.Currency,
				"paid_at":    req.PaidAt.Format(time.RFC3339),
			},
		}); err != nil {
			return fmt.Errorf("publish payment event: %w", err)
		}
		return nil
	})
	if err != nil {
		s.obsMetrics.RecordPayment(string(req.Kind), "error")
		s.log.Error("payment processing failed",
			zap.String("client_id", req.ClientID),
			zap.String("event_id", req.ExternalEventID),
			zap.String("kind", string(req.Kind)),
			zap.Error(err),
		)
		return paymentdomain.Result{}, err
	}

	if result.Duplicate {
		s.obsMetrics.RecordPayment(string(req.Kind), "duplicate")
		s.log.Info("duplicate payment event ignored",
			zap.String("client_id", req.ClientID),
			zap.String("event_id", req.ExternalEventID),
		)
		return result, nil
	}

	if result.Resumed {
		s.agentSvc.Notify(ctx, agentdomain.ActionResume, req.ClientID, "")
	}

	s.obsMetrics.RecordPayment(string(req.Kind), "applied")
	s.log.Info("payment applied",
		zap.String("client_id", req.ClientID),
		zap.String("event_id", req.ExternalEventID),
		zap.String("kind", string(req.Kind)),
		zap.String("plan", string(req.Plan)),
		zap.Int64("amount", record.Amount),
		zap.Bool("usage_cleared", result.UsageCleared),
		zap.Int64("invoices_settled", result.InvoicesSettled),
		zap.Bool("resumed", result.Resumed),
	)
	return result, nil
}

// applyUsagePayment settles usage debt. Plan fields are left alone.
func (s *Service) applyUsagePayment(ctx context.Context, tx *gorm.DB, req paymentdomain.ProcessRequest, now time.Time, result *paymentdomain.Result) error {
	cleared, err := s.clientRepo.ClearUsageDue(ctx, tx, req.ClientID, now)
	if err != nil {
		return fmt.Errorf("clear usage due: %w", err)
	}
	result.UsageCleared = cleared

	if _, err := s.clientRepo.AdvanceLastUsageBilled(ctx, tx, req.ClientID, req.PaidAt, now); err != nil {
		return fmt.Errorf("advance last usage billed: %w", err)
	}

	settled, err := s.invoiceRepo.MarkOpenPaid(ctx, tx, req.ClientID, now)
	if err != nil {
		return fmt.Errorf("settle usage invoices: %w", err)
	}
	result.InvoicesSettled = settled
	return nil
}

func normalizeRequest(req paymentdomain.ProcessRequest) (paymentdomain.ProcessRequest, error) {
	req.ClientID = strings.TrimSpace(req.ClientID)
	if req.ClientID == "" {
		return req, paymentdomain.ErrInvalidClient
	}
	req.ExternalEventID = strings.TrimSpace(req.ExternalEventID)
	if req.ExternalEventID == "" {
		return req, paymentdomain.ErrInvalidEventID
	}
	if req.Amount.IsNegative() || req.PlanAmount.IsNegative() {
		return req, paymentdomain.ErrInvalidAmount
	}
	if req.PaidAt.IsZero() {
		return req, paymentdomain.ErrInvalidPaidAt
	}
	req.PaidAt = req.PaidAt.UTC()

	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	if req.Currency == "" {
		return req, paymentdomain.ErrInvalidCurrency
	}

	if req.Plan == "" && req.Kind == plandomain.KindUsage {
		req.Plan = plandomain.PlanUsage
	}
	planKind := plandomain.KindSubscription
	if req.Plan == plandomain.PlanUsage {
		planKind = plandomain.KindUsage
	}
	if err := plandomain.ValidateKind(req.Kind, plandomain.PlanConfig{
		Plan:        req.Plan,
		Rank:        req.Rank,
		PaymentKind: planKind,
	}); err != nil {
		return req, err
	}
	if req.Kind.IsPlanChange() && !req.Plan.Valid() {
		return req, plandomain.ErrIllegalCombination
	}
	return req, nil
}

// storedAmount returns minor units. Plan payments record the catalog
// price so discounts and tax do not leak into plan revenue.
func storedAmount(req paymentdomain.ProcessRequest) int64 {
	amount := req.Amount
	if req.Kind.IsPlanChange() && req.PlanAmount.IsPositive() {
		amount = req.PlanAmount
	}
	return amount.Shift(2).Round(0).IntPart()
}

func recordMetadata(req paymentdomain.ProcessRequest) datatypes.JSONMap {
	meta := datatypes.JSONMap{
		"rank":             req.Rank,
		"minute_allowance": req.MinuteAllowance,
		"price_per_minute": req.PricePerMinute.String(),
		"gross_amount":     req.Amount.StringFixed(2),
	}
	if !req.PlanAmount.Equal(decimal.Zero) {
		meta["plan_amount"] = req.PlanAmount.StringFixed(2)
	}
	for key, value := range req.Metadata {
		if strings.TrimSpace(key) == "" {
			continue
		}
		meta[key] = value
	}
	return meta
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func stringValue(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

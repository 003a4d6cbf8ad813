package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	chargedomain "github.com/smallbiznis/voicemeter/internal/charge/domain"
	clientdomain "github.com/smallbiznis/voicemeter/internal/client/domain"
	"github.com/smallbiznis/voicemeter/internal/clock"
	"github.com/smallbiznis/voicemeter/internal/config"
	"github.com/smallbiznis/voicemeter/internal/events"
	invoicedomain "github.com/smallbiznis/voicemeter/internal/invoice/domain"
	"github.com/smallbiznis/voicemeter/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/voicemeter/internal/observability/metrics"
	"github.com/smallbiznis/voicemeter/internal/observability/tracing"
	plandomain "github.com/smallbiznis/voicemeter/internal/plan/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultBatchSize     = 100
	defaultChargeTimeout = 15 * time.Second
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	Gateway     chargedomain.Gateway
	Catalog     plandomain.Catalog
	InvoiceRepo invoicedomain.Repository
	ClientRepo  clientdomain.Repository
	Outbox      *events.Outbox
	Config      config.Config               `optional:"true"`
	Billing     *config.BillingConfigHolder `optional:"true"`
	ObsMetrics  *obsmetrics.Billing         `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	clock         clock.Clock
	gateway       chargedomain.Gateway
	catalog       plandomain.Catalog
	invoiceRepo   invoicedomain.Repository
	clientRepo    clientdomain.Repository
	outbox        *events.Outbox
	billing       *config.BillingConfigHolder
	chargeTimeout time.Duration
	obsMetrics    *obsmetrics.Billing
}

func NewService(p Params) chargedomain.Service {
	timeout := p.Config.Paddle.Timeout
	if timeout <= 0 {
		timeout = defaultChargeTimeout
	}
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("charge.service"),
		clock:         p.Clock,
		gateway:       p.Gateway,
		catalog:       p.Catalog,
		invoiceRepo:   p.InvoiceRepo,
		clientRepo:    p.ClientRepo,
		outbox:        p.Outbox,
		billing:       p.Billing,
		chargeTimeout: timeout,
		obsMetrics:    p.ObsMetrics,
	}
}

// ChargeDue asks the gateway to collect every open, uncharged usage invoice.
// Each invoice is claimed before the gateway call and only marked charged
// after the gateway accepts it. A rejected attempt releases the claim so the
// next pass retries it.
func (s *Service) ChargeDue(ctx context.Context) (summary chargedomain.Summary, err error) {
	ctx, span := tracing.StartSpan(ctx, "charge.due")
	defer func() {
		span.SetAttributes(
			attribute.Int("checked", summary.Checked),
			attribute.Int("charged", summary.Charged),
			attribute.Int("failed", summary.Failed),
		)
		tracing.EndSpan(span, err)
	}()

	usagePrice, ok := s.catalog.UsagePrice()
	if !ok {
		return summary, chargedomain.ErrMissingUsagePrice
	}

	var (
		errs    []error
		afterID snowflake.ID
		limit   = s.batchSize()
	)
	for {
		invoices, err := s.invoiceRepo.ListChargeable(ctx, s.db, afterID, limit)
		if err != nil {
			errs = append(errs, fmt.Errorf("list chargeable invoices: %w", err))
			break
		}
		if len(invoices) == 0 {
			break
		}

		for i := range invoices {
			invoice := invoices[i]
			afterID = invoice.ID
			summary.Checked++

			charged, err := s.chargeInvoice(ctx, invoice, usagePrice.PriceID)
			switch {
			case err != nil:
				summary.Failed++
				errs = append(errs, fmt.Errorf("invoice %s: %w", invoice.ID, err))
			case charged:
				summary.Charged++
			default:
				summary.Skipped++
			}
		}

		if len(invoices) < limit {
			break
		}
	}

	return summary, errors.Join(errs...)
}

func (s *Service) chargeInvoice(ctx context.Context, invoice invoicedomain.UsageInvoice, priceID string) (bool, error) {
	log := logger.WithContext(ctx, s.log).With(
		zap.String("client_id", invoice.ClientID),
		zap.String("invoice_id", invoice.ID.String()),
	)

	client, err := s.clientRepo.FindByID(ctx, s.db, invoice.ClientID)
	if err != nil {
		s.obsMetrics.RecordCharge("error")
		return false, fmt.Errorf("load client: %w", err)
	}
	if client == nil || client.GatewaySubscriptionID == nil || *client.GatewaySubscriptionID == "" {
		s.obsMetrics.RecordCharge("skipped")
		log.Warn("usage charge skipped", zap.Error(chargedomain.ErrMissingSubscription))
		return false, nil
	}

	// Overlapping passes lose the claim and skip the invoice.
	claimed, err := s.invoiceRepo.ClaimCharge(ctx, s.db, invoice.ID, s.clock.Now())
	if err != nil {
		s.obsMetrics.RecordCharge("error")
		return false, fmt.Errorf("claim invoice: %w", err)
	}
	if !claimed {
		s.obsMetrics.RecordCharge("skipped")
		log.Debug("usage charge already claimed")
		return false, nil
	}

	chargeCtx, cancel := context.WithTimeout(ctx, s.chargeTimeout)
	result, err := s.gateway.ChargeUsage(chargeCtx, chargedomain.ChargeRequest{
		ClientID:       invoice.ClientID,
		InvoiceID:      invoice.ID.String(),
		SubscriptionID: *client.GatewaySubscriptionID,
		PriceID:        priceID,
		Amount:         invoice.Amount,
		Currency:       invoice.Currency,
		Description: fmt.Sprintf("Voice usage %s to %s",
			invoice.WindowFrom.UTC().Format(time.DateOnly),
			invoice.WindowTo.UTC().Format(time.DateOnly),
		),
	})
	cancel()
	if err != nil {
		s.obsMetrics.RecordCharge("failed")
		log.Error("usage charge failed", zap.Int64("amount", invoice.Amount), zap.Error(err))
		chargeErr := fmt.Errorf("%w: %v", chargedomain.ErrGatewayUnavailable, err)
		if releaseErr := s.invoiceRepo.ReleaseCharge(context.WithoutCancel(ctx), s.db, invoice.ID, s.clock.Now()); releaseErr != nil {
			log.Error("usage charge claim not released", zap.Error(releaseErr))
			return false, errors.Join(chargeErr, fmt.Errorf("release claim: %w", releaseErr))
		}
		return false, chargeErr
	}

	now := s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		marked, err := s.invoiceRepo.MarkCharged(ctx, tx, invoice.ID, now, result.Reference)
		if err != nil {
			return fmt.Errorf("mark invoice charged: %w", err)
		}
		if !marked {
			return nil
		}
		if err := s.clientRepo.MarkUsageInvoiceSent(ctx, tx, invoice.ClientID, now); err != nil {
			return fmt.Errorf("mark usage invoice sent: %w", err)
		}
		return s.outbox.PublishTx(ctx, tx, events.Event{
			ClientID:  invoice.ClientID,
			Type:      events.EventUsageInvoiceCharged,
			DedupeKey: "charge:" + invoice.EventID,
			Payload: map[string]any{
				"invoice_id":     invoice.ID.String(),
				"amount":         invoice.Amount,
				"currency":       invoice.Currency,
				"transaction_id": result.Reference,
			},
		})
	})
	if err != nil {
		s.obsMetrics.RecordCharge("error")
		// The claim stays held; reconcile by transaction id.
		log.Error("usage charge accepted but not recorded",
			zap.String("transaction_id", result.Reference),
			zap.Error(err),
		)
		return false, err
	}

	s.obsMetrics.RecordCharge("charged")
	log.Info("usage invoice charged",
		zap.Int64("amount", invoice.Amount),
		zap.String("currency", invoice.Currency),
		zap.String("transaction_id", result.Reference),
	)
	return true, nil
}

func (s *Service) batchSize() int {
	if s.billing != nil {
		if size := s.billing.Policy().BatchSize; size > 0 {
			return size
		}
	}
	return defaultBatchSize
}

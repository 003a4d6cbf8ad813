package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	clientdomain "github.com/smallbiznis/voicemeter/internal/client/domain"
	"github.com/smallbiznis/voicemeter/internal/clock"
	"github.com/smallbiznis/voicemeter/internal/config"
	obscontext "github.com/smallbiznis/voicemeter/internal/observability/context"
	"github.com/smallbiznis/voicemeter/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/voicemeter/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/voicemeter/internal/payment/domain"
	plandomain "github.com/smallbiznis/voicemeter/internal/plan/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	provider        = "paddle"
	defaultCurrency = "USD"
)

// Drop reasons reported in the ack.
const (
	ReasonMalformed        = "malformed_payload"
	ReasonMissingClient    = "missing_client_id"
	ReasonUnknownClient    = "unknown_client"
	ReasonUnsupportedEvent = "unsupported_event"
	ReasonUnknownPrice     = "unknown_price"
	ReasonMissingEventID   = "missing_event_id"
	ReasonIllegalPayment   = "illegal_payment"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Verifier   paymentdomain.Verifier
	Catalog    plandomain.Catalog
	PaymentSvc paymentdomain.Service
	ClientRepo clientdomain.Repository
	Billing    *config.BillingConfigHolder `optional:"true"`
	ObsMetrics *obsmetrics.Billing         `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	verifier   paymentdomain.Verifier
	catalog    plandomain.Catalog
	paymentSvc paymentdomain.Service
	clientRepo clientdomain.Repository
	billing    *config.BillingConfigHolder
	obsMetrics *obsmetrics.Billing
}

func NewService(p Params) paymentdomain.WebhookService {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.webhook"),
		clock:      p.Clock,
		verifier:   p.Verifier,
		catalog:    p.Catalog,
		paymentSvc: p.PaymentSvc,
		clientRepo: p.ClientRepo,
		billing:    p.Billing,
		obsMetrics: p.ObsMetrics,
	}
}

// IngestWebhook authenticates and dispatches one gateway delivery. Only a
// bad signature or a storage failure returns an error; everything else is
// acknowledged so the gateway does not retry unusable events.
func (s *Service) IngestWebhook(ctx context.Context, payload []byte, headers http.Header) (paymentdomain.Ack, error) {
	if s.verifier == nil {
		return paymentdomain.Ack{}, paymentdomain.ErrInvalidSignature
	}
	if err := s.verifier.Verify(ctx, payload, headers); err != nil {
		s.obsMetrics.RecordWebhookEvent(provider, "unknown", "invalid_signature")
		logger.WithContext(ctx, s.log).Warn("webhook signature rejected")
		return paymentdomain.Ack{}, paymentdomain.ErrInvalidSignature
	}

	var env envelope
	var data eventData
	if err := json.Unmarshal(payload, &env); err != nil {
		return s.drop(ctx, "", ReasonMalformed, zap.Error(err)), nil
	}
	eventType := strings.TrimSpace(env.EventType)
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return s.drop(ctx, eventType, ReasonMalformed, zap.Error(err)), nil
		}
	}

	switch eventType {
	case EventTransactionCompleted, EventSubscriptionActivated, EventSubscriptionUpdated:
	default:
		return s.drop(ctx, eventType, ReasonUnsupportedEvent), nil
	}

	clientID := data.clientID()
	if clientID == "" {
		return s.drop(ctx, eventType, ReasonMissingClient, zap.String("entity_id", data.ID)), nil
	}
	ctx = obscontext.WithClientID(ctx, clientID)

	client, err := s.clientRepo.FindByID(ctx, s.db, clientID)
	if err != nil {
		return paymentdomain.Ack{}, fmt.Errorf("load client: %w", err)
	}
	if client == nil {
		return s.drop(ctx, eventType, ReasonUnknownClient), nil
	}

	if err := s.syncCustomer(ctx, client, data); err != nil {
		return paymentdomain.Ack{}, err
	}

	switch eventType {
	case EventTransactionCompleted:
		return s.handleTransaction(ctx, client, data)
	default:
		return s.handleSubscription(ctx, eventType, client, data)
	}
}

func (s *Service) handleTransaction(ctx context.Context, client *clientdomain.BillingRecord, data eventData) (paymentdomain.Ack, error) {
	eventType := EventTransactionCompleted
	eventID := strings.TrimSpace(data.ID)
	if eventID == "" {
		return s.drop(ctx, eventType, ReasonMissingEventID), nil
	}

	priceID := data.priceID()
	cfg, ok := s.catalog.Lookup(priceID)
	if !ok {
		return s.drop(ctx, eventType, ReasonUnknownPrice,
			zap.String("price_id", priceID),
			zap.String("transaction_id", eventID),
		), nil
	}

	paidAt := s.clock.Now()
	if billedAt, err := parseTimestamp(data.BilledAt); err != nil {
		return s.drop(ctx, eventType, ReasonMalformed, zap.Error(err)), nil
	} else if billedAt != nil {
		paidAt = *billedAt
	}

	kind := plandomain.Classify(plandomain.ParsePlanKey(client.PlanType), cfg)
	req := paymentdomain.ProcessRequest{
		ClientID:         client.ID,
		ExternalEventID:  eventID,
		Plan:             cfg.Plan,
		PlanAmount:       cfg.BaseAmount,
		MinuteAllowance:  cfg.MinuteAllowance,
		PricePerMinute:   cfg.PricePerMinute,
		Rank:             cfg.Rank,
		Kind:             kind,
		PaidAt:           paidAt,
		GatewayInvoiceID: data.InvoiceID,
		GatewayOrderID:   data.OrderID,
		Metadata: map[string]any{
			"price_id":      cfg.PriceID,
			"previous_plan": client.PlanType,
		},
	}
	if kind == plandomain.KindUsage {
		req.Amount = data.grandTotal()
		req.Currency = data.currency()
		if req.Currency == "" {
			req.Currency = s.policyCurrency()
		}
	} else {
		// Plan revenue is booked at the catalog price in the base currency,
		// whatever currency the payer was charged in.
		req.Amount = cfg.BaseAmount
		req.Currency = s.policyCurrency()
		req.Metadata["charged_total"] = data.grandTotal().StringFixed(2)
		req.Metadata["charged_currency"] = data.currency()
	}

	result, err := s.paymentSvc.ProcessPayment(ctx, req)
	if err != nil {
		if errors.Is(err, plandomain.ErrIllegalCombination) || errors.Is(err, plandomain.ErrInvalidPaymentKind) {
			return s.drop(ctx, eventType, ReasonIllegalPayment, zap.Error(err)), nil
		}
		s.obsMetrics.RecordWebhookEvent(provider, eventType, "error")
		return paymentdomain.Ack{}, err
	}

	s.obsMetrics.RecordWebhookEvent(provider, eventType, "applied")
	logger.WithContext(ctx, s.log).Info("transaction processed",
		zap.String("transaction_id", eventID),
		zap.String("kind", string(kind)),
		zap.String("plan", string(cfg.Plan)),
		zap.Bool("duplicate", result.Duplicate),
		zap.Bool("resumed", result.Resumed),
	)
	return paymentdomain.Ack{
		Status:    paymentdomain.AckApplied,
		EventType: eventType,
		Duplicate: result.Duplicate,
	}, nil
}

func (s *Service) handleSubscription(ctx context.Context, eventType string, client *clientdomain.BillingRecord, data eventData) (paymentdomain.Ack, error) {
	nextBilledAt, err := parseTimestamp(data.NextBilledAt)
	if err != nil {
		return s.drop(ctx, eventType, ReasonMalformed, zap.Error(err)), nil
	}
	status := strings.TrimSpace(data.Status)
	if status == "" {
		status = "active"
	}

	err = s.clientRepo.SyncSubscription(ctx, s.db, client.ID, clientdomain.SubscriptionSync{
		RenewalStatus:         status,
		NextBillingDate:       nextBilledAt,
		GatewaySubscriptionID: data.subscriptionID(eventType),
		GatewayCustomerID:     data.customerID(),
	}, s.clock.Now())
	if err != nil {
		s.obsMetrics.RecordWebhookEvent(provider, eventType, "error")
		return paymentdomain.Ack{}, fmt.Errorf("sync subscription: %w", err)
	}

	s.obsMetrics.RecordWebhookEvent(provider, eventType, "applied")
	logger.WithContext(ctx, s.log).Info("subscription synced",
		zap.String("subscription_id", data.subscriptionID(eventType)),
		zap.String("renewal_status", status),
	)
	return paymentdomain.Ack{Status: paymentdomain.AckApplied, EventType: eventType}, nil
}

// syncCustomer keeps the payer identity current so charges and receipts
// follow whoever paid last.
func (s *Service) syncCustomer(ctx context.Context, client *clientdomain.BillingRecord, data eventData) error {
	changed, err := s.clientRepo.SyncCustomer(ctx, s.db, client.ID, clientdomain.CustomerSync{
		Email:             data.email(),
		GatewayCustomerID: data.customerID(),
		GatewayAddressID:  data.AddressID,
	}, s.clock.Now())
	if err != nil {
		return fmt.Errorf("sync customer: %w", err)
	}
	if changed {
		logger.WithContext(ctx, s.log).Info("client payer identity updated")
	}
	return nil
}

func (s *Service) drop(ctx context.Context, eventType string, reason string, fields ...zap.Field) paymentdomain.Ack {
	label := eventType
	if label == "" {
		label = "unknown"
	}
	s.obsMetrics.RecordWebhookEvent(provider, label, reason)

	log := logger.WithContext(ctx, s.log).With(zap.String("event_type", eventType), zap.String("reason", reason))
	switch reason {
	case ReasonUnknownPrice, ReasonIllegalPayment, ReasonUnknownClient:
		log.Warn("webhook event dropped", fields...)
	default:
		log.Info("webhook event dropped", fields...)
	}

	status := paymentdomain.AckIgnored
	if reason == ReasonMalformed {
		status = paymentdomain.AckReceived
	}
	return paymentdomain.Ack{Status: status, EventType: eventType, Reason: reason}
}

func (s *Service) policyCurrency() string {
	if s.billing != nil {
		if currency := strings.ToUpper(strings.TrimSpace(s.billing.Policy().Currency)); currency != "" {
			return currency
		}
	}
	return defaultCurrency
}

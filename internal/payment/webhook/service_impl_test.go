package webhook_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	agentservice "github.com/smallbiznis/voicemeter/internal/agent/service"
	clientdomain "github.com/smallbiznis/voicemeter/internal/client/domain"
	clientrepo "github.com/smallbiznis/voicemeter/internal/client/repository"
	"github.com/smallbiznis/voicemeter/internal/clock"
	"github.com/smallbiznis/voicemeter/internal/config"
	"github.com/smallbiznis/voicemeter/internal/events"
	invoicerepo "github.com/smallbiznis/voicemeter/internal/invoice/repository"
	paymentdomain "github.com/smallbiznis/voicemeter/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/voicemeter/internal/payment/repository"
	paymentservice "github.com/smallbiznis/voicemeter/internal/payment/service"
	"github.com/smallbiznis/voicemeter/internal/payment/webhook"
	"github.com/smallbiznis/voicemeter/internal/plan"
	"github.com/smallbiznis/voicemeter/internal/providers/paddle"
	"github.com/smallbiznis/voicemeter/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	secret       = "pdl_ntfset_webhook"
	scalePriceID = "pri_01kcgpmajyawrje6emz4edyet5"
	usagePriceID = "pri_01kd5qrbh5d1hadyfa15sp0m51"
)

var now = time.Date(2026, 8, 3, 9, 30, 0, 0, time.UTC)

type fixture struct {
	svc        paymentdomain.WebhookService
	db         *gorm.DB
	controller *testutil.RecordingController
}

func setup(t *testing.T, mutate func(*clientdomain.BillingRecord)) fixture {
	t.Helper()
	db := testutil.OpenSQLite(t)
	node := testutil.MustNode(t)
	clk := clock.NewFakeClock(now)
	controller := &testutil.RecordingController{}
	clients := clientrepo.Provide()

	testutil.InsertClient(t, db, "client-1", now.AddDate(0, -3, 0), mutate)

	catalog, err := plan.CatalogFromEntries(config.DefaultPlanEntries())
	require.NoError(t, err)

	paymentSvc := paymentservice.NewService(paymentservice.Params{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       clk,
		Repo:        paymentrepo.Provide(),
		ClientRepo:  clients,
		InvoiceRepo: invoicerepo.Provide(),
		AgentSvc: agentservice.NewService(agentservice.Params{
			Log:        zap.NewNop(),
			Clock:      clk,
			ClientRepo: clients,
			Controller: controller,
		}),
		Outbox: events.NewOutbox(db, node),
	})

	svc := webhook.NewService(webhook.Params{
		DB:         db,
		Log:        zap.NewNop(),
		Clock:      clk,
		Verifier:   paddle.NewVerifier(secret, 0),
		Catalog:    catalog,
		PaymentSvc: paymentSvc,
		ClientRepo: clients,
	})
	return fixture{svc: svc, db: db, controller: controller}
}

func signed(payload string) ([]byte, http.Header) {
	body := []byte(payload)
	headers := http.Header{}
	headers.Set(paddle.SignatureHeader, paddle.SignatureHeaderValue(secret, now, body))
	return body, headers
}

func deliver(t *testing.T, f fixture, payload string) paymentdomain.Ack {
	t.Helper()
	body, headers := signed(payload)
	ack, err := f.svc.IngestWebhook(context.Background(), body, headers)
	require.NoError(t, err)
	return ack
}

const scaleTransaction = `{
  "event_id": "evt_01",
  "event_type": "transaction.completed",
  "data": {
    "id": "txn_scale_1",
    "customer_id": "ctm_new",
    "address_id": "add_1",
    "subscription_id": "sub_1",
    "invoice_id": "inv_1",
    "currency_code": "INR",
    "billed_at": "2026-08-03T09:00:00Z",
    "custom_data": {"client_id": "client-1"},
    "customer": {"email": "payer@example.com"},
    "items": [{"price": {"id": "` + scalePriceID + `"}, "quantity": 1}],
    "details": {"totals": {"grand_total": "5800000", "currency_code": "INR"}}
  }
}`

func TestIngestRejectsBadSignature(t *testing.T) {
	f := setup(t, nil)
	headers := http.Header{}
	headers.Set(paddle.SignatureHeader, paddle.SignatureHeaderValue("other", now, []byte(scaleTransaction)))

	_, err := f.svc.IngestWebhook(context.Background(), []byte(scaleTransaction), headers)
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)
	testutil.AssertCount(t, f.db, "payments", 0)
}

func TestIngestAcknowledgesMalformedJSON(t *testing.T) {
	f := setup(t, nil)
	ack := deliver(t, f, `{"event_type": "transaction.completed", "data": [`)
	assert.Equal(t, paymentdomain.AckReceived, ack.Status)
	assert.Equal(t, webhook.ReasonMalformed, ack.Reason)
}

func TestIngestUpgradesPlanAndSyncsPayer(t *testing.T) {
	f := setup(t, func(r *clientdomain.BillingRecord) {
		r.PlanType = "starter_monthly"
		r.PlanRank = 1
	})

	ack := deliver(t, f, scaleTransaction)
	assert.Equal(t, paymentdomain.AckApplied, ack.Status)
	assert.False(t, ack.Duplicate)

	client := testutil.LoadClient(t, f.db, "client-1")
	assert.Equal(t, "scale", client.PlanType)
	assert.Equal(t, 3, client.PlanRank)
	assert.Equal(t, int64(5000), client.MinuteAllowance)
	require.NotNil(t, client.Email)
	assert.Equal(t, "payer@example.com", *client.Email)
	require.NotNil(t, client.GatewayCustomerID)
	assert.Equal(t, "ctm_new", *client.GatewayCustomerID)

	var payment paymentdomain.PaymentRecord
	require.NoError(t, f.db.Where("external_event_id = ?", "txn_scale_1").Take(&payment).Error)
	assert.Equal(t, "upgrade", payment.Kind)
	assert.Equal(t, int64(69700), payment.Amount)
	assert.Equal(t, "USD", payment.Currency)
	assert.WithinDuration(t, time.Date(2026, 8, 3, 9, 0, 0, 0, time.UTC), payment.PaidAt, time.Second)
}

func TestIngestDuplicateDeliveryIsNoop(t *testing.T) {
	f := setup(t, nil)

	first := deliver(t, f, scaleTransaction)
	second := deliver(t, f, scaleTransaction)

	assert.False(t, first.Duplicate)
	assert.True(t, second.Duplicate)
	testutil.AssertCount(t, f.db, "payments", 1)
}

func TestIngestUsagePaymentResumesClient(t *testing.T) {
	due := now.Add(-24 * time.Hour)
	reason := clientdomain.PausedReasonUsageUnpaid
	f := setup(t, func(r *clientdomain.BillingRecord) {
		r.AgentStatus = clientdomain.AgentPaused
		r.PausedReason = &reason
		r.UsageInvoiceDueAt = &due
	})

	ack := deliver(t, f, `{
	  "event_type": "transaction.completed",
	  "data": {
	    "id": "txn_usage_1",
	    "custom_data": {"custom_data[client_id]": "client-1"},
	    "items": [{"price_id": "`+usagePriceID+`"}],
	    "details": {"totals": {"grand_total": "2300", "currency_code": "USD"}}
	  }
	}`)
	assert.Equal(t, paymentdomain.AckApplied, ack.Status)

	client := testutil.LoadClient(t, f.db, "client-1")
	assert.Equal(t, clientdomain.AgentActive, client.AgentStatus)
	assert.Nil(t, client.PausedReason)
	assert.Nil(t, client.UsageInvoiceDueAt)
	assert.Equal(t, "scale", client.PlanType)
	assert.Equal(t, []string{"resume:client-1"}, f.controller.Calls())

	var payment paymentdomain.PaymentRecord
	require.NoError(t, f.db.Where("external_event_id = ?", "txn_usage_1").Take(&payment).Error)
	assert.Equal(t, "usage", payment.Kind)
	assert.Equal(t, int64(2300), payment.Amount)
	assert.WithinDuration(t, now, payment.PaidAt, time.Second, "missing billed_at falls back to now")
}

func TestIngestResolvesProductPriceID(t *testing.T) {
	f := setup(t, nil)
	ack := deliver(t, f, `{
	  "event_type": "transaction.completed",
	  "data": {
	    "id": "txn_product_1",
	    "custom_data": {"client_id": "client-1"},
	    "items": [{"product": {"price_id": "`+scalePriceID+`"}}]
	  }
	}`)
	assert.Equal(t, paymentdomain.AckApplied, ack.Status)

	var payment paymentdomain.PaymentRecord
	require.NoError(t, f.db.Where("external_event_id = ?", "txn_product_1").Take(&payment).Error)
	assert.Equal(t, "renewal", payment.Kind)
}

func TestIngestDropsUnknownPrice(t *testing.T) {
	f := setup(t, nil)
	ack := deliver(t, f, `{
	  "event_type": "transaction.completed",
	  "data": {
	    "id": "txn_x",
	    "custom_data": {"client_id": "client-1"},
	    "items": [{"price": {"id": "pri_retired"}}]
	  }
	}`)
	assert.Equal(t, paymentdomain.AckIgnored, ack.Status)
	assert.Equal(t, webhook.ReasonUnknownPrice, ack.Reason)
	testutil.AssertCount(t, f.db, "payments", 0)
}

func TestIngestDropsEventsWithoutKnownClient(t *testing.T) {
	f := setup(t, nil)

	ack := deliver(t, f, `{"event_type": "transaction.completed", "data": {"id": "txn_1", "items": []}}`)
	assert.Equal(t, webhook.ReasonMissingClient, ack.Reason)

	ack = deliver(t, f, `{"event_type": "transaction.completed", "data": {"id": "txn_1", "custom_data": {"client_id": "ghost"}}}`)
	assert.Equal(t, webhook.ReasonUnknownClient, ack.Reason)
	testutil.AssertCount(t, f.db, "payments", 0)
}

func TestIngestDropsUnsupportedEventTypes(t *testing.T) {
	f := setup(t, nil)
	ack := deliver(t, f, `{"event_type": "transaction.payment_failed", "data": {"id": "txn_1", "custom_data": {"client_id": "client-1"}}}`)
	assert.Equal(t, paymentdomain.AckIgnored, ack.Status)
	assert.Equal(t, webhook.ReasonUnsupportedEvent, ack.Reason)
}

func TestIngestSyncsSubscriptionStatus(t *testing.T) {
	f := setup(t, nil)
	ack := deliver(t, f, `{
	  "event_type": "subscription.updated",
	  "data": {
	    "id": "sub_42",
	    "status": "past_due",
	    "customer_id": "ctm_9",
	    "next_billed_at": "2026-09-03T09:30:00Z",
	    "custom_data": {"client_id": "client-1"}
	  }
	}`)
	assert.Equal(t, paymentdomain.AckApplied, ack.Status)

	client := testutil.LoadClient(t, f.db, "client-1")
	require.NotNil(t, client.RenewalStatus)
	assert.Equal(t, "past_due", *client.RenewalStatus)
	require.NotNil(t, client.NextBillingDate)
	assert.WithinDuration(t, time.Date(2026, 9, 3, 9, 30, 0, 0, time.UTC), *client.NextBillingDate, time.Second)
	require.NotNil(t, client.GatewaySubscriptionID)
	assert.Equal(t, "sub_42", *client.GatewaySubscriptionID)
	testutil.AssertCount(t, f.db, "payments", 0)
}

package service_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	chargedomain "github.com/smallbiznis/voicemeter/internal/charge/domain"
	"github.com/smallbiznis/voicemeter/internal/charge/service"
	clientdomain "github.com/smallbiznis/voicemeter/internal/client/domain"
	clientrepo "github.com/smallbiznis/voicemeter/internal/client/repository"
	"github.com/smallbiznis/voicemeter/internal/clock"
	"github.com/smallbiznis/voicemeter/internal/config"
	"github.com/smallbiznis/voicemeter/internal/events"
	invoicedomain "github.com/smallbiznis/voicemeter/internal/invoice/domain"
	invoicerepo "github.com/smallbiznis/voicemeter/internal/invoice/repository"
	"github.com/smallbiznis/voicemeter/internal/plan"
	"github.com/smallbiznis/voicemeter/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const usagePriceID = "pri_01kd5qrbh5d1hadyfa15sp0m51"

var now = time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

type gatewayMock struct {
	mock.Mock
}

func (m *gatewayMock) ChargeUsage(ctx context.Context, req chargedomain.ChargeRequest) (chargedomain.ChargeResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(chargedomain.ChargeResult), args.Error(1)
}

type fixture struct {
	db      *gorm.DB
	node    *snowflake.Node
	gateway *gatewayMock
	svc     chargedomain.Service
}

// slowGateway accepts every charge after a fixed delay and counts calls.
type slowGateway struct {
	delay time.Duration
	calls atomic.Int32
}

func (g *slowGateway) ChargeUsage(ctx context.Context, req chargedomain.ChargeRequest) (chargedomain.ChargeResult, error) {
	g.calls.Add(1)
	select {
	case <-time.After(g.delay):
	case <-ctx.Done():
		return chargedomain.ChargeResult{}, ctx.Err()
	}
	return chargedomain.ChargeResult{Reference: "txn_slow"}, nil
}

func setup(t *testing.T) fixture {
	t.Helper()
	gateway := &gatewayMock{}
	f := setupWithGateway(t, gateway)
	f.gateway = gateway
	return f
}

func setupWithGateway(t *testing.T, gateway chargedomain.Gateway) fixture {
	t.Helper()
	db := testutil.OpenSQLite(t)
	node := testutil.MustNode(t)
	catalog, err := plan.CatalogFromEntries(config.DefaultPlanEntries())
	require.NoError(t, err)

	svc := service.NewService(service.Params{
		DB:          db,
		Log:         zap.NewNop(),
		Clock:       clock.NewFakeClock(now),
		Gateway:     gateway,
		Catalog:     catalog,
		InvoiceRepo: invoicerepo.Provide(),
		ClientRepo:  clientrepo.Provide(),
		Outbox:      events.NewOutbox(db, node),
		Config:      config.Config{Paddle: config.PaddleConfig{Timeout: time.Second}},
	})
	return fixture{db: db, node: node, svc: svc}
}

func (f fixture) owingClient(t *testing.T, id string, subscription string) {
	t.Helper()
	due := now.AddDate(0, 0, 7)
	testutil.InsertClient(t, f.db, id, now.AddDate(0, -2, 0), func(r *clientdomain.BillingRecord) {
		r.UsageInvoiceDueAt = &due
		if subscription != "" {
			r.GatewaySubscriptionID = &subscription
		}
	})
}

func (f fixture) openInvoice(t *testing.T, clientID string, amount int64) invoicedomain.UsageInvoice {
	t.Helper()
	invoice := invoicedomain.UsageInvoice{
		ID:             f.node.Generate(),
		EventID:        invoicedomain.WindowEventID(clientID, now),
		ClientID:       clientID,
		WindowFrom:     now.AddDate(0, -1, 0),
		WindowTo:       now,
		Minutes:        decimal.NewFromInt(100),
		PricePerMinute: decimal.RequireFromString("0.23"),
		Amount:         amount,
		Currency:       "USD",
		Status:         invoicedomain.StatusOpen,
		DueAt:          now.AddDate(0, 0, 7),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, f.db.Create(&invoice).Error)
	return invoice
}

func loadInvoice(t *testing.T, db *gorm.DB, id snowflake.ID) invoicedomain.UsageInvoice {
	t.Helper()
	var invoice invoicedomain.UsageInvoice
	require.NoError(t, db.Where("id = ?", id).Take(&invoice).Error)
	return invoice
}

func forClient(clientID string) any {
	return mock.MatchedBy(func(req chargedomain.ChargeRequest) bool {
		return req.ClientID == clientID
	})
}

func TestChargeDueChargesOpenInvoice(t *testing.T) {
	f := setup(t)
	f.owingClient(t, "client-1", "sub_1")
	invoice := f.openInvoice(t, "client-1", 2300)

	f.gateway.On("ChargeUsage", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			_, hasDeadline := args.Get(0).(context.Context).Deadline()
			assert.True(t, hasDeadline)
			req := args.Get(1).(chargedomain.ChargeRequest)
			assert.Equal(t, "sub_1", req.SubscriptionID)
			assert.Equal(t, usagePriceID, req.PriceID)
			assert.Equal(t, int64(2300), req.Amount)
			assert.Equal(t, "USD", req.Currency)
		}).
		Return(chargedomain.ChargeResult{Reference: "txn_charge_1"}, nil).
		Once()

	summary, err := f.svc.ChargeDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, chargedomain.Summary{Checked: 1, Charged: 1}, summary)
	f.gateway.AssertExpectations(t)

	stored := loadInvoice(t, f.db, invoice.ID)
	require.NotNil(t, stored.ChargedAt)
	require.NotNil(t, stored.GatewayTransactionID)
	assert.Equal(t, "txn_charge_1", *stored.GatewayTransactionID)
	assert.Equal(t, invoicedomain.StatusOpen, stored.Status, "charging does not settle the invoice")

	client := testutil.LoadClient(t, f.db, "client-1")
	require.NotNil(t, client.UsageInvoiceSentAt)
	assert.WithinDuration(t, now, *client.UsageInvoiceSentAt, time.Second)
	require.NotNil(t, client.UsageInvoiceDueAt, "due date stays until payment")
	testutil.AssertCount(t, f.db, "billing_events", 1)

	summary, err = f.svc.ChargeDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Checked, "charged invoices are not attempted again")
}

func TestChargeDueFailureLeavesStateForRetry(t *testing.T) {
	f := setup(t)
	f.owingClient(t, "client-1", "sub_1")
	invoice := f.openInvoice(t, "client-1", 2300)

	f.gateway.On("ChargeUsage", mock.Anything, mock.Anything).
		Return(chargedomain.ChargeResult{}, errors.New("503 from gateway")).
		Once()

	summary, err := f.svc.ChargeDue(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, chargedomain.ErrGatewayUnavailable)
	assert.Equal(t, chargedomain.Summary{Checked: 1, Failed: 1}, summary)

	stored := loadInvoice(t, f.db, invoice.ID)
	assert.Nil(t, stored.ChargedAt)
	assert.Nil(t, stored.ChargeAttemptedAt, "a rejected charge releases its claim")
	assert.Nil(t, testutil.LoadClient(t, f.db, "client-1").UsageInvoiceSentAt)
	testutil.AssertCount(t, f.db, "billing_events", 0)

	f.gateway.On("ChargeUsage", mock.Anything, mock.Anything).
		Return(chargedomain.ChargeResult{Reference: "txn_retry"}, nil).
		Once()

	summary, err = f.svc.ChargeDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Charged)
	assert.NotNil(t, loadInvoice(t, f.db, invoice.ID).ChargedAt)
	f.gateway.AssertExpectations(t)
}

func TestChargeDueIsolatesFailures(t *testing.T) {
	f := setup(t)
	f.owingClient(t, "client-a", "sub_a")
	f.owingClient(t, "client-b", "sub_b")
	f.owingClient(t, "client-c", "")
	failed := f.openInvoice(t, "client-a", 1000)
	charged := f.openInvoice(t, "client-b", 500)
	skipped := f.openInvoice(t, "client-c", 700)

	f.gateway.On("ChargeUsage", mock.Anything, forClient("client-a")).
		Return(chargedomain.ChargeResult{}, context.DeadlineExceeded).Once()
	f.gateway.On("ChargeUsage", mock.Anything, forClient("client-b")).
		Return(chargedomain.ChargeResult{Reference: "txn_b"}, nil).Once()

	summary, err := f.svc.ChargeDue(context.Background())
	require.Error(t, err)
	assert.Equal(t, chargedomain.Summary{Checked: 3, Charged: 1, Skipped: 1, Failed: 1}, summary)
	f.gateway.AssertExpectations(t)
	f.gateway.AssertNotCalled(t, "ChargeUsage", mock.Anything, forClient("client-c"))

	assert.Nil(t, loadInvoice(t, f.db, failed.ID).ChargedAt)
	assert.NotNil(t, loadInvoice(t, f.db, charged.ID).ChargedAt)
	assert.Nil(t, loadInvoice(t, f.db, skipped.ID).ChargedAt)
}

func TestChargeDueIgnoresSettledClients(t *testing.T) {
	f := setup(t)
	testutil.InsertClient(t, f.db, "client-1", now.AddDate(0, -2, 0), nil)
	f.openInvoice(t, "client-1", 2300)

	summary, err := f.svc.ChargeDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, chargedomain.Summary{}, summary)
	f.gateway.AssertNotCalled(t, "ChargeUsage", mock.Anything, mock.Anything)
}

func TestChargeDueOverlappingPassesChargeOnce(t *testing.T) {
	gateway := &slowGateway{delay: 200 * time.Millisecond}
	f := setupWithGateway(t, gateway)
	f.owingClient(t, "client-1", "sub_1")
	invoice := f.openInvoice(t, "client-1", 2300)

	var (
		wg        sync.WaitGroup
		summaries [2]chargedomain.Summary
		errs      [2]error
	)
	for i := range summaries {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			summaries[i], errs[i] = f.svc.ChargeDue(context.Background())
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, int32(1), gateway.calls.Load())
	assert.Equal(t, 1, summaries[0].Charged+summaries[1].Charged)

	stored := loadInvoice(t, f.db, invoice.ID)
	require.NotNil(t, stored.ChargedAt)
	require.NotNil(t, stored.ChargeAttemptedAt)
	testutil.AssertCount(t, f.db, "billing_events", 1)
}

func TestChargeDueSkipsClaimedInvoice(t *testing.T) {
	f := setup(t)
	f.owingClient(t, "client-1", "sub_1")
	invoice := f.openInvoice(t, "client-1", 2300)

	claimed, err := invoicerepo.Provide().ClaimCharge(context.Background(), f.db, invoice.ID, now)
	require.NoError(t, err)
	require.True(t, claimed)

	summary, err := f.svc.ChargeDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, chargedomain.Summary{}, summary)
	f.gateway.AssertNotCalled(t, "ChargeUsage", mock.Anything, mock.Anything)
	assert.Nil(t, loadInvoice(t, f.db, invoice.ID).ChargedAt)
}

package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	agentservice "github.com/smallbiznis/voicemeter/internal/agent/service"
	chargedomain "github.com/smallbiznis/voicemeter/internal/charge/domain"
	chargeservice "github.com/smallbiznis/voicemeter/internal/charge/service"
	clientdomain "github.com/smallbiznis/voicemeter/internal/client/domain"
	clientrepo "github.com/smallbiznis/voicemeter/internal/client/repository"
	"github.com/smallbiznis/voicemeter/internal/clock"
	"github.com/smallbiznis/voicemeter/internal/config"
	enforcementdomain "github.com/smallbiznis/voicemeter/internal/enforcement/domain"
	enforcementservice "github.com/smallbiznis/voicemeter/internal/enforcement/service"
	"github.com/smallbiznis/voicemeter/internal/events"
	invoicedomain "github.com/smallbiznis/voicemeter/internal/invoice/domain"
	invoicerepo "github.com/smallbiznis/voicemeter/internal/invoice/repository"
	invoiceservice "github.com/smallbiznis/voicemeter/internal/invoice/service"
	paymentdomain "github.com/smallbiznis/voicemeter/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/voicemeter/internal/payment/repository"
	paymentservice "github.com/smallbiznis/voicemeter/internal/payment/service"
	"github.com/smallbiznis/voicemeter/internal/plan"
	plandomain "github.com/smallbiznis/voicemeter/internal/plan/domain"
	"github.com/smallbiznis/voicemeter/internal/testutil"
	usagedomain "github.com/smallbiznis/voicemeter/internal/usage/domain"
	usagerepo "github.com/smallbiznis/voicemeter/internal/usage/repository"
	usageservice "github.com/smallbiznis/voicemeter/internal/usage/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var signup = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

type recordingGateway struct {
	mu       sync.Mutex
	requests []chargedomain.ChargeRequest
}

func (g *recordingGateway) ChargeUsage(_ context.Context, req chargedomain.ChargeRequest) (chargedomain.ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	return chargedomain.ChargeResult{Reference: "txn_" + req.InvoiceID}, nil
}

type pipeline struct {
	db         *gorm.DB
	clk        *clock.FakeClock
	sched      *Scheduler
	usage      usagedomain.Service
	payments   paymentdomain.Service
	gateway    *recordingGateway
	controller *testutil.RecordingController
	redis      *miniredis.Miniredis
}

func newPipeline(t *testing.T) pipeline {
	t.Helper()
	db := testutil.OpenSQLite(t)
	clk := clock.NewFakeClock(signup)
	node := testutil.MustNode(t)
	log := zap.NewNop()
	controller := &testutil.RecordingController{}
	gateway := &recordingGateway{}

	catalog, err := plan.CatalogFromEntries(config.DefaultPlanEntries())
	require.NoError(t, err)
	holder := config.NewStaticBillingConfigHolder(config.DefaultPlanEntries(), config.DefaultBillingPolicy())

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	clients := clientrepo.Provide()
	invoices := invoicerepo.Provide()
	usageEntries := usagerepo.Provide()
	outbox := events.NewOutbox(db, node)
	agentSvc := agentservice.NewService(agentservice.Params{
		Log:        log,
		Clock:      clk,
		ClientRepo: clients,
		Controller: controller,
	})

	sched, err := New(Params{
		DB:          db,
		Log:         log,
		Clock:       clk,
		GenID:       node,
		ClientRepo:  clients,
		InvoiceRepo: invoices,
		InvoiceSvc: invoiceservice.NewService(invoiceservice.Params{
			DB: db, Log: log, GenID: node, Clock: clk,
			Repo: invoices, ClientRepo: clients, UsageRepo: usageEntries, Outbox: outbox,
		}),
		ChargeSvc: chargeservice.NewService(chargeservice.Params{
			DB: db, Log: log, Clock: clk, Gateway: gateway, Catalog: catalog,
			InvoiceRepo: invoices, ClientRepo: clients, Outbox: outbox, Billing: holder,
		}),
		EnforcementSvc: enforcementservice.NewService(enforcementservice.Params{
			DB: db, Log: log, Clock: clk, ClientRepo: clients, AgentSvc: agentSvc, Outbox: outbox, Billing: holder,
		}),
		Billing: holder,
		Locker:  NewLocker(redisClient),
	})
	require.NoError(t, err)

	return pipeline{
		db:    db,
		clk:   clk,
		sched: sched,
		usage: usageservice.NewService(usageservice.Params{
			DB: db, Log: log, GenID: node, Clock: clk, Repo: usageEntries,
		}),
		payments: paymentservice.NewService(paymentservice.Params{
			DB: db, Log: log, GenID: node, Clock: clk,
			Repo: paymentrepo.Provide(), ClientRepo: clients, InvoiceRepo: invoices,
			AgentSvc: agentSvc, Outbox: outbox,
		}),
		gateway:    gateway,
		controller: controller,
		redis:      mr,
	}
}

func (p pipeline) loadInvoices(t *testing.T) []invoicedomain.UsageInvoice {
	t.Helper()
	var invoices []invoicedomain.UsageInvoice
	require.NoError(t, p.db.Order("window_to ASC").Find(&invoices).Error)
	return invoices
}

func TestPipelineUnpaidUsagePausesAndPaymentResumes(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	subscription := "sub_1"
	testutil.InsertClient(t, p.db, "client-1", signup, func(r *clientdomain.BillingRecord) {
		r.GatewaySubscriptionID = &subscription
	})

	p.clk.Set(time.Date(2026, 6, 15, 10, 0, 0, 0, time.UTC))
	_, err := p.usage.RecordUsage(ctx, usagedomain.RecordRequest{
		ClientID:        "client-1",
		ExternalCallID:  "call-1",
		DurationSeconds: 6000,
	})
	require.NoError(t, err)

	// Month end: 100 minutes at 0.23 are invoiced, charged, and not yet enforced.
	monthEnd := time.Date(2026, 7, 1, 0, 1, 30, 0, time.UTC)
	p.clk.Set(monthEnd)
	require.NoError(t, p.sched.RunOnce(ctx))

	invoices := p.loadInvoices(t)
	require.Len(t, invoices, 1)
	invoice := invoices[0]
	assert.Equal(t, int64(2300), invoice.Amount)
	assert.True(t, invoice.Minutes.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, "usage:client-1:1782864000", invoice.EventID)
	assert.True(t, invoice.WindowFrom.Equal(signup))
	require.NotNil(t, invoice.ChargedAt)

	client := testutil.LoadClient(t, p.db, "client-1")
	require.NotNil(t, client.UsageInvoiceDueAt)
	assert.WithinDuration(t, monthEnd.AddDate(0, 0, 7), *client.UsageInvoiceDueAt, time.Second)
	require.NotNil(t, client.UsageInvoiceSentAt)
	assert.Equal(t, clientdomain.AgentActive, client.AgentStatus)
	require.Len(t, p.gateway.requests, 1)
	assert.Equal(t, int64(2300), p.gateway.requests[0].Amount)
	assert.Equal(t, "sub_1", p.gateway.requests[0].SubscriptionID)

	// Running again inside the same minute changes nothing.
	require.NoError(t, p.sched.RunOnce(ctx))
	assert.Len(t, p.loadInvoices(t), 1)
	assert.Len(t, p.gateway.requests, 1)

	// Grace period expires.
	p.clk.Set(monthEnd.AddDate(0, 0, 7).Add(time.Minute))
	require.NoError(t, p.sched.RunOnce(ctx))
	client = testutil.LoadClient(t, p.db, "client-1")
	assert.Equal(t, clientdomain.AgentPaused, client.AgentStatus)
	assert.Equal(t, []string{"pause:client-1"}, p.controller.Calls())

	// The overage is paid.
	result, err := p.payments.ProcessPayment(ctx, paymentdomain.ProcessRequest{
		ClientID:        "client-1",
		ExternalEventID: "txn_usage_1",
		Amount:          decimal.RequireFromString("23.00"),
		Currency:        "USD",
		Kind:            plandomain.KindUsage,
		PaidAt:          p.clk.Now(),
	})
	require.NoError(t, err)
	assert.True(t, result.Resumed)
	assert.Equal(t, int64(1), result.InvoicesSettled)

	// Later sweeps leave the client active.
	p.clk.Advance(time.Hour)
	require.NoError(t, p.sched.RunOnce(ctx))
	client = testutil.LoadClient(t, p.db, "client-1")
	assert.Equal(t, clientdomain.AgentActive, client.AgentStatus)
	assert.Nil(t, client.UsageInvoiceDueAt)
	assert.Equal(t, []string{"pause:client-1", "resume:client-1"}, p.controller.Calls())
	assert.Equal(t, invoicedomain.StatusPaid, p.loadInvoices(t)[0].Status)
}

func TestFinalizeUsageWindowsFollowPreviousInvoice(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	testutil.InsertClient(t, p.db, "client-1", signup, nil)

	record := func(id string, at time.Time, seconds int64) {
		p.clk.Set(at)
		_, err := p.usage.RecordUsage(ctx, usagedomain.RecordRequest{ClientID: "client-1", ExternalCallID: id, DurationSeconds: seconds})
		require.NoError(t, err)
	}

	record("call-1", time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC), 600)
	p.clk.Set(time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC))
	summary, err := p.sched.FinalizeUsage(ctx)
	require.NoError(t, err)
	assert.Equal(t, FinalizeSummary{Checked: 1, Finalized: 1}, summary)

	record("call-2", time.Date(2026, 7, 20, 0, 0, 0, 0, time.UTC), 1200)
	p.clk.Set(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	summary, err = p.sched.FinalizeUsage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Finalized)

	invoices := p.loadInvoices(t)
	require.Len(t, invoices, 2)
	assert.True(t, invoices[1].WindowFrom.Equal(invoices[0].WindowTo), "windows are contiguous")
	assert.Equal(t, int64(230), invoices[0].Amount)
	assert.Equal(t, int64(460), invoices[1].Amount)

	p.clk.Set(time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC))
	summary, err = p.sched.FinalizeUsage(ctx)
	require.NoError(t, err)
	assert.Equal(t, FinalizeSummary{Checked: 1, ZeroUsage: 1}, summary)
}

func TestFinalizeUsageLeavesRecentUsageForNextWindow(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	testutil.InsertClient(t, p.db, "client-1", signup, nil)

	record := func(id string, at time.Time, seconds int64) {
		p.clk.Set(at)
		_, err := p.usage.RecordUsage(ctx, usagedomain.RecordRequest{ClientID: "client-1", ExternalCallID: id, DurationSeconds: seconds})
		require.NoError(t, err)
	}

	record("call-early", time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC), 600)
	record("call-late", time.Date(2026, 6, 30, 23, 59, 30, 0, time.UTC), 1200)

	p.clk.Set(time.Date(2026, 7, 1, 0, 0, 20, 0, time.UTC))
	summary, err := p.sched.FinalizeUsage(ctx)
	require.NoError(t, err)
	assert.Equal(t, FinalizeSummary{Checked: 1, Finalized: 1}, summary)

	invoices := p.loadInvoices(t)
	require.Len(t, invoices, 1)
	assert.True(t, invoices[0].WindowTo.Equal(time.Date(2026, 6, 30, 23, 59, 0, 0, time.UTC)), invoices[0].WindowTo.String())
	assert.Equal(t, int64(230), invoices[0].Amount, "usage inside the settle delay waits for the next window")

	p.clk.Set(time.Date(2026, 8, 1, 0, 1, 0, 0, time.UTC))
	summary, err = p.sched.FinalizeUsage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Finalized)

	invoices = p.loadInvoices(t)
	require.Len(t, invoices, 2)
	assert.True(t, invoices[1].WindowFrom.Equal(invoices[0].WindowTo))
	assert.Equal(t, int64(460), invoices[1].Amount)
}

func TestJobSkipsWhileAnotherReplicaHoldsTheLock(t *testing.T) {
	p := newPipeline(t)
	due := signup.Add(-time.Hour)
	testutil.InsertClient(t, p.db, "client-1", signup.AddDate(0, -1, 0), func(r *clientdomain.BillingRecord) {
		r.UsageInvoiceDueAt = &due
	})
	require.NoError(t, p.redis.Set(lockKeyPrefix+JobEnforce, "other-replica"))

	summary, err := p.sched.Enforce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, enforcementdomain.Summary{}, summary)
	assert.Equal(t, clientdomain.AgentActive, testutil.LoadClient(t, p.db, "client-1").AgentStatus)

	p.redis.Del(lockKeyPrefix + JobEnforce)
	summary, err = p.sched.Enforce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Paused)
	assert.False(t, p.redis.Exists(lockKeyPrefix+JobEnforce), "lock released after the run")
}

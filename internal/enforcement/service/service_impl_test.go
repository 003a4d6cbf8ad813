package service_test

import (
	"context"
	"testing"
	"time"

	agentservice "github.com/smallbiznis/voicemeter/internal/agent/service"
	clientdomain "github.com/smallbiznis/voicemeter/internal/client/domain"
	clientrepo "github.com/smallbiznis/voicemeter/internal/client/repository"
	"github.com/smallbiznis/voicemeter/internal/clock"
	enforcementdomain "github.com/smallbiznis/voicemeter/internal/enforcement/domain"
	"github.com/smallbiznis/voicemeter/internal/enforcement/service"
	"github.com/smallbiznis/voicemeter/internal/events"
	"github.com/smallbiznis/voicemeter/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var now = time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)

type fixture struct {
	db         *gorm.DB
	clk        *clock.FakeClock
	controller *testutil.RecordingController
	svc        enforcementdomain.Service
}

func setup(t *testing.T) fixture {
	t.Helper()
	db := testutil.OpenSQLite(t)
	clk := clock.NewFakeClock(now)
	controller := &testutil.RecordingController{}
	clients := clientrepo.Provide()

	svc := service.NewService(service.Params{
		DB:         db,
		Log:        zap.NewNop(),
		Clock:      clk,
		ClientRepo: clients,
		AgentSvc: agentservice.NewService(agentservice.Params{
			Log:        zap.NewNop(),
			Clock:      clk,
			ClientRepo: clients,
			Controller: controller,
		}),
		Outbox: events.NewOutbox(db, testutil.MustNode(t)),
	})
	return fixture{db: db, clk: clk, controller: controller, svc: svc}
}

func dueAt(at time.Time) func(*clientdomain.BillingRecord) {
	return func(r *clientdomain.BillingRecord) { r.UsageInvoiceDueAt = &at }
}

func TestEnforcePausesExpiredClient(t *testing.T) {
	f := setup(t)
	testutil.InsertClient(t, f.db, "client-1", now.AddDate(0, -1, 0), dueAt(now.Add(-time.Minute)))

	outcome, err := f.svc.Enforce(context.Background(), "client-1")
	require.NoError(t, err)
	assert.Equal(t, enforcementdomain.ActionPaused, outcome.Action)
	assert.Equal(t, clientdomain.PausedReasonUsageUnpaid, outcome.Reason)

	client := testutil.LoadClient(t, f.db, "client-1")
	assert.Equal(t, clientdomain.AgentPaused, client.AgentStatus)
	require.NotNil(t, client.PausedReason)
	assert.Equal(t, clientdomain.PausedReasonUsageUnpaid, *client.PausedReason)
	require.NotNil(t, client.UsageInvoiceDueAt, "pausing keeps the debt")
	assert.Equal(t, []string{"pause:client-1"}, f.controller.Calls())
	testutil.AssertCount(t, f.db, "billing_events", 1)

	outcome, err = f.svc.Enforce(context.Background(), "client-1")
	require.NoError(t, err)
	assert.Equal(t, enforcementdomain.ActionSkipped, outcome.Action)
	assert.Equal(t, enforcementdomain.ReasonAlreadyPaused, outcome.Reason)
	assert.Len(t, f.controller.Calls(), 1)
}

func TestEnforcePausesExactlyAtDueDate(t *testing.T) {
	f := setup(t)
	testutil.InsertClient(t, f.db, "client-1", now.AddDate(0, -1, 0), dueAt(now))

	outcome, err := f.svc.Enforce(context.Background(), "client-1")
	require.NoError(t, err)
	assert.Equal(t, enforcementdomain.ActionPaused, outcome.Action)
}

func TestEnforceSkips(t *testing.T) {
	reason := clientdomain.PausedReasonUsageUnpaid
	cases := []struct {
		name   string
		mutate func(*clientdomain.BillingRecord)
		reason string
	}{
		{name: "no due invoice", mutate: nil, reason: enforcementdomain.ReasonNoDueInvoice},
		{name: "inside grace period", mutate: dueAt(now.Add(time.Second)), reason: enforcementdomain.ReasonNotYetDue},
		{
			name: "already paused",
			mutate: func(r *clientdomain.BillingRecord) {
				due := now.AddDate(0, 0, -3)
				r.UsageInvoiceDueAt = &due
				r.AgentStatus = clientdomain.AgentPaused
				r.PausedReason = &reason
			},
			reason: enforcementdomain.ReasonAlreadyPaused,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := setup(t)
			before := testutil.InsertClient(t, f.db, "client-1", now.AddDate(0, -1, 0), tc.mutate)

			outcome, err := f.svc.Enforce(context.Background(), "client-1")
			require.NoError(t, err)
			assert.Equal(t, enforcementdomain.ActionSkipped, outcome.Action)
			assert.Equal(t, tc.reason, outcome.Reason)
			assert.Empty(t, f.controller.Calls())
			assert.Equal(t, before.AgentStatus, testutil.LoadClient(t, f.db, "client-1").AgentStatus)
			testutil.AssertCount(t, f.db, "billing_events", 0)
		})
	}
}

func TestEnforceNeverResumes(t *testing.T) {
	f := setup(t)
	reason := clientdomain.PausedReasonUsageUnpaid
	testutil.InsertClient(t, f.db, "client-1", now.AddDate(0, -1, 0), func(r *clientdomain.BillingRecord) {
		r.AgentStatus = clientdomain.AgentPaused
		r.PausedReason = &reason
	})

	outcome, err := f.svc.Enforce(context.Background(), "client-1")
	require.NoError(t, err)
	assert.Equal(t, enforcementdomain.ReasonAlreadyPaused, outcome.Reason)
	assert.Equal(t, clientdomain.AgentPaused, testutil.LoadClient(t, f.db, "client-1").AgentStatus)
}

func TestEnforceErrors(t *testing.T) {
	f := setup(t)

	_, err := f.svc.Enforce(context.Background(), "  ")
	assert.ErrorIs(t, err, enforcementdomain.ErrInvalidClient)

	_, err = f.svc.Enforce(context.Background(), "ghost")
	assert.ErrorIs(t, err, enforcementdomain.ErrClientNotFound)
}

func TestSweep(t *testing.T) {
	f := setup(t)
	testutil.InsertClient(t, f.db, "a-expired", now.AddDate(0, -1, 0), dueAt(now.AddDate(0, 0, -1)))
	testutil.InsertClient(t, f.db, "b-grace", now.AddDate(0, -1, 0), dueAt(now.AddDate(0, 0, 2)))
	testutil.InsertClient(t, f.db, "c-clean", now.AddDate(0, -1, 0), nil)
	testutil.InsertClient(t, f.db, "d-expired", now.AddDate(0, -1, 0), dueAt(now.Add(-time.Hour)))

	summary, err := f.svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, enforcementdomain.Summary{Checked: 3, Paused: 2, Skipped: 1}, summary)
	assert.ElementsMatch(t, []string{"pause:a-expired", "pause:d-expired"}, f.controller.Calls())

	f.clk.Advance(72 * time.Hour)
	summary, err = f.svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, enforcementdomain.Summary{Checked: 3, Paused: 1, Skipped: 2}, summary)
	assert.Equal(t, clientdomain.AgentPaused, testutil.LoadClient(t, f.db, "b-grace").AgentStatus)
	assert.Equal(t, clientdomain.AgentActive, testutil.LoadClient(t, f.db, "c-clean").AgentStatus)
}

package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/voicemeter/internal/clock"
	"github.com/smallbiznis/voicemeter/internal/testutil"
	usagedomain "github.com/smallbiznis/voicemeter/internal/usage/domain"
	"github.com/smallbiznis/voicemeter/internal/usage/repository"
	"github.com/smallbiznis/voicemeter/internal/usage/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var start = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func setupService(t *testing.T) (usagedomain.Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()
	db := testutil.OpenSQLite(t)
	clk := clock.NewFakeClock(start)
	testutil.InsertClient(t, db, "client-1", start.Add(-24*time.Hour), nil)

	svc := service.NewService(service.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: testutil.MustNode(t),
		Clock: clk,
		Repo:  repository.Provide(),
	})
	return svc, db, clk
}

func TestRecordUsageDerivesMinutes(t *testing.T) {
	svc, _, _ := setupService(t)

	entry, err := svc.RecordUsage(context.Background(), usagedomain.RecordRequest{
		ClientID:       "client-1",
		ExternalCallID: "call-1",
		DurationMillis: 90500,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(90), entry.DurationSeconds)
	assert.True(t, entry.DurationMinutesExact.Equal(decimal.RequireFromString("1.5")), entry.DurationMinutesExact.String())
	assert.Equal(t, int64(2), entry.Minutes)
	assert.Equal(t, usagedomain.SourceCalls, entry.Source)
}

func TestRecordUsageUpsertsByCallID(t *testing.T) {
	svc, db, clk := setupService(t)
	ctx := context.Background()

	_, err := svc.RecordUsage(ctx, usagedomain.RecordRequest{
		ClientID:          "client-1",
		ExternalCallID:    "call-1",
		DurationSeconds:   30,
		SuccessfulOutcome: true,
	})
	require.NoError(t, err)

	clk.Advance(time.Minute)
	entry, err := svc.RecordUsage(ctx, usagedomain.RecordRequest{
		ClientID:        "client-1",
		ExternalCallID:  "call-1",
		DurationSeconds: 120,
	})
	require.NoError(t, err)

	testutil.AssertCount(t, db, "usage_entries", 1)
	assert.Equal(t, int64(120), entry.DurationSeconds)
	assert.True(t, entry.SuccessfulOutcome, "successful outcome must stay true")
	assert.True(t, entry.CreatedAt.Equal(start), "created_at must keep the first observation")
}

func TestRecordUsageDurationFromSpan(t *testing.T) {
	svc, _, _ := setupService(t)

	began := start.Add(-3 * time.Minute)
	ended := start
	entry, err := svc.RecordUsage(context.Background(), usagedomain.RecordRequest{
		ClientID:       "client-1",
		ExternalCallID: "call-span",
		StartTime:      &began,
		EndTime:        &ended,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(180), entry.DurationSeconds)
	assert.Equal(t, int64(3), entry.Minutes)
}

func TestRecordUsageValidation(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  usagedomain.RecordRequest
		want error
	}{
		{name: "missing_client", req: usagedomain.RecordRequest{ExternalCallID: "c"}, want: usagedomain.ErrInvalidClient},
		{name: "missing_call", req: usagedomain.RecordRequest{ClientID: "client-1"}, want: usagedomain.ErrInvalidCallID},
		{name: "negative", req: usagedomain.RecordRequest{ClientID: "client-1", ExternalCallID: "c", DurationSeconds: -1}, want: usagedomain.ErrInvalidDuration},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.RecordUsage(ctx, tc.req)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestSumExactMinutesWindow(t *testing.T) {
	svc, db, clk := setupService(t)
	ctx := context.Background()

	for i, seconds := range []int64{600, 900, 300} {
		clk.Set(start.Add(time.Duration(i) * time.Hour))
		_, err := svc.RecordUsage(ctx, usagedomain.RecordRequest{
			ClientID:        "client-1",
			ExternalCallID:  "call-" + string(rune('a'+i)),
			DurationSeconds: seconds,
		})
		require.NoError(t, err)
	}

	repo := repository.Provide()
	total, err := repo.SumExactMinutes(ctx, db, "client-1", start, start.Add(2*time.Hour))
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.NewFromInt(25)), total.String())

	total, err = repo.SumExactMinutes(ctx, db, "client-1", start.Add(3*time.Hour), start.Add(4*time.Hour))
	require.NoError(t, err)
	assert.True(t, total.IsZero())
}

package plan

import (
	"testing"

	"github.com/smallbiznis/voicemeter/internal/config"
	"github.com/smallbiznis/voicemeter/internal/plan/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogFromDefaultEntries(t *testing.T) {
	catalog, err := CatalogFromEntries(config.DefaultPlanEntries())
	require.NoError(t, err)

	scale, ok := catalog.Lookup("pri_01kcgpmajyawrje6emz4edyet5")
	require.True(t, ok)
	assert.Equal(t, domain.PlanScale, scale.Plan)
	assert.Equal(t, "0.23", scale.PricePerMinute.String())
	assert.Equal(t, "697", scale.BaseAmount.String())
	assert.Equal(t, int64(5000), scale.MinuteAllowance)

	usage, ok := catalog.UsagePrice()
	require.True(t, ok)
	assert.Equal(t, "pri_01kd5qrbh5d1hadyfa15sp0m51", usage.PriceID)
}

func TestCatalogFromEntriesRejectsBadAmount(t *testing.T) {
	entries := config.DefaultPlanEntries()
	entries[0].Amount = "two hundred"

	_, err := CatalogFromEntries(entries)
	assert.Error(t, err)
}

func TestCatalogFromEntriesRejectsUnknownKind(t *testing.T) {
	entries := config.DefaultPlanEntries()
	entries[1].PaymentKind = "gift"

	_, err := CatalogFromEntries(entries)
	assert.ErrorIs(t, err, domain.ErrInvalidPaymentKind)
}

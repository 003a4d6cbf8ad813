package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogLookup(t *testing.T) {
	catalog, err := NewCatalog([]PlanConfig{starterPlan(), scalePlan(), usagePlan()})
	require.NoError(t, err)

	got, ok := catalog.Lookup("pri_scale")
	require.True(t, ok)
	assert.Equal(t, PlanScale, got.Plan)
	assert.Equal(t, 3, got.Rank)

	_, ok = catalog.Lookup("pri_missing")
	assert.False(t, ok)

	usage, ok := catalog.UsagePrice()
	require.True(t, ok)
	assert.Equal(t, "pri_usage", usage.PriceID)
	assert.Len(t, catalog.Entries(), 3)
}

func TestCatalogValidate(t *testing.T) {
	badUsage := usagePlan()
	badUsage.BaseAmount = decimal.NewFromInt(5)

	zeroRank := starterPlan()
	zeroRank.Rank = 0

	secondUsage := usagePlan()
	secondUsage.PriceID = "pri_usage_2"

	misranked := starterPlan()
	misranked.Rank = RankOf(PlanPro)

	cases := []struct {
		name    string
		entries []PlanConfig
	}{
		{name: "missing_usage", entries: []PlanConfig{starterPlan()}},
		{name: "usage_with_base_amount", entries: []PlanConfig{starterPlan(), badUsage}},
		{name: "subscription_rank_zero", entries: []PlanConfig{zeroRank, usagePlan()}},
		{name: "rank_disagrees_with_plan", entries: []PlanConfig{misranked, usagePlan()}},
		{name: "two_usage_prices", entries: []PlanConfig{usagePlan(), secondUsage}},
		{name: "duplicate_price", entries: []PlanConfig{starterPlan(), starterPlan(), usagePlan()}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewCatalog(tc.entries)
			if !errors.Is(err, ErrInvalidCatalog) {
				t.Fatalf("expected ErrInvalidCatalog, got %v", err)
			}
		})
	}
}

func TestCatalogEntriesAreCopies(t *testing.T) {
	catalog, err := NewCatalog([]PlanConfig{starterPlan(), usagePlan()})
	require.NoError(t, err)

	entries := catalog.Entries()
	for i := range entries {
		entries[i].Rank = 99
	}

	got, _ := catalog.Lookup("pri_starter")
	assert.Equal(t, 1, got.Rank)
}

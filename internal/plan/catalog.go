package plan

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/voicemeter/internal/config"
	"github.com/smallbiznis/voicemeter/internal/plan/domain"
)

// CatalogFromEntries converts billing.yml rows into a validated catalog.
func CatalogFromEntries(entries []config.PlanEntry) (domain.Catalog, error) {
	configs := make([]domain.PlanConfig, 0, len(entries))
	for _, entry := range entries {
		base, err := parseAmount(entry.Amount)
		if err != nil {
			return domain.Catalog{}, fmt.Errorf("price %s amount: %w", entry.PriceID, err)
		}
		ppm, err := parseAmount(entry.PricePerMinute)
		if err != nil {
			return domain.Catalog{}, fmt.Errorf("price %s price_per_minute: %w", entry.PriceID, err)
		}
		kind, err := domain.ParsePaymentKind(entry.PaymentKind)
		if err != nil {
			return domain.Catalog{}, fmt.Errorf("price %s: %w", entry.PriceID, err)
		}

		configs = append(configs, domain.PlanConfig{
			PriceID:         entry.PriceID,
			Plan:            domain.PlanKey(strings.ToLower(strings.TrimSpace(entry.Plan))),
			BaseAmount:      base,
			MinuteAllowance: entry.Minutes,
			Rank:            entry.Rank,
			PricePerMinute:  ppm,
			PaymentKind:     kind,
		})
	}
	return domain.NewCatalog(configs)
}

// ProvideCatalog loads the catalog once from the billing config.
func ProvideCatalog(holder *config.BillingConfigHolder) (domain.Catalog, error) {
	return CatalogFromEntries(holder.Plans())
}

func parseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}

package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// PlanConfig is the set of attributes bound to a gateway price id.
type PlanConfig struct {
	PriceID         string
	Plan            PlanKey
	BaseAmount      decimal.Decimal
	MinuteAllowance int64
	Rank            int
	PricePerMinute  decimal.Decimal
	PaymentKind     PaymentKind
}

// IsUsage reports whether this is the reserved overage price.
func (p PlanConfig) IsUsage() bool {
	return p.PaymentKind == KindUsage
}

// Catalog is an immutable price-id index. The zero value is an empty catalog.
type Catalog struct {
	byPriceID map[string]PlanConfig
	usageID   string
}

// NewCatalog builds and validates a catalog. The input slice is copied.
func NewCatalog(entries []PlanConfig) (Catalog, error) {
	byPriceID := make(map[string]PlanConfig, len(entries))
	for _, entry := range entries {
		entry.PriceID = strings.TrimSpace(entry.PriceID)
		if entry.PriceID == "" {
			return Catalog{}, fmt.Errorf("%w: empty price id", ErrInvalidCatalog)
		}
		if _, exists := byPriceID[entry.PriceID]; exists {
			return Catalog{}, fmt.Errorf("%w: duplicate price id %s", ErrInvalidCatalog, entry.PriceID)
		}
		byPriceID[entry.PriceID] = entry
	}

	catalog := Catalog{byPriceID: byPriceID}
	for id, entry := range byPriceID {
		if entry.IsUsage() {
			catalog.usageID = id
		}
	}
	if err := catalog.Validate(); err != nil {
		return Catalog{}, err
	}
	return catalog, nil
}

// Lookup returns the plan bound to priceID.
func (c Catalog) Lookup(priceID string) (PlanConfig, bool) {
	entry, ok := c.byPriceID[strings.TrimSpace(priceID)]
	return entry, ok
}

// UsagePrice returns the reserved overage price entry.
func (c Catalog) UsagePrice() (PlanConfig, bool) {
	if c.usageID == "" {
		return PlanConfig{}, false
	}
	return c.Lookup(c.usageID)
}

// Entries returns a copy of every entry.
func (c Catalog) Entries() []PlanConfig {
	out := make([]PlanConfig, 0, len(c.byPriceID))
	for _, entry := range c.byPriceID {
		out = append(out, entry)
	}
	return out
}

// Validate checks the structural rules of the catalog.
func (c Catalog) Validate() error {
	usageCount := 0
	for id, entry := range c.byPriceID {
		if !entry.PaymentKind.Valid() {
			return fmt.Errorf("%w: price %s has kind %q", ErrInvalidCatalog, id, entry.PaymentKind)
		}
		if entry.IsUsage() {
			usageCount++
			if entry.Rank != 0 || !entry.BaseAmount.IsZero() {
				return fmt.Errorf("%w: usage price %s must have rank 0 and zero base amount", ErrInvalidCatalog, id)
			}
			continue
		}
		if entry.Rank < 1 {
			return fmt.Errorf("%w: subscription price %s must have rank >= 1", ErrInvalidCatalog, id)
		}
		if !entry.Plan.Valid() || entry.Plan == PlanNone || entry.Plan == PlanUsage {
			return fmt.Errorf("%w: subscription price %s has unknown plan %q", ErrInvalidCatalog, id, entry.Plan)
		}
		if entry.Rank != RankOf(entry.Plan) {
			return fmt.Errorf("%w: price %s has rank %d, plan %s ranks %d", ErrInvalidCatalog, id, entry.Rank, entry.Plan, RankOf(entry.Plan))
		}
		if entry.BaseAmount.IsNegative() || entry.PricePerMinute.IsNegative() {
			return fmt.Errorf("%w: price %s has negative amounts", ErrInvalidCatalog, id)
		}
	}
	if usageCount != 1 {
		return fmt.Errorf("%w: expected exactly one usage price, got %d", ErrInvalidCatalog, usageCount)
	}
	return nil
}

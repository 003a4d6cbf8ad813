package domain

// Classify decides the payment kind of an incoming price for a client whose
// current plan is currentPlan. A client without a plan ranks 0, so a first
// paid plan is an upgrade. The usage price bypasses ranking.
func Classify(currentPlan PlanKey, incoming PlanConfig) PaymentKind {
	if incoming.IsUsage() {
		return KindUsage
	}

	oldRank := RankOf(currentPlan)
	newRank := incoming.Rank
	switch {
	case newRank > oldRank:
		return KindUpgrade
	case newRank < oldRank:
		return KindDowngrade
	default:
		return KindRenewal
	}
}

// ValidateKind rejects kind/plan combinations that can never be applied.
func ValidateKind(kind PaymentKind, cfg PlanConfig) error {
	if !kind.Valid() {
		return ErrInvalidPaymentKind
	}
	if kind == KindUsage {
		if cfg.Rank != 0 || !cfg.IsUsage() {
			return ErrIllegalCombination
		}
		return nil
	}
	if cfg.IsUsage() || cfg.Rank < 1 {
		return ErrIllegalCombination
	}
	return nil
}

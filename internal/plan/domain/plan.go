package domain

import (
	"strings"
)

// PlanKey names a rank-bearing plan tier.
type PlanKey string

const (
	PlanNone    PlanKey = "none"
	PlanUsage   PlanKey = "usage"
	PlanStarter PlanKey = "starter"
	PlanGrowth  PlanKey = "growth"
	PlanScale   PlanKey = "scale"
	PlanPro     PlanKey = "pro"
)

var planRanks = map[PlanKey]int{
	PlanNone:    0,
	PlanUsage:   0,
	PlanStarter: 1,
	PlanGrowth:  2,
	PlanScale:   3,
	PlanPro:     4,
}

// intervalSuffixes are stripped from stored plan types before lookup.
var intervalSuffixes = []string{"_monthly", "_yearly", "_annual", "-monthly", "-yearly", "-annual"}

// ParsePlanKey normalizes a stored plan type. Unknown or empty values map to PlanNone.
func ParsePlanKey(raw string) PlanKey {
	value := strings.ToLower(strings.TrimSpace(raw))
	for _, suffix := range intervalSuffixes {
		value = strings.TrimSuffix(value, suffix)
	}
	key := PlanKey(value)
	if _, ok := planRanks[key]; !ok {
		return PlanNone
	}
	return key
}

// RankOf returns the rank of a plan key; unknown keys rank 0.
func RankOf(key PlanKey) int {
	return planRanks[key]
}

func (k PlanKey) Valid() bool {
	_, ok := planRanks[k]
	return ok
}

func (k PlanKey) String() string { return string(k) }

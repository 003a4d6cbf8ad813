package domain

import "context"

// Summary aggregates one charge pass.
type Summary struct {
	Checked int `json:"checked"`
	Charged int `json:"charged"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

type Service interface {
	ChargeDue(ctx context.Context) (Summary, error)
}

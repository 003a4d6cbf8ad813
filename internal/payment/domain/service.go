package domain

import "context"

type Service interface {
	ProcessPayment(ctx context.Context, req ProcessRequest) (Result, error)
}

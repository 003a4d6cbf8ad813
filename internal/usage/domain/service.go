package domain

import "context"

type Service interface {
	RecordUsage(ctx context.Context, req RecordRequest) (*Entry, error)
}

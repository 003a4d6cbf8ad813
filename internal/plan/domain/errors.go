package domain

import "errors"

var (
	ErrInvalidPaymentKind = errors.New("invalid_payment_kind")
	ErrIllegalCombination = errors.New("illegal_kind_plan_combination")
	ErrInvalidCatalog     = errors.New("invalid_catalog")
	ErrUnknownPrice       = errors.New("unknown_price")
)

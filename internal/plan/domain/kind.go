package domain

import "strings"

// PaymentKind is the closed set of payment classifications.
type PaymentKind string

const (
	KindSubscription PaymentKind = "subscription"
	KindUsage        PaymentKind = "usage"
	KindUpgrade      PaymentKind = "upgrade"
	KindDowngrade    PaymentKind = "downgrade"
	KindRenewal      PaymentKind = "renewal"
)

func (k PaymentKind) Valid() bool {
	switch k {
	case KindSubscription, KindUsage, KindUpgrade, KindDowngrade, KindRenewal:
		return true
	default:
		return false
	}
}

// IsPlanChange reports whether the kind mutates plan entitlements.
func (k PaymentKind) IsPlanChange() bool {
	return k.Valid() && k != KindUsage
}

func (k PaymentKind) String() string { return string(k) }

// ParsePaymentKind rejects anything outside the closed set.
func ParsePaymentKind(raw string) (PaymentKind, error) {
	kind := PaymentKind(strings.ToLower(strings.TrimSpace(raw)))
	if !kind.Valid() {
		return "", ErrInvalidPaymentKind
	}
	return kind, nil
}

package events

// Billing event types written to the outbox.
const (
	EventPaymentApplied        = "payment.applied"
	EventUsageInvoiceFinalized = "usage_invoice.finalized"
	EventUsageInvoiceCharged   = "usage_invoice.charged"
	EventAgentPaused           = "agent.paused"
	EventAgentResumed          = "agent.resumed"
)

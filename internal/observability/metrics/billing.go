package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Billing exposes counters for the money-moving paths. A nil *Billing is a
// valid no-op so services can be constructed without a registry in tests.
type Billing struct {
	payments        *prometheus.CounterVec
	webhookEvents   *prometheus.CounterVec
	usageCalls      *prometheus.CounterVec
	invoices        *prometheus.CounterVec
	charges         *prometheus.CounterVec
	enforcement     *prometheus.CounterVec
	agentHookErrors *prometheus.CounterVec
}

// NewBilling registers the billing counters on registerer.
func NewBilling(registerer prometheus.Registerer, cfg Config) *Billing {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	constLabels := constLabels(cfg)

	m := &Billing{
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "voicemeter_payments_total",
			Help:        "Payment events processed by kind and result.",
			ConstLabels: constLabels,
		}, []string{"kind", "result"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "voicemeter_webhook_events_total",
			Help:        "Inbound webhook events by provider, event type and result.",
			ConstLabels: constLabels,
		}, []string{"provider", "event_type", "result"}),
		usageCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "voicemeter_usage_calls_total",
			Help:        "Voice calls recorded into the usage ledger.",
			ConstLabels: constLabels,
		}, []string{"result"}),
		invoices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "voicemeter_usage_invoices_total",
			Help:        "Usage invoice finalization outcomes.",
			ConstLabels: constLabels,
		}, []string{"result"}),
		charges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "voicemeter_usage_charges_total",
			Help:        "Usage charge attempts against the payment provider.",
			ConstLabels: constLabels,
		}, []string{"result"}),
		enforcement: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "voicemeter_enforcement_decisions_total",
			Help:        "Killswitch decisions by action and reason.",
			ConstLabels: constLabels,
		}, []string{"action", "reason"}),
		agentHookErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "voicemeter_agent_hook_failures_total",
			Help:        "Failed notifications to the voice agent controller.",
			ConstLabels: constLabels,
		}, []string{"action"}),
	}

	registerer.MustRegister(
		m.payments,
		m.webhookEvents,
		m.usageCalls,
		m.invoices,
		m.charges,
		m.enforcement,
		m.agentHookErrors,
	)
	return m
}

func (m *Billing) RecordPayment(kind, result string) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(normalizeLabel(kind), normalizeLabel(result)).Inc()
}

func (m *Billing) RecordWebhookEvent(provider, eventType, result string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(normalizeLabel(provider), normalizeLabel(eventType), normalizeLabel(result)).Inc()
}

func (m *Billing) RecordUsageCall(result string) {
	if m == nil {
		return
	}
	m.usageCalls.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *Billing) RecordInvoice(result string) {
	if m == nil {
		return
	}
	m.invoices.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *Billing) RecordCharge(result string) {
	if m == nil {
		return
	}
	m.charges.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *Billing) RecordEnforcement(action, reason string) {
	if m == nil {
		return
	}
	m.enforcement.WithLabelValues(normalizeLabel(action), normalizeLabel(reason)).Inc()
}

func (m *Billing) RecordAgentHookFailure(action string) {
	if m == nil {
		return
	}
	m.agentHookErrors.WithLabelValues(normalizeLabel(action)).Inc()
}

func constLabels(cfg Config) prometheus.Labels {
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "voicemeter"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	return prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}
}

func normalizeLabel(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	return value
}

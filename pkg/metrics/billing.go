package metrics

import "github.com/prometheus/client_golang/prometheus"

// BillingMetrics counts order creation, payment finalization, and webhook
// outcomes. A nil receiver records nothing.
type BillingMetrics struct {
	orders        *prometheus.CounterVec
	finalized     *prometheus.CounterVec
	webhookEvents *prometheus.CounterVec
	signatures    *prometheus.CounterVec
}

// NewBillingMetrics registers the billing metrics on the provided registerer.
func NewBillingMetrics(reg prometheus.Registerer) *BillingMetrics {
	if reg == nil {
		return &BillingMetrics{}
	}
	orders := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "billing",
		Name:      "orders_created_total",
		Help:      "Gateway orders created with a pending invoice.",
	}, []string{"mode"})
	finalized := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "billing",
		Name:      "payments_finalized_total",
		Help:      "Invoices finalized into a completed payment.",
	}, []string{"source", "transition"})
	webhookEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "billing",
		Name:      "webhook_events_total",
		Help:      "Gateway webhook deliveries by event and outcome.",
	}, []string{"event", "outcome"})
	signatures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "billing",
		Name:      "signature_rejections_total",
		Help:      "Rejected payment or webhook signatures.",
	}, []string{"path"})
	reg.MustRegister(orders, finalized, webhookEvents, signatures)
	return &BillingMetrics{
		orders:        orders,
		finalized:     finalized,
		webhookEvents: webhookEvents,
		signatures:    signatures,
	}
}

func (b *BillingMetrics) OrderCreated(mode string) {
	if b == nil || b.orders == nil {
		return
	}
	b.orders.WithLabelValues(normalizeLabel(mode)).Inc()
}

// PaymentFinalized counts a committed finalization by entry point.
func (b *BillingMetrics) PaymentFinalized(source, transition string) {
	if b == nil || b.finalized == nil {
		return
	}
	b.finalized.WithLabelValues(normalizeLabel(source), normalizeLabel(transition)).Inc()
}

func (b *BillingMetrics) WebhookEvent(event, outcome string) {
	if b == nil || b.webhookEvents == nil {
		return
	}
	b.webhookEvents.WithLabelValues(normalizeLabel(event), normalizeLabel(outcome)).Inc()
}

func (b *BillingMetrics) SignatureRejected(path string) {
	if b == nil || b.signatures == nil {
		return
	}
	b.signatures.WithLabelValues(normalizeLabel(path)).Inc()
}

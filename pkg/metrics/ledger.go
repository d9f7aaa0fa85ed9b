package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// LedgerMetrics counts ledger writes by payment method and reversal kind.
type LedgerMetrics struct {
	recorded  *prometheus.CounterVec
	amount    *prometheus.CounterVec
	reversals *prometheus.CounterVec
	rejected  *prometheus.CounterVec
	late      *prometheus.CounterVec
}

// NewLedgerMetrics registers the ledger metrics on reg. A nil registerer
// yields a no-op recorder.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	recorded := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gridpay_payments_recorded_total",
		Help: "Payments written to the ledger.",
	}, []string{"method"})
	amount := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gridpay_payments_recorded_amount",
		Help: "Sum of recorded payment amounts in major currency units.",
	}, []string{"method"})
	reversals := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gridpay_payment_reversals_total",
		Help: "Reversal rows written, by kind.",
	}, []string{"kind"})
	rejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gridpay_payment_rejections_total",
		Help: "Ledger operations rejected by validation, by error code.",
	}, []string{"code"})
	late := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gridpay_gateway_late_captures_total",
		Help: "Gateway captures booked after their pending rows were cancelled or failed.",
	}, []string{"source"})
	reg.MustRegister(recorded, amount, reversals, rejected, late)
	return &LedgerMetrics{
		recorded:  recorded,
		amount:    amount,
		reversals: reversals,
		rejected:  rejected,
		late:      late,
	}
}

// PaymentRecorded counts a new ledger row.
func (m *LedgerMetrics) PaymentRecorded(method string, amount decimal.Decimal) {
	if m == nil || m.recorded == nil {
		return
	}
	label := normalizeLabel(method)
	m.recorded.WithLabelValues(label).Inc()
	if amount.IsPositive() {
		m.amount.WithLabelValues(label).Add(amount.InexactFloat64())
	}
}

// Reversal counts a void or refund row.
func (m *LedgerMetrics) Reversal(kind string) {
	if m == nil || m.reversals == nil {
		return
	}
	m.reversals.WithLabelValues(normalizeLabel(kind)).Inc()
}

// Rejected counts an operation refused with the given error code.
func (m *LedgerMetrics) Rejected(code string) {
	if m == nil || m.rejected == nil {
		return
	}
	m.rejected.WithLabelValues(normalizeLabel(code)).Inc()
}

// LateCapture counts a gateway capture that arrived after its rows closed.
func (m *LedgerMetrics) LateCapture(source string) {
	if m == nil || m.late == nil {
		return
	}
	m.late.WithLabelValues(normalizeLabel(source)).Inc()
}

// normalizeLabel lowercases v and maps blanks to "unknown".
func normalizeLabel(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return "unknown"
	}
	return v
}

package enums

// OutboxAggregateType identifies the ledger aggregate an event describes.
type OutboxAggregateType string

const (
	AggregatePayment OutboxAggregateType = "payment"
	AggregateBill    OutboxAggregateType = "bill"
)

func (a OutboxAggregateType) IsValid() bool {
	return a == AggregatePayment || a == AggregateBill
}

// OutboxEventType names the ledger events published downstream.
type OutboxEventType string

const (
	EventPaymentRecorded      OutboxEventType = "payment_recorded"
	EventPaymentCorrected     OutboxEventType = "payment_corrected"
	EventPaymentVoided        OutboxEventType = "payment_voided"
	EventPaymentRefunded      OutboxEventType = "payment_refunded"
	EventPaymentStatusChanged OutboxEventType = "payment_status_changed"
)

// eventAggregates pins every event type to the aggregate it is keyed by.
var eventAggregates = map[OutboxEventType]OutboxAggregateType{
	EventPaymentRecorded:      AggregatePayment,
	EventPaymentCorrected:     AggregatePayment,
	EventPaymentVoided:        AggregatePayment,
	EventPaymentRefunded:      AggregatePayment,
	EventPaymentStatusChanged: AggregatePayment,
}

func (e OutboxEventType) IsValid() bool {
	_, ok := eventAggregates[e]
	return ok
}

// Aggregate returns the aggregate type e belongs to, or "" when e is unknown.
func (e OutboxEventType) Aggregate() OutboxAggregateType {
	return eventAggregates[e]
}

// OutboxEventTypes lists every known event type.
func OutboxEventTypes() []OutboxEventType {
	out := make([]OutboxEventType, 0, len(eventAggregates))
	for e := range eventAggregates {
		out = append(out, e)
	}
	return out
}

// OutboxDLQErrorReason explains why a ledger event was dead-lettered.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

func (r OutboxDLQErrorReason) IsValid() bool {
	return r == OutboxDLQReasonMaxAttempts || r == OutboxDLQReasonNonRetryable
}

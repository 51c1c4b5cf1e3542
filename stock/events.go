package stock

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// EVENTS - Post-commit notifications
// =============================================================================

type EventType string

const (
	EventDoseScheduled        EventType = "dose.scheduled"
	EventAppointmentCancelled EventType = "appointment.cancelled"
	EventDoseAdministered     EventType = "dose.administered"
	EventTransferCreated      EventType = "transfer.created"
	EventTransferConfirmed    EventType = "transfer.confirmed"
	EventTransferRejected     EventType = "transfer.rejected"
	EventTransferCancelled    EventType = "transfer.cancelled"
	EventStockCritical        EventType = "stock.critical"
	EventLotExpired           EventType = "lot.expired"
)

// Event carries enough data for a notification collaborator to render a
// message without calling back into the core.
type Event struct {
	Type        EventType         `json:"type"`
	OccurredAt  time.Time         `json:"occurred_at"`
	VaccineID   VaccineID         `json:"vaccine_id,omitempty"`
	VaccineName string            `json:"vaccine_name,omitempty"`
	Quantity    int64             `json:"quantity,omitempty"`
	Scope       *Scope            `json:"scope,omitempty"`
	ScopeName   string            `json:"scope_name,omitempty"`
	ToScope     *Scope            `json:"to_scope,omitempty"`
	ToScopeName string            `json:"to_scope_name,omitempty"`
	Date        Date              `json:"date,omitempty"`
	Reference   string            `json:"reference,omitempty"` // transfer, appointment or lot id
	Actor       string            `json:"actor,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// Notifier delivers events outside the core. Failures never propagate back
// into the operation that produced the event.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, event Event) error

func (f NotifierFunc) Notify(ctx context.Context, event Event) error { return f(ctx, event) }

// Outbox collects events while a transaction runs. Flush is called only
// after the transaction committed; a rolled-back attempt discards its outbox.
type Outbox struct {
	events []Event
}

func (o *Outbox) Add(e Event) { o.events = append(o.events, e) }

func (o *Outbox) Events() []Event { return o.events }

// Flush dispatches the collected events, logging and swallowing failures.
func (o *Outbox) Flush(ctx context.Context, n Notifier, log *zap.Logger) {
	if n == nil || len(o.events) == 0 {
		return
	}
	if log == nil {
		log = zap.NewNop()
	}
	for _, e := range o.events {
		if err := n.Notify(ctx, e); err != nil {
			log.Warn("notification dropped",
				zap.String("event", string(e.Type)),
				zap.String("reference", e.Reference),
				zap.Error(err))
		}
	}
	o.events = nil
}

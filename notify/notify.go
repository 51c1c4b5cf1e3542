/*
notify.go - Post-commit notification delivery

PURPOSE:
  Implementations of stock.Notifier. The core hands every committed event
  to one notifier; Dispatcher fans it out to several sinks so a log line
  and a Redis stream entry can both be produced for the same event.

SINKS:
  LogNotifier          writes each event as a structured zap entry
  RedisStreamNotifier  XADDs each event as JSON onto a Redis stream
  stock.NotifierFunc   ad-hoc sinks (tests, scenario recorders)

FAILURE MODEL:
  Delivery is fire-and-forget from the core's perspective. Dispatcher
  tries every sink, joins the errors, and the caller (stock.Outbox.Flush)
  logs them without failing the operation.

SEE ALSO:
  - stock/events.go: Event, Notifier, Outbox
  - observability/metrics.go: notification counters
*/
package notify

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/warp/vaccine-stock/stock"
)

// DeliveryObserver counts deliveries per sink. observability.Metrics
// implements it.
type DeliveryObserver interface {
	ObserveNotification(sink, eventType string, err error)
}

type sink struct {
	name     string
	notifier stock.Notifier
}

// Dispatcher delivers each event to every registered sink in order.
type Dispatcher struct {
	sinks    []sink
	observer DeliveryObserver
}

func NewDispatcher(observer DeliveryObserver) *Dispatcher {
	return &Dispatcher{observer: observer}
}

// Add registers a sink under a name used in metrics. Nil notifiers are
// skipped so optional sinks can be passed unconditionally.
func (d *Dispatcher) Add(name string, n stock.Notifier) *Dispatcher {
	if n != nil {
		d.sinks = append(d.sinks, sink{name: name, notifier: n})
	}
	return d
}

// Len returns the number of registered sinks.
func (d *Dispatcher) Len() int { return len(d.sinks) }

func (d *Dispatcher) Notify(ctx context.Context, event stock.Event) error {
	var errs []error
	for _, s := range d.sinks {
		err := s.notifier.Notify(ctx, event)
		if d.observer != nil {
			d.observer.ObserveNotification(s.name, string(event.Type), err)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// =============================================================================
// LOG SINK
// =============================================================================

// LogNotifier renders events as log entries.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogNotifier{log: log.Named("events")}
}

func (n *LogNotifier) Notify(_ context.Context, e stock.Event) error {
	fields := []zap.Field{
		zap.String("event", string(e.Type)),
		zap.Time("occurred_at", e.OccurredAt),
	}
	if e.VaccineID != "" {
		fields = append(fields, zap.String("vaccine_id", string(e.VaccineID)), zap.String("vaccine", e.VaccineName))
	}
	if e.Quantity != 0 {
		fields = append(fields, zap.Int64("quantity", e.Quantity))
	}
	if e.Scope != nil {
		fields = append(fields, zap.Stringer("scope", *e.Scope), zap.String("scope_name", e.ScopeName))
	}
	if e.ToScope != nil {
		fields = append(fields, zap.Stringer("to_scope", *e.ToScope), zap.String("to_scope_name", e.ToScopeName))
	}
	if !e.Date.IsZero() {
		fields = append(fields, zap.Stringer("date", e.Date))
	}
	if e.Reference != "" {
		fields = append(fields, zap.String("reference", e.Reference))
	}
	if e.Actor != "" {
		fields = append(fields, zap.String("actor", e.Actor))
	}
	for k, v := range e.Attributes {
		fields = append(fields, zap.String("attr."+k, v))
	}

	if e.Type == stock.EventStockCritical || e.Type == stock.EventLotExpired {
		n.log.Warn(Message(e), fields...)
		return nil
	}
	n.log.Info(Message(e), fields...)
	return nil
}

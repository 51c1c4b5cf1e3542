package notify

import (
	"fmt"

	"github.com/warp/vaccine-stock/stock"
)

// Message renders a one-line, human readable summary of an event.
func Message(e stock.Event) string {
	vaccine := e.VaccineName
	if vaccine == "" {
		vaccine = string(e.VaccineID)
	}
	from := placeName(e.Scope, e.ScopeName)
	to := placeName(e.ToScope, e.ToScopeName)

	switch e.Type {
	case stock.EventDoseScheduled:
		return fmt.Sprintf("%s dose %s scheduled at %s on %s", vaccine, e.Attributes["dose"], from, e.Date)
	case stock.EventAppointmentCancelled:
		return fmt.Sprintf("%s appointment at %s on %s cancelled", vaccine, from, e.Date)
	case stock.EventDoseAdministered:
		return fmt.Sprintf("%s dose %s administered at %s", vaccine, e.Attributes["dose"], from)
	case stock.EventTransferCreated:
		return fmt.Sprintf("%d doses of %s sent from %s to %s", e.Quantity, vaccine, from, to)
	case stock.EventTransferConfirmed:
		return fmt.Sprintf("%d doses of %s received at %s from %s", e.Quantity, vaccine, to, from)
	case stock.EventTransferRejected:
		return fmt.Sprintf("%s rejected %d doses of %s from %s", to, e.Quantity, vaccine, from)
	case stock.EventTransferCancelled:
		return fmt.Sprintf("transfer of %d doses of %s from %s to %s cancelled", e.Quantity, vaccine, from, to)
	case stock.EventStockCritical:
		return fmt.Sprintf("%s stock at %s is critical: %d doses left", vaccine, from, e.Quantity)
	case stock.EventLotExpired:
		return fmt.Sprintf("lot %s of %s at %s expired with %d doses", e.Reference, vaccine, from, e.Quantity)
	default:
		return string(e.Type)
	}
}

func placeName(s *stock.Scope, name string) string {
	switch {
	case name != "":
		return name
	case s != nil:
		return s.String()
	default:
		return "unknown"
	}
}

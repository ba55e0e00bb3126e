package schedule

import (
	"time"

	"github.com/AmanAhmed2002/TTCFareSite/model"
)

// Calendar evaluation shared by both backends. The snapshot backend
// feeds it rows selected by SQL, the archive backend feeds it rows
// streamed from the tables; the semantics must not diverge.

// evalActiveServices applies the weekday pattern within the calendar
// date range, then the exceptions for the date. Exception rows apply
// in table order with the last row winning per service, after which
// added services are inserted and removed services deleted. A removal
// therefore beats an addition for the same service and date.
func evalActiveServices(date string, cals []model.Calendar, dates []model.CalendarDate) map[string]bool {
	active := map[string]bool{}

	day, err := time.Parse("20060102", date)
	if err != nil {
		return active
	}
	bit := int8(1) << day.Weekday()

	for _, c := range cals {
		if c.Weekday&bit == 0 {
			continue
		}
		if c.StartDate > date || c.EndDate < date {
			continue
		}
		active[c.ServiceID] = true
	}

	final := map[string]int8{}
	order := []string{}
	for _, cd := range dates {
		if cd.Date != date {
			continue
		}
		if _, seen := final[cd.ServiceID]; !seen {
			order = append(order, cd.ServiceID)
		}
		final[cd.ServiceID] = cd.ExceptionType
	}

	for _, sid := range order {
		if final[sid] == 1 {
			active[sid] = true
		}
	}
	for _, sid := range order {
		if final[sid] == 2 {
			delete(active, sid)
		}
	}

	return active
}

package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/AmanAhmed2002/TTCFareSite/model"
)

func weekdayBits(days ...time.Weekday) int8 {
	var bits int8
	for _, d := range days {
		bits |= 1 << d
	}
	return bits
}

// 20250707 is a Monday.
const monday = "20250707"

func TestEvalActiveServicesWeekdayPattern(t *testing.T) {
	cals := []model.Calendar{
		{ServiceID: "weekdays", StartDate: "20250101", EndDate: "20261231",
			Weekday: weekdayBits(time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday)},
		{ServiceID: "weekend", StartDate: "20250101", EndDate: "20261231",
			Weekday: weekdayBits(time.Saturday, time.Sunday)},
	}

	active := evalActiveServices(monday, cals, nil)
	assert.Equal(t, map[string]bool{"weekdays": true}, active)

	active = evalActiveServices("20250712", cals, nil) // Saturday
	assert.Equal(t, map[string]bool{"weekend": true}, active)
}

func TestEvalActiveServicesDateRange(t *testing.T) {
	everyday := weekdayBits(time.Sunday, time.Monday, time.Tuesday, time.Wednesday,
		time.Thursday, time.Friday, time.Saturday)

	cals := []model.Calendar{
		{ServiceID: "expired", StartDate: "20240101", EndDate: "20241231", Weekday: everyday},
		{ServiceID: "future", StartDate: "20270101", EndDate: "20271231", Weekday: everyday},
		{ServiceID: "current", StartDate: monday, EndDate: monday, Weekday: everyday},
	}

	active := evalActiveServices(monday, cals, nil)
	assert.Equal(t, map[string]bool{"current": true}, active)
}

func TestEvalActiveServicesExceptions(t *testing.T) {
	cals := []model.Calendar{
		{ServiceID: "weekdays", StartDate: "20250101", EndDate: "20261231",
			Weekday: weekdayBits(time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday)},
	}
	dates := []model.CalendarDate{
		{ServiceID: "weekdays", Date: monday, ExceptionType: 2},
		{ServiceID: "holiday", Date: monday, ExceptionType: 1},
		{ServiceID: "holiday", Date: "20251225", ExceptionType: 1},
	}

	active := evalActiveServices(monday, cals, dates)
	assert.Equal(t, map[string]bool{"holiday": true}, active)
}

func TestEvalActiveServicesLastExceptionRowWins(t *testing.T) {
	cals := []model.Calendar{}

	// Added then removed: the removal is final.
	active := evalActiveServices(monday, cals, []model.CalendarDate{
		{ServiceID: "s", Date: monday, ExceptionType: 1},
		{ServiceID: "s", Date: monday, ExceptionType: 2},
	})
	assert.Empty(t, active)

	// Removed then added: the addition is final.
	active = evalActiveServices(monday, cals, []model.CalendarDate{
		{ServiceID: "s", Date: monday, ExceptionType: 2},
		{ServiceID: "s", Date: monday, ExceptionType: 1},
	})
	assert.Equal(t, map[string]bool{"s": true}, active)
}

func TestEvalActiveServicesIgnoresOtherDates(t *testing.T) {
	dates := []model.CalendarDate{
		{ServiceID: "s", Date: "20250708", ExceptionType: 1},
	}

	active := evalActiveServices(monday, nil, dates)
	assert.Empty(t, active)
}

func TestEvalActiveServicesBadDate(t *testing.T) {
	active := evalActiveServices("not-a-date", []model.Calendar{
		{ServiceID: "s", StartDate: "20250101", EndDate: "20261231", Weekday: weekdayBits(time.Monday)},
	}, nil)
	assert.Empty(t, active)
}

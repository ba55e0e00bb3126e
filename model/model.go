package model

import (
	"strings"
	"time"
)

// Holds the entity types shared by the schedule index, realtime
// adapter and arrival assembler.

type LocationType int

const (
	LocationTypeStop LocationType = iota
	LocationTypeStation
)

type Stop struct {
	ID            string
	Code          string
	Name          string
	Lat           float64
	Lon           float64
	LocationType  LocationType
	ParentStation string
}

type Route struct {
	ID        string
	ShortName string
	LongName  string
}

// DisplayName is the short name when set, otherwise the long name.
func (r Route) DisplayName() string {
	if s := strings.TrimSpace(r.ShortName); s != "" {
		return s
	}
	return strings.TrimSpace(r.LongName)
}

type Trip struct {
	ID        string
	RouteID   string
	ServiceID string
	Headsign  string
}

// StopTime pins a trip to a stop at a departure offset. DepartureSecs
// is seconds since local midnight of the service day and may exceed
// 86400 for trips that run past midnight. It is never normalized.
type StopTime struct {
	TripID        string
	StopID        string
	DepartureSecs int
}

type Calendar struct {
	ServiceID string
	StartDate string // YYYYMMDD, inclusive
	EndDate   string // YYYYMMDD, inclusive
	Weekday   int8   // bitmask, 1<<time.Weekday
}

type CalendarDate struct {
	ServiceID     string
	Date          string // YYYYMMDD
	ExceptionType int8   // 1 = added, 2 = removed
}

// A scheduled departure from a stop, before conversion to wall-clock
// time.
type Departure struct {
	TripID        string
	StopID        string
	DepartureSecs int
}

// Route display name and headsign for a trip, joined through the
// trips and routes tables.
type TripRoute struct {
	RouteName string
	Headsign  string
}

// An arrival record as served to callers. Time is absolute; Realtime
// distinguishes live predictions from schedule-derived results.
type Arrival struct {
	Route    string    `json:"route"`
	Headsign string    `json:"headsign,omitempty"`
	Time     time.Time `json:"time"`
	Realtime bool      `json:"realtime"`
}

// A service alert, decoded from the alerts feed.
type Alert struct {
	Header      string `json:"header"`
	Description string `json:"description,omitempty"`
}

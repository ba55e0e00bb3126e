package parse

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
	"github.com/spkg/bom"

	"github.com/AmanAhmed2002/TTCFareSite/model"
)

// Streaming readers for the delimited schedule tables. Each function
// makes a single forward pass over its input, invoking the callback
// per row, so peak memory stays proportional to what the caller
// retains, not to table size. stop_times.txt in particular can run to
// hundreds of megabytes.

var csvSetup sync.Once

func configureCSV() {
	csvSetup.Do(func() {
		// LazyCSVReader survives sloppy quoting; the BOM reader
		// strips unicode BOMs some agencies prepend.
		gocsv.SetCSVReader(func(in io.Reader) gocsv.CSVReader {
			return gocsv.LazyCSVReader(bom.NewReader(in))
		})
	})
}

type stopCSV struct {
	ID            string  `csv:"stop_id"`
	Code          string  `csv:"stop_code"`
	Name          string  `csv:"stop_name"`
	Lat           float64 `csv:"stop_lat"`
	Lon           float64 `csv:"stop_lon"`
	LocationType  int8    `csv:"location_type"`
	ParentStation string  `csv:"parent_station"`
}

func Stops(data io.Reader, each func(model.Stop) error) error {
	configureCSV()
	return gocsv.UnmarshalToCallbackWithError(data, func(s *stopCSV) error {
		if s.ID == "" {
			return fmt.Errorf("empty stop_id")
		}
		return each(model.Stop{
			ID:            s.ID,
			Code:          s.Code,
			Name:          s.Name,
			Lat:           s.Lat,
			Lon:           s.Lon,
			LocationType:  model.LocationType(s.LocationType),
			ParentStation: s.ParentStation,
		})
	})
}

type routeCSV struct {
	ID        string `csv:"route_id"`
	ShortName string `csv:"route_short_name"`
	LongName  string `csv:"route_long_name"`
}

func Routes(data io.Reader, each func(model.Route) error) error {
	configureCSV()
	return gocsv.UnmarshalToCallbackWithError(data, func(r *routeCSV) error {
		if r.ID == "" {
			return fmt.Errorf("route has no route_id")
		}
		return each(model.Route{
			ID:        r.ID,
			ShortName: r.ShortName,
			LongName:  r.LongName,
		})
	})
}

type tripCSV struct {
	ID        string `csv:"trip_id"`
	RouteID   string `csv:"route_id"`
	ServiceID string `csv:"service_id"`
	Headsign  string `csv:"trip_headsign"`
}

func Trips(data io.Reader, each func(model.Trip) error) error {
	configureCSV()
	return gocsv.UnmarshalToCallbackWithError(data, func(t *tripCSV) error {
		if t.ID == "" {
			return fmt.Errorf("empty trip_id")
		}
		return each(model.Trip{
			ID:        t.ID,
			RouteID:   t.RouteID,
			ServiceID: t.ServiceID,
			Headsign:  t.Headsign,
		})
	})
}

type stopTimeCSV struct {
	TripID        string `csv:"trip_id"`
	StopID        string `csv:"stop_id"`
	DepartureTime string `csv:"departure_time"`
}

func StopTimes(data io.Reader, each func(model.StopTime) error) error {
	configureCSV()
	i := 0
	return gocsv.UnmarshalToCallbackWithError(data, func(st *stopTimeCSV) error {
		i++
		if st.TripID == "" || st.StopID == "" {
			return fmt.Errorf("missing trip_id or stop_id (row %d)", i)
		}
		secs, err := DepartureSeconds(st.DepartureTime)
		if err != nil {
			return errors.Wrapf(err, "parsing departure_time (row %d)", i)
		}
		return each(model.StopTime{
			TripID:        st.TripID,
			StopID:        st.StopID,
			DepartureSecs: secs,
		})
	})
}

type calendarCSV struct {
	ServiceID string `csv:"service_id"`
	StartDate string `csv:"start_date"`
	EndDate   string `csv:"end_date"`
	Monday    int8   `csv:"monday"`
	Tuesday   int8   `csv:"tuesday"`
	Wednesday int8   `csv:"wednesday"`
	Thursday  int8   `csv:"thursday"`
	Friday    int8   `csv:"friday"`
	Saturday  int8   `csv:"saturday"`
	Sunday    int8   `csv:"sunday"`
}

func Calendars(data io.Reader, each func(model.Calendar) error) error {
	configureCSV()
	return gocsv.UnmarshalToCallbackWithError(data, func(c *calendarCSV) error {
		if c.ServiceID == "" {
			return fmt.Errorf("empty service_id")
		}
		var weekday int8
		for day, set := range map[int]int8{
			1: c.Monday, 2: c.Tuesday, 3: c.Wednesday, 4: c.Thursday,
			5: c.Friday, 6: c.Saturday, 0: c.Sunday,
		} {
			if set == 1 {
				weekday |= 1 << day
			}
		}
		return each(model.Calendar{
			ServiceID: c.ServiceID,
			StartDate: c.StartDate,
			EndDate:   c.EndDate,
			Weekday:   weekday,
		})
	})
}

type calendarDateCSV struct {
	ServiceID     string `csv:"service_id"`
	Date          string `csv:"date"`
	ExceptionType int8   `csv:"exception_type"`
}

func CalendarDates(data io.Reader, each func(model.CalendarDate) error) error {
	configureCSV()
	return gocsv.UnmarshalToCallbackWithError(data, func(cd *calendarDateCSV) error {
		if cd.ExceptionType < 1 || cd.ExceptionType > 2 {
			return fmt.Errorf("illegal exception_type: '%d'", cd.ExceptionType)
		}
		return each(model.CalendarDate{
			ServiceID:     cd.ServiceID,
			Date:          cd.Date,
			ExceptionType: cd.ExceptionType,
		})
	})
}

// DepartureSeconds parses a GTFS H:MM:SS time-of-day into seconds
// since local midnight. Hours past 23 are legal and preserved, so
// "25:30:00" yields 91800.
func DepartureSeconds(s string) (int, error) {
	split := strings.Split(strings.TrimSpace(s), ":")
	if len(split) != 3 {
		return 0, fmt.Errorf("found %d parts in '%s'", len(split), s)
	}

	hms := [3]int{}
	for i, str := range split {
		j, err := strconv.Atoi(str)
		if err != nil {
			return 0, fmt.Errorf("non-integer in '%s' pos %d", s, i)
		}
		hms[i] = j
	}

	if hms[0] < 0 || hms[0] > 99 {
		return 0, fmt.Errorf("invalid hour in '%s'", s)
	}
	if hms[1] < 0 || hms[1] > 59 {
		return 0, fmt.Errorf("invalid minute in '%s'", s)
	}
	if hms[2] < 0 || hms[2] > 59 {
		return 0, fmt.Errorf("invalid second in '%s'", s)
	}

	return hms[0]*3600 + hms[1]*60 + hms[2], nil
}

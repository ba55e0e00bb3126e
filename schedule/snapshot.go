package schedule

import (
	"context"
	"database/sql"
	"log"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/AmanAhmed2002/TTCFareSite/fetch"
	"github.com/AmanAhmed2002/TTCFareSite/model"
)

// Snapshot queries the prebuilt indexed snapshot of the static
// schedule. The file is produced by an external ingestion tool; this
// backend opens it read-only, exactly once, and keeps the handle for
// the process lifetime. database/sql makes concurrent reads safe.
type Snapshot struct {
	URL     string
	Fetcher *fetch.Manager
	Logger  *log.Logger

	mutex sync.Mutex
	db    *sql.DB
}

func NewSnapshot(fetcher *fetch.Manager, url string, logger *log.Logger) *Snapshot {
	return &Snapshot{
		URL:     url,
		Fetcher: fetcher,
		Logger:  logger,
	}
}

// Ready reports whether the snapshot has been opened. Read paths
// check this and fall back to the archive backend instead of
// blocking on a download.
func (s *Snapshot) Ready() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.db != nil
}

// Open ensures a local snapshot copy and opens it. Idempotent; the
// priming loop calls it until it succeeds.
func (s *Snapshot) Open(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.db != nil {
		return nil
	}

	path, err := s.Fetcher.EnsureLocal(ctx, s.URL, fetch.KindSnapshot)
	if err != nil {
		return err
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return errors.Wrap(err, "opening snapshot")
	}

	// A snapshot without the core tables is unusable.
	var n int
	err = db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM sqlite_master
WHERE type = 'table' AND name IN ('stops', 'routes', 'trips', 'stop_times', 'calendar')`).Scan(&n)
	if err != nil {
		db.Close()
		return errors.Wrap(err, "probing snapshot")
	}
	if n < 5 {
		db.Close()
		return errors.Wrap(ErrBadData, "snapshot missing core tables")
	}

	s.db = db
	return nil
}

func (s *Snapshot) handle() *sql.DB {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.db
}

func (s *Snapshot) ExpandStation(ctx context.Context, stopID string) ([]string, error) {
	db := s.handle()
	if db == nil {
		return []string{stopID}, nil
	}

	var locationType int
	err := db.QueryRowContext(ctx, `SELECT location_type FROM stops WHERE id = ?`, stopID).Scan(&locationType)
	if err == sql.ErrNoRows {
		return []string{stopID}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "querying stop")
	}
	if model.LocationType(locationType) != model.LocationTypeStation {
		return []string{stopID}, nil
	}

	rows, err := db.QueryContext(ctx, `SELECT id FROM stops WHERE parent_station = ? ORDER BY id`, stopID)
	if err != nil {
		return nil, errors.Wrap(err, "querying platforms")
	}
	defer rows.Close()

	children := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scanning platform")
		}
		children = append(children, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "reading platforms")
	}

	if len(children) == 0 {
		return []string{stopID}, nil
	}
	return children, nil
}

func (s *Snapshot) ActiveServices(ctx context.Context, date string) (map[string]bool, error) {
	db := s.handle()
	if db == nil {
		return map[string]bool{}, nil
	}

	rows, err := db.QueryContext(ctx, `
SELECT service_id, start_date, end_date,
       monday, tuesday, wednesday, thursday, friday, saturday, sunday
FROM calendar
WHERE start_date <= ? AND end_date >= ?`, date, date)
	if err != nil {
		return nil, errors.Wrap(err, "querying calendar")
	}
	defer rows.Close()

	cals := []model.Calendar{}
	for rows.Next() {
		var c model.Calendar
		var mon, tue, wed, thu, fri, sat, sun int8
		err := rows.Scan(&c.ServiceID, &c.StartDate, &c.EndDate,
			&mon, &tue, &wed, &thu, &fri, &sat, &sun)
		if err != nil {
			return nil, errors.Wrap(err, "scanning calendar")
		}
		for day, set := range map[int]int8{
			1: mon, 2: tue, 3: wed, 4: thu, 5: fri, 6: sat, 0: sun,
		} {
			if set == 1 {
				c.Weekday |= 1 << day
			}
		}
		cals = append(cals, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "reading calendar")
	}

	// rowid order preserves the table order the exceptions were
	// ingested in; later rows override earlier ones.
	dates := []model.CalendarDate{}
	drows, err := db.QueryContext(ctx, `
SELECT service_id, date, exception_type
FROM calendar_dates
WHERE date = ?
ORDER BY rowid`, date)
	if err == nil {
		defer drows.Close()
		for drows.Next() {
			var cd model.CalendarDate
			if err := drows.Scan(&cd.ServiceID, &cd.Date, &cd.ExceptionType); err != nil {
				return nil, errors.Wrap(err, "scanning calendar date")
			}
			dates = append(dates, cd)
		}
		if err := drows.Err(); err != nil {
			return nil, errors.Wrap(err, "reading calendar dates")
		}
	}
	// A snapshot without calendar_dates simply has no exceptions.

	return evalActiveServices(date, cals, dates), nil
}

func (s *Snapshot) UpcomingDepartures(ctx context.Context, stopIDs []string, now time.Time, horizon time.Duration) ([]model.Departure, error) {
	db := s.handle()
	if db == nil || len(stopIDs) == 0 {
		return []model.Departure{}, nil
	}

	active, err := s.ActiveServices(ctx, now.Format("20060102"))
	if err != nil {
		return nil, err
	}

	lo := secondsOfDay(now)
	hi := lo + int(horizon/time.Second)

	params := []interface{}{}
	for _, id := range stopIDs {
		params = append(params, id)
	}
	params = append(params, lo, hi)

	rows, err := db.QueryContext(ctx, `
SELECT st.trip_id, st.stop_id, st.departure_secs, t.service_id
FROM stop_times st
INNER JOIN trips t ON t.id = st.trip_id
WHERE st.stop_id IN (`+placeholders(len(stopIDs))+`)
  AND st.departure_secs BETWEEN ? AND ?
ORDER BY st.departure_secs`, params...)
	if err != nil {
		return nil, errors.Wrap(err, "querying stop times")
	}
	defer rows.Close()

	deps := []model.Departure{}
	for rows.Next() {
		var d model.Departure
		var serviceID string
		if err := rows.Scan(&d.TripID, &d.StopID, &d.DepartureSecs, &serviceID); err != nil {
			return nil, errors.Wrap(err, "scanning stop time")
		}
		if !active[serviceID] {
			continue
		}
		deps = append(deps, d)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "reading stop times")
	}

	return dedupeDepartures(deps), nil
}

func (s *Snapshot) RouteNames(ctx context.Context, routeIDs []string) (map[string]string, error) {
	db := s.handle()
	names := map[string]string{}
	if db == nil || len(routeIDs) == 0 {
		return names, nil
	}

	params := []interface{}{}
	for _, id := range routeIDs {
		params = append(params, id)
	}

	rows, err := db.QueryContext(ctx, `
SELECT id, short_name, long_name
FROM routes
WHERE id IN (`+placeholders(len(routeIDs))+`)`, params...)
	if err != nil {
		return nil, errors.Wrap(err, "querying routes")
	}
	defer rows.Close()

	for rows.Next() {
		var r model.Route
		if err := rows.Scan(&r.ID, &r.ShortName, &r.LongName); err != nil {
			return nil, errors.Wrap(err, "scanning route")
		}
		if name := r.DisplayName(); name != "" {
			names[r.ID] = name
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "reading routes")
	}

	return names, nil
}

func (s *Snapshot) TripRoutes(ctx context.Context, tripIDs []string) (map[string]model.TripRoute, error) {
	db := s.handle()
	out := map[string]model.TripRoute{}
	if db == nil || len(tripIDs) == 0 {
		return out, nil
	}

	params := []interface{}{}
	for _, id := range tripIDs {
		params = append(params, id)
	}

	rows, err := db.QueryContext(ctx, `
SELECT t.id, t.headsign, r.short_name, r.long_name
FROM trips t
INNER JOIN routes r ON r.id = t.route_id
WHERE t.id IN (`+placeholders(len(tripIDs))+`)`, params...)
	if err != nil {
		return nil, errors.Wrap(err, "querying trips")
	}
	defer rows.Close()

	for rows.Next() {
		var tripID, headsign string
		var r model.Route
		if err := rows.Scan(&tripID, &headsign, &r.ShortName, &r.LongName); err != nil {
			return nil, errors.Wrap(err, "scanning trip")
		}
		out[tripID] = model.TripRoute{
			RouteName: r.DisplayName(),
			Headsign:  headsign,
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "reading trips")
	}

	return out, nil
}

func (s *Snapshot) SearchStops(ctx context.Context, tokens []string) ([]model.Stop, error) {
	db := s.handle()
	if db == nil || len(tokens) == 0 {
		return []model.Stop{}, nil
	}

	conditions := []string{}
	params := []interface{}{}
	for _, tok := range tokens {
		conditions = append(conditions, "instr(lower(name), ?) > 0")
		params = append(params, strings.ToLower(tok))
	}

	rows, err := db.QueryContext(ctx, `
SELECT id, code, name, lat, lon, location_type, parent_station
FROM stops
WHERE `+strings.Join(conditions, " AND ")+`
ORDER BY name`, params...)
	if err != nil {
		return nil, errors.Wrap(err, "querying stops")
	}
	defer rows.Close()

	stops := []model.Stop{}
	for rows.Next() {
		var st model.Stop
		var locationType int
		err := rows.Scan(&st.ID, &st.Code, &st.Name, &st.Lat, &st.Lon, &locationType, &st.ParentStation)
		if err != nil {
			return nil, errors.Wrap(err, "scanning stop")
		}
		st.LocationType = model.LocationType(locationType)
		stops = append(stops, st)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "reading stops")
	}

	return stops, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

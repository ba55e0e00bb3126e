package schedule

import (
	"archive/zip"
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/AmanAhmed2002/TTCFareSite/fetch"
	"github.com/AmanAhmed2002/TTCFareSite/model"
	"github.com/AmanAhmed2002/TTCFareSite/parse"
)

// Archive answers schedule queries by parsing the compressed archive
// of delimited tables on demand, used while the indexed snapshot
// isn't ready. Every query is a chain of forward single-pass scans,
// each narrowed by the ID sets the previous stage produced, so peak
// memory tracks the result size rather than the dataset size.
type Archive struct {
	URL     string
	Fetcher *fetch.Manager
	Logger  *log.Logger

	cache *resultCache
}

func NewArchive(fetcher *fetch.Manager, url string, logger *log.Logger) *Archive {
	return &Archive{
		URL:     url,
		Fetcher: fetcher,
		Logger:  logger,
		cache:   newResultCache(resultCacheSize, resultCacheTTL),
	}
}

// Ready reports whether a local archive copy exists.
func (a *Archive) Ready() bool {
	if a.URL == "" {
		return false
	}
	fi, err := os.Stat(a.Fetcher.LocalPath(a.URL, fetch.KindArchive))
	return err == nil && fi.Size() > 0
}

// open ensures a local copy and opens it. A nil reader with nil
// error means the artifact isn't obtainable yet; queries degrade to
// empty results in that case.
func (a *Archive) open(ctx context.Context) (*zip.ReadCloser, error) {
	path, err := a.Fetcher.EnsureLocal(ctx, a.URL, fetch.KindArchive)
	if err != nil {
		if a.Logger != nil {
			a.Logger.Printf("archive unavailable: %v", err)
		}
		return nil, nil
	}

	z, err := zip.OpenReader(path)
	if err != nil {
		return nil, errors.Wrapf(ErrBadData, "opening archive: %v", err)
	}
	return z, nil
}

var errMissingTable = errors.New("table not in archive")

// scanTable locates a table by basename and streams it through fn.
// Some agencies nest files in a subdirectory, so only the basename is
// matched.
func scanTable(z *zip.ReadCloser, name string, fn func(r *zip.File) error) error {
	for _, f := range z.File {
		if f.FileInfo().IsDir() {
			continue
		}
		path := strings.Split(f.Name, "/")
		if path[len(path)-1] == name {
			return fn(f)
		}
	}
	return errMissingTable
}

func (a *Archive) ExpandStation(ctx context.Context, stopID string) ([]string, error) {
	key := "expand|" + stopID
	if v, ok := a.cache.get(key); ok {
		return v.([]string), nil
	}

	z, err := a.open(ctx)
	if err != nil {
		return nil, err
	}
	if z == nil {
		return []string{stopID}, nil
	}
	defer z.Close()

	isStation := false
	children := []string{}
	err = scanTable(z, "stops.txt", func(f *zip.File) error {
		rc, err := f.Open()
		if err != nil {
			return errors.Wrap(err, "opening stops.txt")
		}
		defer rc.Close()
		return parse.Stops(rc, func(s model.Stop) error {
			if s.ID == stopID && s.LocationType == model.LocationTypeStation {
				isStation = true
			}
			if s.ParentStation == stopID {
				children = append(children, s.ID)
			}
			return nil
		})
	})
	if err == errMissingTable {
		return nil, errors.Wrap(ErrBadData, "missing stops.txt")
	}
	if err != nil {
		return nil, errors.Wrapf(ErrBadData, "scanning stops: %v", err)
	}

	result := []string{stopID}
	if isStation && len(children) > 0 {
		result = children
	}
	a.cache.put(key, result)
	return result, nil
}

func (a *Archive) ActiveServices(ctx context.Context, date string) (map[string]bool, error) {
	key := "services|" + date
	if v, ok := a.cache.get(key); ok {
		return v.(map[string]bool), nil
	}

	z, err := a.open(ctx)
	if err != nil {
		return nil, err
	}
	if z == nil {
		return map[string]bool{}, nil
	}
	defer z.Close()

	active, err := a.activeServices(z, date)
	if err != nil {
		return nil, err
	}

	a.cache.put(key, active)
	return active, nil
}

func (a *Archive) activeServices(z *zip.ReadCloser, date string) (map[string]bool, error) {
	cals := []model.Calendar{}
	err := scanTable(z, "calendar.txt", func(f *zip.File) error {
		rc, err := f.Open()
		if err != nil {
			return errors.Wrap(err, "opening calendar.txt")
		}
		defer rc.Close()
		return parse.Calendars(rc, func(c model.Calendar) error {
			// Rows outside the date range can't matter.
			if c.StartDate <= date && c.EndDate >= date {
				cals = append(cals, c)
			}
			return nil
		})
	})
	if err == errMissingTable {
		return nil, errors.Wrap(ErrBadData, "missing calendar.txt")
	}
	if err != nil {
		return nil, errors.Wrapf(ErrBadData, "scanning calendar: %v", err)
	}

	dates := []model.CalendarDate{}
	err = scanTable(z, "calendar_dates.txt", func(f *zip.File) error {
		rc, err := f.Open()
		if err != nil {
			return errors.Wrap(err, "opening calendar_dates.txt")
		}
		defer rc.Close()
		return parse.CalendarDates(rc, func(cd model.CalendarDate) error {
			if cd.Date == date {
				dates = append(dates, cd)
			}
			return nil
		})
	})
	if err != nil && err != errMissingTable {
		// A feed without calendar_dates.txt simply has no
		// exceptions; anything else is malformed.
		return nil, errors.Wrapf(ErrBadData, "scanning calendar dates: %v", err)
	}

	return evalActiveServices(date, cals, dates), nil
}

func (a *Archive) UpcomingDepartures(ctx context.Context, stopIDs []string, now time.Time, horizon time.Duration) ([]model.Departure, error) {
	if len(stopIDs) == 0 {
		return []model.Departure{}, nil
	}

	date := now.Format("20060102")
	lo := secondsOfDay(now)
	hi := lo + int(horizon/time.Second)

	key := fmt.Sprintf("departures|%s|%s|%d|%d", strings.Join(stopIDs, ","), date, lo, hi)
	if v, ok := a.cache.get(key); ok {
		return v.([]model.Departure), nil
	}

	z, err := a.open(ctx)
	if err != nil {
		return nil, err
	}
	if z == nil {
		return []model.Departure{}, nil
	}
	defer z.Close()

	active, err := a.activeServices(z, date)
	if err != nil {
		return nil, err
	}

	wanted := map[string]bool{}
	for _, id := range stopIDs {
		wanted[id] = true
	}

	// Pass 1: stop_times, collecting rows in the window and the
	// trip IDs needed for the service filter.
	deps := []model.Departure{}
	tripIDs := map[string]bool{}
	err = scanTable(z, "stop_times.txt", func(f *zip.File) error {
		rc, err := f.Open()
		if err != nil {
			return errors.Wrap(err, "opening stop_times.txt")
		}
		defer rc.Close()
		return parse.StopTimes(rc, func(st model.StopTime) error {
			if !wanted[st.StopID] {
				return nil
			}
			if st.DepartureSecs < lo || st.DepartureSecs > hi {
				return nil
			}
			deps = append(deps, model.Departure{
				TripID:        st.TripID,
				StopID:        st.StopID,
				DepartureSecs: st.DepartureSecs,
			})
			tripIDs[st.TripID] = true
			return nil
		})
	})
	if err == errMissingTable {
		return nil, errors.Wrap(ErrBadData, "missing stop_times.txt")
	}
	if err != nil {
		return nil, errors.Wrapf(ErrBadData, "scanning stop times: %v", err)
	}

	// Pass 2: trips, narrowed to the trip IDs just collected, to
	// drop departures of inactive services.
	activeTrip := map[string]bool{}
	err = scanTable(z, "trips.txt", func(f *zip.File) error {
		rc, err := f.Open()
		if err != nil {
			return errors.Wrap(err, "opening trips.txt")
		}
		defer rc.Close()
		return parse.Trips(rc, func(t model.Trip) error {
			if tripIDs[t.ID] && active[t.ServiceID] {
				activeTrip[t.ID] = true
			}
			return nil
		})
	})
	if err == errMissingTable {
		return nil, errors.Wrap(ErrBadData, "missing trips.txt")
	}
	if err != nil {
		return nil, errors.Wrapf(ErrBadData, "scanning trips: %v", err)
	}

	kept := deps[:0]
	for _, d := range deps {
		if activeTrip[d.TripID] {
			kept = append(kept, d)
		}
	}

	result := dedupeDepartures(kept)
	a.cache.put(key, result)
	return result, nil
}

func (a *Archive) RouteNames(ctx context.Context, routeIDs []string) (map[string]string, error) {
	names := map[string]string{}
	if len(routeIDs) == 0 {
		return names, nil
	}

	key := "routenames|" + strings.Join(routeIDs, ",")
	if v, ok := a.cache.get(key); ok {
		return v.(map[string]string), nil
	}

	z, err := a.open(ctx)
	if err != nil {
		return nil, err
	}
	if z == nil {
		return names, nil
	}
	defer z.Close()

	wanted := map[string]bool{}
	for _, id := range routeIDs {
		wanted[id] = true
	}

	err = scanTable(z, "routes.txt", func(f *zip.File) error {
		rc, err := f.Open()
		if err != nil {
			return errors.Wrap(err, "opening routes.txt")
		}
		defer rc.Close()
		return parse.Routes(rc, func(r model.Route) error {
			if wanted[r.ID] {
				if name := r.DisplayName(); name != "" {
					names[r.ID] = name
				}
			}
			return nil
		})
	})
	if err == errMissingTable {
		return nil, errors.Wrap(ErrBadData, "missing routes.txt")
	}
	if err != nil {
		return nil, errors.Wrapf(ErrBadData, "scanning routes: %v", err)
	}

	a.cache.put(key, names)
	return names, nil
}

func (a *Archive) TripRoutes(ctx context.Context, tripIDs []string) (map[string]model.TripRoute, error) {
	out := map[string]model.TripRoute{}
	if len(tripIDs) == 0 {
		return out, nil
	}

	key := "triproutes|" + strings.Join(tripIDs, ",")
	if v, ok := a.cache.get(key); ok {
		return v.(map[string]model.TripRoute), nil
	}

	z, err := a.open(ctx)
	if err != nil {
		return nil, err
	}
	if z == nil {
		return out, nil
	}
	defer z.Close()

	wanted := map[string]bool{}
	for _, id := range tripIDs {
		wanted[id] = true
	}

	// Pass 1: trips narrowed to the requested IDs, collecting the
	// route IDs needed for the name lookup.
	headsigns := map[string]string{}
	routeOfTrip := map[string]string{}
	routeIDs := map[string]bool{}
	err = scanTable(z, "trips.txt", func(f *zip.File) error {
		rc, err := f.Open()
		if err != nil {
			return errors.Wrap(err, "opening trips.txt")
		}
		defer rc.Close()
		return parse.Trips(rc, func(t model.Trip) error {
			if !wanted[t.ID] {
				return nil
			}
			headsigns[t.ID] = t.Headsign
			routeOfTrip[t.ID] = t.RouteID
			routeIDs[t.RouteID] = true
			return nil
		})
	})
	if err == errMissingTable {
		return nil, errors.Wrap(ErrBadData, "missing trips.txt")
	}
	if err != nil {
		return nil, errors.Wrapf(ErrBadData, "scanning trips: %v", err)
	}

	// Pass 2: routes narrowed to the routes those trips belong to.
	names := map[string]string{}
	err = scanTable(z, "routes.txt", func(f *zip.File) error {
		rc, err := f.Open()
		if err != nil {
			return errors.Wrap(err, "opening routes.txt")
		}
		defer rc.Close()
		return parse.Routes(rc, func(r model.Route) error {
			if routeIDs[r.ID] {
				names[r.ID] = r.DisplayName()
			}
			return nil
		})
	})
	if err == errMissingTable {
		return nil, errors.Wrap(ErrBadData, "missing routes.txt")
	}
	if err != nil {
		return nil, errors.Wrapf(ErrBadData, "scanning routes: %v", err)
	}

	for tripID := range headsigns {
		out[tripID] = model.TripRoute{
			RouteName: names[routeOfTrip[tripID]],
			Headsign:  headsigns[tripID],
		}
	}

	a.cache.put(key, out)
	return out, nil
}

func (a *Archive) SearchStops(ctx context.Context, tokens []string) ([]model.Stop, error) {
	if len(tokens) == 0 {
		return []model.Stop{}, nil
	}

	key := "search|" + strings.ToLower(strings.Join(tokens, ","))
	if v, ok := a.cache.get(key); ok {
		return v.([]model.Stop), nil
	}

	z, err := a.open(ctx)
	if err != nil {
		return nil, err
	}
	if z == nil {
		return []model.Stop{}, nil
	}
	defer z.Close()

	lowered := make([]string, len(tokens))
	for i, tok := range tokens {
		lowered[i] = strings.ToLower(tok)
	}

	stops := []model.Stop{}
	err = scanTable(z, "stops.txt", func(f *zip.File) error {
		rc, err := f.Open()
		if err != nil {
			return errors.Wrap(err, "opening stops.txt")
		}
		defer rc.Close()
		return parse.Stops(rc, func(s model.Stop) error {
			name := strings.ToLower(s.Name)
			for _, tok := range lowered {
				if !strings.Contains(name, tok) {
					return nil
				}
			}
			stops = append(stops, s)
			return nil
		})
	})
	if err == errMissingTable {
		return nil, errors.Wrap(ErrBadData, "missing stops.txt")
	}
	if err != nil {
		return nil, errors.Wrapf(ErrBadData, "scanning stops: %v", err)
	}

	a.cache.put(key, stops)
	return stops, nil
}

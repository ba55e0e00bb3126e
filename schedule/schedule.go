package schedule

import (
	"context"
	"log"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/AmanAhmed2002/TTCFareSite/fetch"
	"github.com/AmanAhmed2002/TTCFareSite/model"
)

// ErrBadData means a required static table is missing or malformed.
// A missing calendar-exceptions table is tolerated and does not
// produce this error.
var ErrBadData = errors.New("malformed schedule data")

const DefaultPrimeInterval = time.Minute

// Backend answers schedule queries over the static dataset. The
// snapshot and archive backends implement it identically; callers
// must treat an empty result as "not ready", never as "no service".
type Backend interface {
	// ExpandStation maps a station to its child platforms. Stops
	// that aren't stations, and stations without registered
	// children, map to themselves.
	ExpandStation(ctx context.Context, stopID string) ([]string, error)

	// ActiveServices computes the services running on a YYYYMMDD
	// date from the weekday calendar and its exceptions.
	ActiveServices(ctx context.Context, date string) (map[string]bool, error)

	// UpcomingDepartures lists departures from the given stops
	// within [now, now+horizon], now being in the agency's home
	// timezone. Inactive-day trips are excluded, a trip reaching
	// several queried stops keeps only its earliest departure, and
	// results are sorted by departure offset.
	UpcomingDepartures(ctx context.Context, stopIDs []string, now time.Time, horizon time.Duration) ([]model.Departure, error)

	// RouteNames maps route IDs to display names.
	RouteNames(ctx context.Context, routeIDs []string) (map[string]string, error)

	// TripRoutes joins trips to routes, yielding route display
	// name and trip headsign per trip ID.
	TripRoutes(ctx context.Context, tripIDs []string) (map[string]model.TripRoute, error)

	// SearchStops lists stops whose name contains every token,
	// case-insensitively.
	SearchStops(ctx context.Context, tokens []string) ([]model.Stop, error)

	Ready() bool
}

// Service fronts the two backends, routing every query to the
// snapshot index when it is ready and to the streaming archive
// otherwise. All local-time computation anchors to the agency's home
// timezone.
type Service struct {
	Snapshot *Snapshot
	Archive  *Archive
	Location *time.Location
	Logger   *log.Logger

	PrimeInterval time.Duration
}

func NewService(fetcher *fetch.Manager, snapshotURL, archiveURL string, loc *time.Location, logger *log.Logger) *Service {
	return &Service{
		Snapshot:      NewSnapshot(fetcher, snapshotURL, logger),
		Archive:       NewArchive(fetcher, archiveURL, logger),
		Location:      loc,
		Logger:        logger,
		PrimeInterval: DefaultPrimeInterval,
	}
}

// Ready reports whether the indexed snapshot is open and queryable.
func (s *Service) Ready() bool {
	return s.Snapshot.Ready()
}

// StartPriming spawns background loops that opportunistically open
// the snapshot and keep both artifacts fresh. Request paths never
// wait on them; they observe readiness through Ready() only.
func (s *Service) StartPriming(ctx context.Context) {
	go func() {
		for {
			if err := s.Snapshot.Open(ctx); err != nil && s.Logger != nil {
				s.Logger.Printf("priming snapshot: %v", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.PrimeInterval):
			}
		}
	}()
	if s.Archive.URL != "" {
		go s.Archive.Fetcher.Prime(ctx, s.Archive.URL, fetch.KindArchive, s.PrimeInterval)
	}
}

func (s *Service) backend() Backend {
	if s.Snapshot.Ready() {
		return s.Snapshot
	}
	return s.Archive
}

func (s *Service) ExpandStation(ctx context.Context, stopID string) ([]string, error) {
	return s.backend().ExpandStation(ctx, stopID)
}

func (s *Service) ActiveServices(ctx context.Context, date string) (map[string]bool, error) {
	return s.backend().ActiveServices(ctx, date)
}

func (s *Service) UpcomingDepartures(ctx context.Context, stopIDs []string, now time.Time, horizon time.Duration) ([]model.Departure, error) {
	return s.backend().UpcomingDepartures(ctx, stopIDs, now.In(s.Location), horizon)
}

func (s *Service) RouteNames(ctx context.Context, routeIDs []string) (map[string]string, error) {
	return s.backend().RouteNames(ctx, routeIDs)
}

func (s *Service) TripRoutes(ctx context.Context, tripIDs []string) (map[string]model.TripRoute, error) {
	return s.backend().TripRoutes(ctx, tripIDs)
}

func (s *Service) SearchStops(ctx context.Context, tokens []string) ([]model.Stop, error) {
	return s.backend().SearchStops(ctx, tokens)
}

// ServiceDate is the YYYYMMDD civil date of t in the agency timezone.
func (s *Service) ServiceDate(t time.Time) string {
	return t.In(s.Location).Format("20060102")
}

// AbsoluteTime maps a service-day departure offset to wall-clock
// time. Anchoring at noon minus twelve hours rather than midnight
// keeps offsets past 24:00:00 correct across DST transitions: a
// 25:30:00 departure lands at 01:30 the following calendar day.
func (s *Service) AbsoluteTime(date string, departureSecs int) (time.Time, error) {
	day, err := time.ParseInLocation("20060102", date, s.Location)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "invalid date '%s'", date)
	}
	noon := time.Date(day.Year(), day.Month(), day.Day(), 12, 0, 0, 0, s.Location)
	return noon.Add(-12 * time.Hour).Add(time.Duration(departureSecs) * time.Second), nil
}

// Seconds since local midnight, as a civil quantity.
func secondsOfDay(t time.Time) int {
	return t.Hour()*3600 + t.Minute()*60 + t.Second()
}

// Keeps each trip's earliest departure and orders by departure
// offset. Both backends funnel their results through this.
func dedupeDepartures(deps []model.Departure) []model.Departure {
	earliest := map[string]int{}
	for i, d := range deps {
		if j, ok := earliest[d.TripID]; !ok || d.DepartureSecs < deps[j].DepartureSecs {
			earliest[d.TripID] = i
		}
	}

	out := make([]model.Departure, 0, len(earliest))
	for i, d := range deps {
		if earliest[d.TripID] == i {
			out = append(out, d)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DepartureSecs < out[j].DepartureSecs
	})

	return out
}

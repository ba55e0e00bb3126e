package transit

import (
	"context"
	"log"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/AmanAhmed2002/TTCFareSite/fetch"
	"github.com/AmanAhmed2002/TTCFareSite/model"
	"github.com/AmanAhmed2002/TTCFareSite/realtime"
	"github.com/AmanAhmed2002/TTCFareSite/resolver"
	"github.com/AmanAhmed2002/TTCFareSite/schedule"
)

// ErrStopNotFound means the stop reference could not be resolved to
// any candidate.
var ErrStopNotFound = errors.New("stop not found")

const (
	DefaultLimit        = 3
	DefaultStaticWindow = 2 * time.Hour
	DefaultLinesWindow  = time.Hour
)

// Options for an arrival query. Zero values mean defaults: limit 3,
// no route filter, "from now".
type Options struct {
	Limit    int
	RouteRef string
	From     time.Time
}

// Engine assembles arrival boards for one agency. Per request it
// resolves the stop, expands stations to platforms, tries the
// realtime feed, and falls back to the static schedule when realtime
// yields nothing. A live-feed outage never prevents a best-effort
// static answer.
type Engine struct {
	Resolver *resolver.Resolver
	Schedule *schedule.Service
	Realtime *realtime.Adapter
	Logger   *log.Logger

	StaticWindow time.Duration
	TimeNow      func() time.Time
}

// NewEngine wires an engine for one configured agency.
func NewEngine(cfg *Config, agencyKey string, logger *log.Logger) (*Engine, error) {
	agency, ok := cfg.Agency(agencyKey)
	if !ok {
		return nil, errors.Errorf("unknown agency %q", agencyKey)
	}

	loc, err := time.LoadLocation(agency.Timezone)
	if err != nil {
		return nil, errors.Wrapf(err, "loading timezone %q", agency.Timezone)
	}

	fetcher := fetch.NewManager(cfg.ScratchDir, logger)
	sched := schedule.NewService(fetcher, agency.SnapshotURL, agency.ArchiveURL, loc, logger)
	adapter := realtime.NewAdapter(agency.TripUpdatesURL, agency.AlertsURL, fetch.NewFeedCache(), sched, logger)

	var store resolver.StopStore
	if agency.StopsDSN != "" {
		ps, err := resolver.NewPostgresStore(agency.StopsDSN)
		if err != nil {
			// The index fallback still resolves stops; don't
			// fail startup over the store.
			logger.Printf("stop store unavailable: %v", err)
		} else {
			store = ps
		}
	}

	return &Engine{
		Resolver:     resolver.New(store, sched, logger),
		Schedule:     sched,
		Realtime:     adapter,
		Logger:       logger,
		StaticWindow: DefaultStaticWindow,
		TimeNow:      time.Now,
	}, nil
}

// Start spawns the background priming loops. Request paths never
// wait on them.
func (e *Engine) Start(ctx context.Context) {
	e.Schedule.StartPriming(ctx)
}

// NextArrivals returns the next vehicle arrivals at a stop, soonest
// first. Realtime predictions take precedence whenever at least one
// exists; otherwise schedule-derived records are returned.
func (e *Engine) NextArrivals(ctx context.Context, agencyKey, stopRef string, opts Options) ([]model.Arrival, error) {
	limit := opts.Limit
	if limit < 1 {
		limit = DefaultLimit
	}
	from := opts.From
	if from.IsZero() {
		from = e.TimeNow()
	}

	platforms, err := e.resolvePlatforms(ctx, agencyKey, stopRef)
	if err != nil {
		return nil, err
	}

	arrivals, rtErr := e.tryRealtime(ctx, platforms, limit, opts.RouteRef, from)
	if len(arrivals) > 0 {
		return arrivals, nil
	}

	static, err := e.tryStatic(ctx, platforms, limit, opts.RouteRef, from)
	if err != nil {
		return nil, err
	}
	if len(static) == 0 && rtErr != nil && !e.staticAvailable() {
		// Both tiers genuinely unavailable.
		return nil, rtErr
	}

	return static, nil
}

// ActiveLines returns the distinct route display names serving a
// stop within the window, using the same expansion and calendar
// machinery as arrivals.
func (e *Engine) ActiveLines(ctx context.Context, agencyKey, stopRef string, window time.Duration) ([]string, error) {
	if window <= 0 {
		window = DefaultLinesWindow
	}

	platforms, err := e.resolvePlatforms(ctx, agencyKey, stopRef)
	if err != nil {
		return nil, err
	}

	now := e.TimeNow()
	deps, err := e.Schedule.UpcomingDepartures(ctx, platforms, now, window)
	if err != nil {
		return nil, err
	}

	tripRoutes, err := e.tripRoutesFor(ctx, deps)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	lines := []string{}
	for _, d := range deps {
		name := tripRoutes[d.TripID].RouteName
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		lines = append(lines, name)
	}
	sort.Strings(lines)

	return lines, nil
}

// Alerts exposes the current service alerts.
func (e *Engine) Alerts(ctx context.Context) ([]model.Alert, error) {
	return e.Realtime.Alerts(ctx)
}

func (e *Engine) resolvePlatforms(ctx context.Context, agencyKey, stopRef string) ([]string, error) {
	stopID, err := e.Resolver.BestMatch(ctx, agencyKey, stopRef)
	if err != nil {
		return nil, err
	}
	if stopID == "" {
		return nil, errors.Wrapf(ErrStopNotFound, "no stop matches %q", stopRef)
	}

	platforms, err := e.Schedule.ExpandStation(ctx, stopID)
	if err != nil {
		if e.Logger != nil {
			e.Logger.Printf("expanding station %s: %v", stopID, err)
		}
		platforms = []string{stopID}
	}
	return platforms, nil
}

// Queries the realtime adapter per platform and merges. A fetch
// failure is recorded, not raised: the static tier decides what the
// caller sees.
func (e *Engine) tryRealtime(ctx context.Context, platforms []string, limit int, routeRef string, from time.Time) ([]model.Arrival, error) {
	merged := []model.Arrival{}
	var lastErr error
	for _, p := range platforms {
		records, err := e.Realtime.NextArrivals(ctx, p, limit, routeRef, from)
		if err != nil {
			lastErr = err
			if e.Logger != nil {
				e.Logger.Printf("realtime lookup for %s: %v", p, err)
			}
			continue
		}
		merged = append(merged, records...)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Time.Before(merged[j].Time)
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}

	return merged, lastErr
}

func (e *Engine) tryStatic(ctx context.Context, platforms []string, limit int, routeRef string, from time.Time) ([]model.Arrival, error) {
	deps, err := e.Schedule.UpcomingDepartures(ctx, platforms, from, e.StaticWindow)
	if err != nil {
		return nil, err
	}
	if len(deps) == 0 {
		return []model.Arrival{}, nil
	}

	tripRoutes, err := e.tripRoutesFor(ctx, deps)
	if err != nil {
		return nil, err
	}

	date := e.Schedule.ServiceDate(from)
	arrivals := []model.Arrival{}
	for _, d := range deps {
		tr := tripRoutes[d.TripID]
		if !realtime.RouteRefMatches(routeRef, tr.RouteName) {
			continue
		}
		when, err := e.Schedule.AbsoluteTime(date, d.DepartureSecs)
		if err != nil {
			return nil, err
		}
		arrivals = append(arrivals, model.Arrival{
			Route:    tr.RouteName,
			Headsign: tr.Headsign,
			Time:     when,
			Realtime: false,
		})
		if len(arrivals) == limit {
			break
		}
	}

	return arrivals, nil
}

func (e *Engine) tripRoutesFor(ctx context.Context, deps []model.Departure) (map[string]model.TripRoute, error) {
	tripIDs := []string{}
	seen := map[string]bool{}
	for _, d := range deps {
		if !seen[d.TripID] {
			seen[d.TripID] = true
			tripIDs = append(tripIDs, d.TripID)
		}
	}
	return e.Schedule.TripRoutes(ctx, tripIDs)
}

// The static tier counts as available when the snapshot is open or
// either static source is at least configured. A configured source
// that hasn't been primed yet means "unknown", not "unavailable".
func (e *Engine) staticAvailable() bool {
	return e.Schedule.Ready() ||
		e.Schedule.Archive.URL != "" ||
		e.Schedule.Snapshot.URL != ""
}

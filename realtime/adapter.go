package realtime

import (
	"context"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/AmanAhmed2002/TTCFareSite/fetch"
	"github.com/AmanAhmed2002/TTCFareSite/model"
	"github.com/AmanAhmed2002/TTCFareSite/parse"
	"github.com/AmanAhmed2002/TTCFareSite/schedule"
)

// Adapter serves live arrival predictions from the trip-update feed,
// enriched with route metadata from the schedule index. Feed fetch
// failures surface to the caller; the arrival assembler owns the
// decision to fall back to the static schedule.
type Adapter struct {
	FeedURL   string
	AlertsURL string
	Cache     *fetch.FeedCache
	Index     *schedule.Service
	Logger    *log.Logger

	TimeNow func() time.Time
}

func NewAdapter(feedURL, alertsURL string, cache *fetch.FeedCache, index *schedule.Service, logger *log.Logger) *Adapter {
	return &Adapter{
		FeedURL:   feedURL,
		AlertsURL: alertsURL,
		Cache:     cache,
		Index:     index,
		Logger:    logger,
		TimeNow:   time.Now,
	}
}

// RouteRefMatches reports whether a requested route reference matches
// a route display name. Matching is case-insensitive and prefix
// based: "83" matches "83" and "83A" but not "183", since branches
// are encoded as suffix letters.
func RouteRefMatches(ref, name string) bool {
	if ref == "" {
		return true
	}
	ref = strings.ToLower(strings.TrimSpace(ref))
	name = strings.ToLower(strings.TrimSpace(name))
	return name == ref || strings.HasPrefix(name, ref)
}

type prediction struct {
	tripID    string
	routeID   string
	predicted int64
}

// NextArrivals lists live predicted arrivals at a stop, soonest
// first, capped at limit. Every record is marked realtime. since
// defaults to the current time when zero.
func (a *Adapter) NextArrivals(ctx context.Context, stopID string, limit int, routeRef string, since time.Time) ([]model.Arrival, error) {
	if limit < 1 {
		limit = 1
	}
	if since.IsZero() {
		since = a.TimeNow()
	}

	body, err := a.Cache.Get(ctx, a.FeedURL)
	if err != nil {
		return nil, err
	}

	feed, err := parse.Realtime(body)
	if err != nil {
		return nil, errors.Wrap(err, "decoding trip updates")
	}

	preds := []prediction{}
	for _, update := range feed.Updates {
		if feed.CanceledTrips[update.TripID] {
			continue
		}
		for _, p := range update.Predictions {
			if p.StopID != stopID {
				continue
			}
			if p.Time() < since.Unix() {
				continue
			}
			preds = append(preds, prediction{
				tripID:    update.TripID,
				routeID:   update.RouteID,
				predicted: p.Time(),
			})
		}
	}
	if len(preds) == 0 {
		return []model.Arrival{}, nil
	}

	tripRoutes := a.resolveTripRoutes(ctx, preds)

	sort.Slice(preds, func(i, j int) bool {
		return preds[i].predicted < preds[j].predicted
	})

	arrivals := []model.Arrival{}
	for _, p := range preds {
		tr := tripRoutes[p.tripID]
		if !RouteRefMatches(routeRef, tr.RouteName) {
			continue
		}
		arrivals = append(arrivals, model.Arrival{
			Route:    tr.RouteName,
			Headsign: tr.Headsign,
			Time:     time.Unix(p.predicted, 0).In(a.Index.Location),
			Realtime: true,
		})
		if len(arrivals) == limit {
			break
		}
	}

	return arrivals, nil
}

// Resolves route display names and headsigns for the predicted
// trips. The trip→route mapping of the schedule index is preferred;
// when it yields nothing, the feed's embedded route IDs are resolved
// against the route table directly, which the archive backend can
// answer with a route-only scan even before the snapshot is ready.
func (a *Adapter) resolveTripRoutes(ctx context.Context, preds []prediction) map[string]model.TripRoute {
	tripIDs := []string{}
	seen := map[string]bool{}
	for _, p := range preds {
		if !seen[p.tripID] {
			seen[p.tripID] = true
			tripIDs = append(tripIDs, p.tripID)
		}
	}

	tripRoutes, err := a.Index.TripRoutes(ctx, tripIDs)
	if err != nil {
		if a.Logger != nil {
			a.Logger.Printf("resolving trip routes: %v", err)
		}
		tripRoutes = map[string]model.TripRoute{}
	}
	if len(tripRoutes) > 0 {
		return tripRoutes
	}

	routeIDs := []string{}
	seenRoute := map[string]bool{}
	for _, p := range preds {
		if p.routeID != "" && !seenRoute[p.routeID] {
			seenRoute[p.routeID] = true
			routeIDs = append(routeIDs, p.routeID)
		}
	}

	names, err := a.Index.RouteNames(ctx, routeIDs)
	if err != nil {
		if a.Logger != nil {
			a.Logger.Printf("resolving route names: %v", err)
		}
		names = map[string]string{}
	}

	out := map[string]model.TripRoute{}
	for _, p := range preds {
		name := names[p.routeID]
		if name == "" {
			// Better an opaque route ID than a blank line on
			// the board.
			name = p.routeID
		}
		out[p.tripID] = model.TripRoute{RouteName: name}
	}
	return out
}

// Alerts fetches and decodes the service-alert feed with the same
// cached fetch primitive as trip updates.
func (a *Adapter) Alerts(ctx context.Context) ([]model.Alert, error) {
	body, err := a.Cache.Get(ctx, a.AlertsURL)
	if err != nil {
		return nil, err
	}

	alerts, err := parse.Alerts(body)
	if err != nil {
		return nil, errors.Wrap(err, "decoding alerts")
	}
	return alerts, nil
}

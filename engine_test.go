package transit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AmanAhmed2002/TTCFareSite/fetch"
	"github.com/AmanAhmed2002/TTCFareSite/realtime"
	"github.com/AmanAhmed2002/TTCFareSite/resolver"
	"github.com/AmanAhmed2002/TTCFareSite/schedule"
	"github.com/AmanAhmed2002/TTCFareSite/testutil"
)

// Monday 2025-07-07 in the agency timezone.
func fixedNow(t *testing.T) time.Time {
	loc, err := time.LoadLocation("America/Toronto")
	require.NoError(t, err)
	return time.Date(2025, 7, 7, 11, 30, 0, 0, loc)
}

// A station with two platforms, three routes, and trips through the
// morning of the fixed test date.
func engineFixture() map[string][]string {
	files := testutil.ValidFeed()
	files["stops.txt"] = []string{
		"stop_id,stop_code,stop_name,stop_lat,stop_lon,location_type,parent_station",
		"s1,1001,Jones at Gerrard,43.67,-79.33,0,",
		"14523,,Main Station,43.68,-79.30,1,",
		"14523A,,Main Station Northbound Platform,43.68,-79.30,0,14523",
		"14523B,,Main Station Southbound Platform,43.68,-79.30,0,14523",
	}
	files["routes.txt"] = []string{
		"route_id,route_short_name,route_long_name",
		"r83,83,Jones",
		"r83a,83A,Jones Branch",
		"r84,84,Sheppard East",
		"r183,183,Rouge Hill",
	}
	files["trips.txt"] = []string{
		"route_id,service_id,trip_id,trip_headsign",
		"r83,weekdays,t1,Donlands Station",
		"r83a,weekdays,t2,Main Station",
		"r84,weekdays,t3,Yonge",
		"r183,weekdays,t4,Rouge Hill GO",
	}
	files["stop_times.txt"] = []string{
		"trip_id,arrival_time,departure_time,stop_id,stop_sequence",
		"t1,11:55:00,11:55:00,s1,1",
		"t1,12:00:00,12:00:00,14523A,2",
		"t2,12:05:00,12:05:00,14523B,1",
		"t3,12:10:00,12:10:00,14523A,2",
		"t4,12:15:00,12:15:00,14523B,2",
	}
	return files
}

type feedHandler struct {
	mutex sync.Mutex
	body  []byte
	fail  bool
}

func (h *feedHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.fail {
		w.WriteHeader(http.StatusBadGateway)
		return
	}
	w.Write(h.body)
}

func (h *feedHandler) set(body []byte, fail bool) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.body = body
	h.fail = fail
}

func newTestEngine(t *testing.T, files map[string][]string) (*Engine, *feedHandler) {
	loc, err := time.LoadLocation("America/Toronto")
	require.NoError(t, err)

	fetcher := fetch.NewManager(t.TempDir(), nil)
	fetcher.MaxAttempts = 1
	fetcher.BackoffBase = time.Millisecond
	require.NoError(t, os.MkdirAll(fetcher.Dir, 0755))

	archiveURL := "http://127.0.0.1:0/gtfs.zip"
	if files != nil {
		path := fetcher.LocalPath(archiveURL, fetch.KindArchive)
		require.NoError(t, os.WriteFile(path, testutil.BuildZip(t, files), 0644))
	} else {
		archiveURL = ""
	}

	handler := &feedHandler{body: testutil.BuildTripUpdates(t, uint64(fixedNow(t).Unix()), nil)}
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	sched := schedule.NewService(fetcher, "", archiveURL, loc, nil)
	cache := fetch.NewFeedCache()
	cache.TTL = 0 // each test request observes the handler's current state
	adapter := realtime.NewAdapter(server.URL, server.URL, cache, sched, nil)

	engine := &Engine{
		Resolver:     resolver.New(nil, sched, nil),
		Schedule:     sched,
		Realtime:     adapter,
		StaticWindow: DefaultStaticWindow,
		TimeNow:      func() time.Time { return fixedNow(t) },
	}
	return engine, handler
}

func TestNextArrivalsStaticFallback(t *testing.T) {
	engine, _ := newTestEngine(t, engineFixture())

	// The feed is empty, so the station query is answered from the
	// schedule across both platforms.
	arrivals, err := engine.NextArrivals(context.Background(), "ttc", "14523", Options{})
	require.NoError(t, err)

	require.Len(t, arrivals, DefaultLimit)
	assert.Equal(t, "83", arrivals[0].Route)
	assert.Equal(t, "Donlands Station", arrivals[0].Headsign)
	assert.False(t, arrivals[0].Realtime)
	loc := arrivals[0].Time.Location()
	assert.Equal(t, time.Date(2025, 7, 7, 12, 0, 0, 0, loc), arrivals[0].Time)

	assert.Equal(t, "83A", arrivals[1].Route)
	assert.Equal(t, "84", arrivals[2].Route)
}

func TestNextArrivalsRealtimePrecedence(t *testing.T) {
	engine, handler := newTestEngine(t, engineFixture())

	now := fixedNow(t).Unix()
	handler.set(testutil.BuildTripUpdates(t, uint64(now), []testutil.TripUpdate{
		{TripID: "t1", RouteID: "r83", Stops: []testutil.StopPrediction{
			{StopID: "14523A", Arrival: now + 95},
		}},
	}), false)

	arrivals, err := engine.NextArrivals(context.Background(), "ttc", "14523", Options{})
	require.NoError(t, err)

	// One live prediction beats any number of scheduled rows.
	require.Len(t, arrivals, 1)
	assert.True(t, arrivals[0].Realtime)
	assert.Equal(t, "83", arrivals[0].Route)
	assert.Equal(t, now+95, arrivals[0].Time.Unix())
}

func TestNextArrivalsRouteFilter(t *testing.T) {
	engine, _ := newTestEngine(t, engineFixture())
	ctx := context.Background()

	// "83" takes the branch too, but not "183".
	arrivals, err := engine.NextArrivals(ctx, "ttc", "14523", Options{Limit: 10, RouteRef: "83"})
	require.NoError(t, err)
	require.Len(t, arrivals, 2)
	assert.Equal(t, "83", arrivals[0].Route)
	assert.Equal(t, "83A", arrivals[1].Route)

	arrivals, err = engine.NextArrivals(ctx, "ttc", "14523", Options{Limit: 10, RouteRef: "183"})
	require.NoError(t, err)
	require.Len(t, arrivals, 1)
	assert.Equal(t, "183", arrivals[0].Route)
}

func TestNextArrivalsFromOption(t *testing.T) {
	engine, _ := newTestEngine(t, engineFixture())

	from := fixedNow(t).Add(35 * time.Minute) // 12:05
	arrivals, err := engine.NextArrivals(context.Background(), "ttc", "14523", Options{Limit: 10, From: from})
	require.NoError(t, err)

	require.Len(t, arrivals, 3)
	assert.Equal(t, "83A", arrivals[0].Route)
}

func TestNextArrivalsStopNotFound(t *testing.T) {
	engine, _ := newTestEngine(t, engineFixture())

	_, err := engine.NextArrivals(context.Background(), "ttc", "No Such Place", Options{})
	assert.ErrorIs(t, err, ErrStopNotFound)
}

func TestNextArrivalsBothTiersDown(t *testing.T) {
	// No archive, no snapshot, and a broken feed.
	engine, handler := newTestEngine(t, nil)
	handler.set(nil, true)

	_, err := engine.NextArrivals(context.Background(), "ttc", "14523A", Options{})
	assert.ErrorIs(t, err, fetch.ErrNetwork)
}

func TestNextArrivalsSnapshotNotPrimedYet(t *testing.T) {
	loc, err := time.LoadLocation("America/Toronto")
	require.NoError(t, err)

	fetcher := fetch.NewManager(t.TempDir(), nil)
	fetcher.MaxAttempts = 1
	fetcher.BackoffBase = time.Millisecond

	handler := &feedHandler{fail: true}
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	// A snapshot source is configured but nothing has been primed,
	// and the feed is down. That is "not ready", not an outage.
	sched := schedule.NewService(fetcher, "http://127.0.0.1:0/snapshot.db", "", loc, nil)
	engine := &Engine{
		Resolver:     resolver.New(nil, sched, nil),
		Schedule:     sched,
		Realtime:     realtime.NewAdapter(server.URL, server.URL, fetch.NewFeedCache(), sched, nil),
		StaticWindow: DefaultStaticWindow,
		TimeNow:      func() time.Time { return fixedNow(t) },
	}

	arrivals, err := engine.NextArrivals(context.Background(), "ttc", "14523A", Options{})
	require.NoError(t, err)
	assert.Empty(t, arrivals)
}

func TestNextArrivalsFeedDownStaticStillAnswers(t *testing.T) {
	engine, handler := newTestEngine(t, engineFixture())
	handler.set(nil, true)

	arrivals, err := engine.NextArrivals(context.Background(), "ttc", "14523", Options{})
	require.NoError(t, err)
	require.NotEmpty(t, arrivals)
	assert.False(t, arrivals[0].Realtime)
}

func TestActiveLines(t *testing.T) {
	engine, _ := newTestEngine(t, engineFixture())

	lines, err := engine.ActiveLines(context.Background(), "ttc", "14523", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{"183", "83", "83A", "84"}, lines)

	lines, err = engine.ActiveLines(context.Background(), "ttc", "s1", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{"83"}, lines)
}

func TestAlertsPassThrough(t *testing.T) {
	engine, handler := newTestEngine(t, engineFixture())
	handler.set(testutil.BuildAlerts(t, []string{"Planned closure this weekend"}), false)

	alerts, err := engine.Alerts(context.Background())
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "Planned closure this weekend", alerts[0].Header)
}

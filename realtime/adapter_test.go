package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AmanAhmed2002/TTCFareSite/fetch"
	"github.com/AmanAhmed2002/TTCFareSite/schedule"
	"github.com/AmanAhmed2002/TTCFareSite/testutil"
)

func TestRouteRefMatches(t *testing.T) {
	for _, tc := range []struct {
		ref, name string
		expected  bool
	}{
		{"", "anything", true},
		{"83", "83", true},
		{"83", "83A", true},
		{"83", "183", false},
		{"83", "84", false},
		{"83A", "83", false},
		{"83a", "83A", true},
		{" 83 ", "83", true},
	} {
		assert.Equal(t, tc.expected, RouteRefMatches(tc.ref, tc.name),
			"ref %q name %q", tc.ref, tc.name)
	}
}

// Builds a schedule index over a local archive fixture. The URLs are
// unreachable addresses, so staleness never turns into a hang.
func newTestIndex(t *testing.T, files map[string][]string) *schedule.Service {
	fetcher := fetch.NewManager(t.TempDir(), nil)
	fetcher.MaxAttempts = 1
	fetcher.BackoffBase = time.Millisecond
	require.NoError(t, os.MkdirAll(fetcher.Dir, 0755))

	archiveURL := "http://127.0.0.1:0/gtfs.zip"
	path := fetcher.LocalPath(archiveURL, fetch.KindArchive)
	require.NoError(t, os.WriteFile(path, testutil.BuildZip(t, files), 0644))

	loc, err := time.LoadLocation("America/Toronto")
	require.NoError(t, err)

	return schedule.NewService(fetcher, "", archiveURL, loc, nil)
}

func newTestAdapter(t *testing.T, feed []byte, files map[string][]string) *Adapter {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(feed)
	}))
	t.Cleanup(server.Close)

	return NewAdapter(server.URL, server.URL, fetch.NewFeedCache(), newTestIndex(t, files), nil)
}

func fixtureFiles() map[string][]string {
	files := testutil.ValidFeed()
	files["routes.txt"] = append(files["routes.txt"],
		"r83a,83A,Jones Branch",
		"r84,84,Sheppard East")
	files["trips.txt"] = append(files["trips.txt"],
		"r83a,weekdays,t2,Main Station",
		"r84,weekdays,t3,Yonge")
	return files
}

func TestNextArrivals(t *testing.T) {
	now := time.Now().Unix()
	feed := testutil.BuildTripUpdates(t, uint64(now), []testutil.TripUpdate{
		{TripID: "t2", RouteID: "r83a", Stops: []testutil.StopPrediction{
			{StopID: "s1", Arrival: now + 300},
		}},
		{TripID: "t1", RouteID: "r83", Stops: []testutil.StopPrediction{
			{StopID: "s1", Arrival: now + 120},
			{StopID: "other", Arrival: now + 60},
		}},
	})
	a := newTestAdapter(t, feed, fixtureFiles())

	arrivals, err := a.NextArrivals(context.Background(), "s1", 5, "", time.Time{})
	require.NoError(t, err)

	require.Len(t, arrivals, 2)
	assert.Equal(t, "83", arrivals[0].Route)
	assert.Equal(t, "Donlands Station", arrivals[0].Headsign)
	assert.Equal(t, now+120, arrivals[0].Time.Unix())
	assert.True(t, arrivals[0].Realtime)
	assert.Equal(t, "83A", arrivals[1].Route)
}

func TestNextArrivalsRouteFilter(t *testing.T) {
	now := time.Now().Unix()
	feed := testutil.BuildTripUpdates(t, uint64(now), []testutil.TripUpdate{
		{TripID: "t1", RouteID: "r83", Stops: []testutil.StopPrediction{{StopID: "s1", Arrival: now + 60}}},
		{TripID: "t2", RouteID: "r83a", Stops: []testutil.StopPrediction{{StopID: "s1", Arrival: now + 120}}},
		{TripID: "t3", RouteID: "r84", Stops: []testutil.StopPrediction{{StopID: "s1", Arrival: now + 180}}},
	})
	a := newTestAdapter(t, feed, fixtureFiles())

	// "83" covers the branch; "84" must not.
	arrivals, err := a.NextArrivals(context.Background(), "s1", 5, "83", time.Time{})
	require.NoError(t, err)
	require.Len(t, arrivals, 2)
	assert.Equal(t, "83", arrivals[0].Route)
	assert.Equal(t, "83A", arrivals[1].Route)

	arrivals, err = a.NextArrivals(context.Background(), "s1", 5, "84", time.Time{})
	require.NoError(t, err)
	require.Len(t, arrivals, 1)
	assert.Equal(t, "84", arrivals[0].Route)
}

func TestNextArrivalsSkipsCanceledTrips(t *testing.T) {
	now := time.Now().Unix()
	feed := testutil.BuildTripUpdates(t, uint64(now), []testutil.TripUpdate{
		{TripID: "t1", RouteID: "r83", Canceled: true, Stops: []testutil.StopPrediction{{StopID: "s1", Arrival: now + 60}}},
		{TripID: "t2", RouteID: "r83a", Stops: []testutil.StopPrediction{{StopID: "s1", Arrival: now + 120}}},
	})
	a := newTestAdapter(t, feed, fixtureFiles())

	arrivals, err := a.NextArrivals(context.Background(), "s1", 5, "", time.Time{})
	require.NoError(t, err)
	require.Len(t, arrivals, 1)
	assert.Equal(t, "83A", arrivals[0].Route)
}

func TestNextArrivalsSinceAndLimit(t *testing.T) {
	now := time.Now().Unix()
	feed := testutil.BuildTripUpdates(t, uint64(now), []testutil.TripUpdate{
		{TripID: "t1", RouteID: "r83", Stops: []testutil.StopPrediction{{StopID: "s1", Arrival: now - 300}}},
		{TripID: "t2", RouteID: "r83a", Stops: []testutil.StopPrediction{{StopID: "s1", Arrival: now + 60}}},
		{TripID: "t3", RouteID: "r84", Stops: []testutil.StopPrediction{{StopID: "s1", Arrival: now + 120}}},
	})
	a := newTestAdapter(t, feed, fixtureFiles())

	// The past prediction is gone, and limit caps the rest.
	arrivals, err := a.NextArrivals(context.Background(), "s1", 1, "", time.Time{})
	require.NoError(t, err)
	require.Len(t, arrivals, 1)
	assert.Equal(t, "83A", arrivals[0].Route)
}

func TestNextArrivalsEmptyFeed(t *testing.T) {
	feed := testutil.BuildTripUpdates(t, uint64(time.Now().Unix()), nil)
	a := newTestAdapter(t, feed, fixtureFiles())

	arrivals, err := a.NextArrivals(context.Background(), "s1", 3, "", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, arrivals)
}

func TestNextArrivalsFeedFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	a := NewAdapter(server.URL, server.URL, fetch.NewFeedCache(), newTestIndex(t, fixtureFiles()), nil)

	_, err := a.NextArrivals(context.Background(), "s1", 3, "", time.Time{})
	assert.ErrorIs(t, err, fetch.ErrNetwork)
}

func TestNextArrivalsFallsBackToFeedRouteIDs(t *testing.T) {
	now := time.Now().Unix()
	// Trips the static schedule has never heard of.
	feed := testutil.BuildTripUpdates(t, uint64(now), []testutil.TripUpdate{
		{TripID: "added1", RouteID: "r83", Stops: []testutil.StopPrediction{{StopID: "s1", Arrival: now + 60}}},
		{TripID: "added2", RouteID: "rX", Stops: []testutil.StopPrediction{{StopID: "s1", Arrival: now + 120}}},
	})
	a := newTestAdapter(t, feed, fixtureFiles())

	arrivals, err := a.NextArrivals(context.Background(), "s1", 5, "", time.Time{})
	require.NoError(t, err)

	require.Len(t, arrivals, 2)
	assert.Equal(t, "83", arrivals[0].Route)
	assert.Empty(t, arrivals[0].Headsign)
	// An unknown route ID is shown raw rather than dropped.
	assert.Equal(t, "rX", arrivals[1].Route)
}

func TestAlerts(t *testing.T) {
	data := testutil.BuildAlerts(t, []string{"Elevator out at Main Station"})
	a := newTestAdapter(t, data, fixtureFiles())

	alerts, err := a.Alerts(context.Background())
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "Elevator out at Main Station", alerts[0].Header)
}

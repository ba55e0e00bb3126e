package testutil

// Helpers and fixtures for tests.

import (
	"archive/zip"
	"bytes"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	gtfsproto "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
)

// BuildZip assembles a schedule archive from table name to lines.
func BuildZip(t testing.TB, files map[string][]string) []byte {
	buf := &bytes.Buffer{}
	w := zip.NewWriter(buf)
	for filename, content := range files {
		f, err := w.Create(filename)
		require.NoError(t, err)
		_, err = f.Write([]byte(strings.Join(content, "\n")))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	return buf.Bytes()
}

// ValidFeed is a minimal but complete set of schedule tables, meant
// to be tweaked per test.
func ValidFeed() map[string][]string {
	return map[string][]string{
		"agency.txt": {
			"agency_timezone,agency_name,agency_url",
			"America/Toronto,Fake Agency,http://agency/index.html",
		},
		"routes.txt": {
			"route_id,route_short_name,route_long_name",
			"r83,83,Jones",
		},
		"calendar.txt": {
			"service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date",
			"weekdays,1,1,1,1,1,0,0,20250101,20261231",
		},
		"calendar_dates.txt": {
			"service_id,date,exception_type",
		},
		"trips.txt": {
			"route_id,service_id,trip_id,trip_headsign",
			"r83,weekdays,t1,Donlands Station",
		},
		"stops.txt": {
			"stop_id,stop_code,stop_name,stop_lat,stop_lon,location_type,parent_station",
			"s1,1001,Jones at Gerrard,43.67,-79.33,0,",
		},
		"stop_times.txt": {
			"trip_id,arrival_time,departure_time,stop_id,stop_sequence",
			"t1,12:00:00,12:00:00,s1,1",
		},
	}
}

// SnapshotSchema matches what the external ingestion tool produces.
const SnapshotSchema = `
CREATE TABLE stops (
    id TEXT PRIMARY KEY,
    code TEXT,
    name TEXT NOT NULL,
    lat REAL NOT NULL,
    lon REAL NOT NULL,
    location_type INTEGER NOT NULL,
    parent_station TEXT
);
CREATE INDEX stops_parent_station ON stops (parent_station);

CREATE TABLE routes (
    id TEXT PRIMARY KEY,
    short_name TEXT,
    long_name TEXT
);

CREATE TABLE trips (
    id TEXT PRIMARY KEY,
    route_id TEXT NOT NULL,
    service_id TEXT NOT NULL,
    headsign TEXT
);
CREATE INDEX trips_service_id ON trips (service_id);

CREATE TABLE stop_times (
    trip_id TEXT NOT NULL,
    stop_id TEXT NOT NULL,
    departure_secs INTEGER NOT NULL
);
CREATE INDEX stop_times_stop_id ON stop_times (stop_id);
CREATE INDEX stop_times_departure_secs ON stop_times (departure_secs);

CREATE TABLE calendar (
    service_id TEXT PRIMARY KEY,
    start_date TEXT NOT NULL,
    end_date TEXT NOT NULL,
    monday INTEGER NOT NULL,
    tuesday INTEGER NOT NULL,
    wednesday INTEGER NOT NULL,
    thursday INTEGER NOT NULL,
    friday INTEGER NOT NULL,
    saturday INTEGER NOT NULL,
    sunday INTEGER NOT NULL
);

CREATE TABLE calendar_dates (
    service_id TEXT NOT NULL,
    date TEXT NOT NULL,
    exception_type INTEGER NOT NULL
);`

// BuildSnapshot writes an indexed snapshot file at path, standing in
// for the external ingestion tool. Each statement populates the
// schema above.
func BuildSnapshot(t testing.TB, path string, inserts []string) string {
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(SnapshotSchema)
	require.NoError(t, err)

	for _, stmt := range inserts {
		_, err = db.Exec(stmt)
		require.NoError(t, err)
	}

	return path
}

// TripUpdate describes one trip's predictions for BuildTripUpdates.
type TripUpdate struct {
	TripID   string
	RouteID  string
	Canceled bool
	Stops    []StopPrediction
}

type StopPrediction struct {
	StopID  string
	Arrival int64
}

// BuildTripUpdates serializes a trip-update feed message.
func BuildTripUpdates(t testing.TB, timestamp uint64, updates []TripUpdate) []byte {
	version := "2.0"
	incrementality := gtfsproto.FeedHeader_FULL_DATASET

	feed := &gtfsproto.FeedMessage{
		Header: &gtfsproto.FeedHeader{
			GtfsRealtimeVersion: &version,
			Incrementality:      &incrementality,
			Timestamp:           &timestamp,
		},
	}

	for i, u := range updates {
		u := u
		id := string(rune('a' + i))
		tu := &gtfsproto.TripUpdate{
			Trip: &gtfsproto.TripDescriptor{
				TripId: &u.TripID,
			},
		}
		if u.RouteID != "" {
			tu.Trip.RouteId = &u.RouteID
		}
		if u.Canceled {
			rel := gtfsproto.TripDescriptor_CANCELED
			tu.Trip.ScheduleRelationship = &rel
		}
		for _, s := range u.Stops {
			s := s
			tu.StopTimeUpdate = append(tu.StopTimeUpdate, &gtfsproto.TripUpdate_StopTimeUpdate{
				StopId: &s.StopID,
				Arrival: &gtfsproto.TripUpdate_StopTimeEvent{
					Time: &s.Arrival,
				},
			})
		}
		feed.Entity = append(feed.Entity, &gtfsproto.FeedEntity{
			Id:         &id,
			TripUpdate: tu,
		})
	}

	data, err := proto.Marshal(feed)
	require.NoError(t, err)

	return data
}

// BuildAlerts serializes a service-alert feed message.
func BuildAlerts(t testing.TB, headers []string) []byte {
	version := "2.0"
	feed := &gtfsproto.FeedMessage{
		Header: &gtfsproto.FeedHeader{
			GtfsRealtimeVersion: &version,
		},
	}

	for i, h := range headers {
		h := h
		id := string(rune('a' + i))
		lang := "en"
		feed.Entity = append(feed.Entity, &gtfsproto.FeedEntity{
			Id: &id,
			Alert: &gtfsproto.Alert{
				HeaderText: &gtfsproto.TranslatedString{
					Translation: []*gtfsproto.TranslatedString_Translation{
						{Text: &h, Language: &lang},
					},
				},
			},
		})
	}

	data, err := proto.Marshal(feed)
	require.NoError(t, err)

	return data
}

package parse

import (
	"fmt"

	gtfsproto "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"github.com/AmanAhmed2002/TTCFareSite/model"
)

// A live prediction for one stop on one trip. Times are unix epoch
// seconds; zero means the feed provided none.
type StopPrediction struct {
	StopID    string
	Arrival   int64
	Departure int64
}

// Time returns the prediction to use for an arrival board: the
// arrival when present, else the departure.
func (p StopPrediction) Time() int64 {
	if p.Arrival != 0 {
		return p.Arrival
	}
	return p.Departure
}

type TripUpdate struct {
	TripID      string
	RouteID     string
	Predictions []StopPrediction
}

// Key data from a decoded trip-update feed message.
type Feed struct {
	Timestamp uint64
	Updates   []*TripUpdate

	// Canceled trips carry no usable predictions.
	CanceledTrips map[string]bool
}

// Realtime decodes a binary trip-update feed message.
func Realtime(data []byte) (*Feed, error) {
	f := &gtfsproto.FeedMessage{}
	if err := proto.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("unmarshaling protobuf: %w", err)
	}

	feed := &Feed{
		Timestamp:     f.GetHeader().GetTimestamp(),
		CanceledTrips: map[string]bool{},
	}

	for _, entity := range f.GetEntity() {
		tu := entity.GetTripUpdate()
		if tu == nil {
			continue
		}

		trip := tu.GetTrip()
		if trip.GetTripId() == "" {
			// Trips identified only by (route, direction, start
			// time) are not supported.
			continue
		}

		if trip.GetScheduleRelationship() == gtfsproto.TripDescriptor_CANCELED {
			feed.CanceledTrips[trip.GetTripId()] = true
			continue
		}

		update := &TripUpdate{
			TripID:  trip.GetTripId(),
			RouteID: trip.GetRouteId(),
		}

		for _, stu := range tu.GetStopTimeUpdate() {
			if stu.GetScheduleRelationship() == gtfsproto.TripUpdate_StopTimeUpdate_SKIPPED {
				continue
			}
			pred := StopPrediction{
				StopID:    stu.GetStopId(),
				Arrival:   stu.GetArrival().GetTime(),
				Departure: stu.GetDeparture().GetTime(),
			}
			if pred.StopID == "" || pred.Time() == 0 {
				continue
			}
			update.Predictions = append(update.Predictions, pred)
		}

		feed.Updates = append(feed.Updates, update)
	}

	return feed, nil
}

// Alerts decodes a binary service-alert feed message, keeping the
// first translation of each alert's header and description.
func Alerts(data []byte) ([]model.Alert, error) {
	f := &gtfsproto.FeedMessage{}
	if err := proto.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("unmarshaling protobuf: %w", err)
	}

	alerts := []model.Alert{}
	for _, entity := range f.GetEntity() {
		a := entity.GetAlert()
		if a == nil {
			continue
		}
		alerts = append(alerts, model.Alert{
			Header:      firstTranslation(a.GetHeaderText()),
			Description: firstTranslation(a.GetDescriptionText()),
		})
	}

	return alerts, nil
}

func firstTranslation(ts *gtfsproto.TranslatedString) string {
	for _, t := range ts.GetTranslation() {
		if t.GetText() != "" {
			return t.GetText()
		}
	}
	return ""
}
